// Vigilo - AI-Assisted Insider Threat Detection for Google Workspace
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigilo

package filecontext

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	admin "google.golang.org/api/admin/directory/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/tomtom215/vigilo/internal/cache"
	"github.com/tomtom215/vigilo/internal/config"
	"github.com/tomtom215/vigilo/internal/googleauth"
	"github.com/tomtom215/vigilo/internal/logging"
	"github.com/tomtom215/vigilo/internal/metrics"
)

// OrgResolver maps an actor to their organizational unit path.
// An empty path means unknown; severity overrides keyed on OU simply
// do not apply then.
type OrgResolver interface {
	OrgUnit(ctx context.Context, actor string) string
}

// StaticOrgResolver serves OU paths from the org_units config map.
// Keys are exact actor emails, with "@domain" entries as a per-domain
// fallback for actors not listed individually.
type StaticOrgResolver struct {
	units map[string]string
}

// NewStaticOrgResolver creates a resolver over the configured map.
func NewStaticOrgResolver(units map[string]string) *StaticOrgResolver {
	normalized := make(map[string]string, len(units))
	for k, v := range units {
		normalized[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return &StaticOrgResolver{units: normalized}
}

// OrgUnit returns the configured OU path for actor, or "".
func (r *StaticOrgResolver) OrgUnit(_ context.Context, actor string) string {
	actor = strings.ToLower(strings.TrimSpace(actor))
	if ou, ok := r.units[actor]; ok {
		return ou
	}
	if dom := emailDomain(actor); dom != "" {
		if ou, ok := r.units["@"+dom]; ok {
			return ou
		}
	}
	return ""
}

// DirectoryResolver resolves OU paths through the Admin Directory API,
// caching results for the sweep. Config org_units entries override the
// directory, which lets operators pin contractors or service accounts
// whose directory records are misleading.
type DirectoryResolver struct {
	svc       *admin.Service
	overrides *StaticOrgResolver
	cache     *cache.LRU[string]
	timeout   time.Duration
}

// Directory answers are stable within a sweep; unknown users are
// remembered briefly so one bad actor field cannot hammer the API.
const (
	orgCacheSize   = 10000
	orgCacheTTL    = time.Hour
	orgNegativeTTL = 5 * time.Minute
	orgTimeout     = 5 * time.Second
)

// NewDirectoryResolver wraps an authenticated Directory service.
func NewDirectoryResolver(svc *admin.Service, overrides map[string]string) *DirectoryResolver {
	return &DirectoryResolver{
		svc:       svc,
		overrides: NewStaticOrgResolver(overrides),
		cache:     cache.NewLRU[string](orgCacheSize, orgCacheTTL),
		timeout:   orgTimeout,
	}
}

// NewDirectoryService builds an Admin Directory client from the
// configured service account with user-readonly scope.
func NewDirectoryService(ctx context.Context, cfg config.GoogleSourceConfig) (*admin.Service, error) {
	client, err := googleauth.Client(ctx, cfg.ServiceAccountFile, cfg.DelegatedUser, admin.AdminDirectoryUserReadonlyScope)
	if err != nil {
		return nil, err
	}

	svc, err := admin.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("creating directory service: %w", err)
	}
	return svc, nil
}

// OrgUnit resolves the OU path for actor. Failures degrade to "" after
// a WARN; OU-based severity overrides are an enrichment, not a
// correctness requirement.
func (r *DirectoryResolver) OrgUnit(ctx context.Context, actor string) string {
	actor = strings.ToLower(strings.TrimSpace(actor))
	if actor == "" {
		return ""
	}

	if ou := r.overrides.OrgUnit(ctx, actor); ou != "" {
		return ou
	}

	if ou, ok := r.cache.Get(actor); ok {
		metrics.RecordCacheHit("org_units")
		return ou
	}
	metrics.RecordCacheMiss("org_units")

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	user, err := r.svc.Users.Get(actor).Fields("orgUnitPath").Context(callCtx).Do()
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
			// Deleted or external account. Cache the blank so repeat
			// events for the same actor skip the API.
			r.cache.SetWithTTL(actor, "", orgNegativeTTL)
			return ""
		}
		logging.Warn().Err(err).Str("actor", actor).Msg("Directory OU lookup failed")
		return ""
	}

	r.cache.Set(actor, user.OrgUnitPath)
	return user.OrgUnitPath
}

// OUWithin reports whether ou equals one of the given org unit paths
// or sits underneath one. Both sides compare case-insensitively and
// "/Executives" covers "/Executives/Assistants" but not "/ExecutivesX".
func OUWithin(ou string, prefixes []string) bool {
	if ou == "" || len(prefixes) == 0 {
		return false
	}
	ou = strings.ToLower(strings.TrimRight(ou, "/"))
	for _, p := range prefixes {
		p = strings.ToLower(strings.TrimRight(p, "/"))
		if p == "" {
			continue
		}
		if ou == p || strings.HasPrefix(ou, p+"/") {
			return true
		}
	}
	return false
}
