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

	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/tomtom215/vigilo/internal/config"
	"github.com/tomtom215/vigilo/internal/googleauth"
	"github.com/tomtom215/vigilo/internal/models"
)

// driveFields restricts files.get to the metadata the detector needs,
// so enrichment stays at one call per document.
const driveFields = "name, owners(emailAddress), parents, labelInfo(labels(id)), permissions(type, emailAddress, domain)"

// DriveSource fetches document metadata from the Drive API.
//
// Permissions come back inline for My Drive files only; on shared
// drives the list is empty and prior-share knowledge falls back to the
// actor baseline.
type DriveSource struct {
	svc        *drive.Service
	homeDomain string
}

// NewDriveSource wraps an authenticated Drive service. homeDomain is
// the primary Workspace domain; permissions held outside it mark the
// document as previously shared externally.
func NewDriveSource(svc *drive.Service, homeDomain string) *DriveSource {
	return &DriveSource{svc: svc, homeDomain: strings.ToLower(homeDomain)}
}

// NewDriveService builds a Drive client from the configured service
// account, delegated to the admin user with metadata-readonly scope.
func NewDriveService(ctx context.Context, cfg config.GoogleSourceConfig) (*drive.Service, error) {
	client, err := googleauth.Client(ctx, cfg.ServiceAccountFile, cfg.DelegatedUser, drive.DriveMetadataReadonlyScope)
	if err != nil {
		return nil, err
	}

	svc, err := drive.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("creating drive service: %w", err)
	}
	return svc, nil
}

func (s *DriveSource) Name() string { return "drive" }

// Fetch retrieves metadata for docID. Deleted or inaccessible documents
// map to ErrNotFound; everything else is a transient failure.
func (s *DriveSource) Fetch(ctx context.Context, docID string) (models.FileContext, error) {
	f, err := s.svc.Files.Get(docID).
		SupportsAllDrives(true).
		Fields(driveFields).
		Context(ctx).
		Do()
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
			return models.FileContext{}, fmt.Errorf("%w: %s", ErrNotFound, docID)
		}
		return models.FileContext{}, fmt.Errorf("drive files.get %s: %w", docID, err)
	}

	fc := models.FileContext{
		DocID:  docID,
		Title:  f.Name,
		Labels: []string{},
	}
	if len(f.Owners) > 0 {
		fc.Owner = strings.ToLower(f.Owners[0].EmailAddress)
	}
	if len(f.Parents) > 0 {
		fc.ParentFolderID = f.Parents[0]
	}
	if f.LabelInfo != nil {
		for _, l := range f.LabelInfo.Labels {
			fc.Labels = append(fc.Labels, l.Id)
		}
	}

	s.mapPermissions(f.Permissions, &fc)
	return fc, nil
}

// mapPermissions marks the document externally shared when any grant
// reaches outside the home domain, and records which domains.
func (s *DriveSource) mapPermissions(perms []*drive.Permission, fc *models.FileContext) {
	seen := make(map[string]bool)
	for _, perm := range perms {
		if perm == nil {
			continue
		}
		switch perm.Type {
		case "anyone":
			// Link access has external reach but no nameable domain.
			fc.SharedExternallyBefore = true
		case "domain":
			dom := strings.ToLower(perm.Domain)
			if dom != "" && dom != s.homeDomain {
				fc.SharedExternallyBefore = true
				if !seen[dom] {
					seen[dom] = true
					fc.ExternalDomains = append(fc.ExternalDomains, dom)
				}
			}
		case "user", "group":
			dom := emailDomain(perm.EmailAddress)
			if dom != "" && dom != s.homeDomain {
				fc.SharedExternallyBefore = true
				if !seen[dom] {
					seen[dom] = true
					fc.ExternalDomains = append(fc.ExternalDomains, dom)
				}
			}
		}
	}
}

// emailDomain extracts the lowercased domain of an email address.
func emailDomain(addr string) string {
	addr = strings.ToLower(strings.TrimSpace(addr))
	if at := strings.LastIndex(addr, "@"); at >= 0 {
		return addr[at+1:]
	}
	return ""
}
