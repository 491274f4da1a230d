// Vigilo - AI-Assisted Insider Threat Detection for Google Workspace
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigilo

package sources

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	admin "google.golang.org/api/admin/reports/v1"
	"google.golang.org/api/option"

	"github.com/tomtom215/vigilo/internal/config"
	"github.com/tomtom215/vigilo/internal/googleauth"
	"github.com/tomtom215/vigilo/internal/logging"
	"github.com/tomtom215/vigilo/internal/metrics"
	"github.com/tomtom215/vigilo/internal/models"
)

const (
	userKeyAll       = "all"
	reconApplication = "gemini_in_workspace_apps"
	reconEventName   = "feature_utilization"
	exfilApplication = "drive"
	fetchPageSize    = 500
)

// reconApps are the host apps whose assistant activity counts as recon.
// Activity from other surfaces (chat, admin console) is ignored.
var reconApps = map[string]bool{
	"docs":   true,
	"drive":  true,
	"sheets": true,
	"slides": true,
	"gmail":  true,
	"meet":   true,
}

// reconActionMap normalizes raw feature_utilization action values to the
// canonical recon actions. The audit log emits several variants per
// feature; unmapped actions are not recon.
var reconActionMap = map[string]models.ReconAction{
	"ask_about_this_file":        models.ReconAskAboutFile,
	"ask_about_context":          models.ReconAskAboutFile,
	"summarize_file":             models.ReconSummarizeFile,
	"summarize":                  models.ReconSummarizeFile,
	"summarize_long":             models.ReconSummarizeFile,
	"summarize_proactive_short":  models.ReconSummarizeFile,
	"analyze_documents":          models.ReconAnalyzeDocuments,
	"catch_me_up":                models.ReconCatchMeUp,
	"report_unspecified_files":   models.ReconReportFiles,
	"ask_about_unspecified_file": models.ReconReportFiles,
	"summarize_unspecified_file": models.ReconReportFiles,
	"help_me_write":              models.ReconHelpMeWrite,
	"proofread":                  models.ReconProofread,
	"search_web":                 models.ReconSearchWeb,
}

// exfilPatterns maps Drive audit event names to canonical exfil types by
// substring match, first hit wins. An empty type means the name is
// recognized and deliberately not ingested; remove_from_folder sits first
// so the "move" pattern cannot claim it.
var exfilPatterns = []struct {
	pattern string
	typ     models.ExfilType
}{
	{"remove_from_folder", ""},
	{"change_document_visibility", models.ExfilChangeVisibility},
	{"change_document_access_scope", models.ExfilChangeACL},
	{"change_user_access", models.ExfilChangeACL},
	{"change_visibility", models.ExfilChangeVisibility},
	{"publish_to_web", models.ExfilChangeVisibility},
	{"change_acl", models.ExfilChangeACL},
	{"transfer_ownership", models.ExfilChangeACL},
	{"download", models.ExfilDownload},
	{"export", models.ExfilExport},
	{"copy", models.ExfilCopy},
	{"add_to_folder", models.ExfilAddToFolder},
	{"move", models.ExfilAddToFolder},
}

// mapExfilEvent resolves a raw Drive event name to a canonical type.
func mapExfilEvent(name string) (models.ExfilType, bool) {
	for _, p := range exfilPatterns {
		if strings.Contains(name, p.pattern) {
			return p.typ, p.typ != ""
		}
	}
	return "", false
}

// GoogleSource reads audit activity from the Admin SDK Reports API.
type GoogleSource struct {
	svc        *admin.Service
	customerID string
}

// NewGoogleSource wraps an authenticated Reports service. customerID
// scopes queries; empty or "my_customer" selects the credential's own
// customer, which the API does by default.
func NewGoogleSource(svc *admin.Service, customerID string) *GoogleSource {
	if customerID == "my_customer" {
		customerID = ""
	}
	return &GoogleSource{svc: svc, customerID: customerID}
}

// NewReportsService builds an Admin Reports client from the configured
// service account, delegated to the admin user with audit-readonly scope.
func NewReportsService(ctx context.Context, cfg config.GoogleSourceConfig) (*admin.Service, error) {
	client, err := googleauth.Client(ctx, cfg.ServiceAccountFile, cfg.DelegatedUser, admin.AdminReportsAuditReadonlyScope)
	if err != nil {
		return nil, err
	}

	svc, err := admin.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("creating reports service: %w", err)
	}
	return svc, nil
}

// FetchRecon pages through Gemini feature_utilization activity and
// normalizes matching sub-events.
func (s *GoogleSource) FetchRecon(ctx context.Context, start, end time.Time) ([]models.ReconEvent, error) {
	began := time.Now()
	events := []models.ReconEvent{}
	pages := 0

	call := s.svc.Activities.List(userKeyAll, reconApplication).
		EventName(reconEventName).
		StartTime(start.UTC().Format(time.RFC3339)).
		EndTime(end.UTC().Format(time.RFC3339)).
		MaxResults(fetchPageSize)
	if s.customerID != "" {
		call = call.CustomerId(s.customerID)
	}

	err := call.Pages(ctx, func(resp *admin.Activities) error {
		pages++
		for _, a := range resp.Items {
			events = append(events, s.reconFromActivity(ctx, a)...)
		}
		return nil
	})
	metrics.RecordSourceFetch("recon", time.Since(began), pages, err)
	if err != nil {
		return nil, fmt.Errorf("%w: gemini activities: %v", ErrSourceUnavailable, err)
	}

	logging.CtxInfo(ctx).
		Int("events", len(events)).
		Int("pages", pages).
		Msg("Recon fetch complete")
	return events, nil
}

// FetchExfil pages through Drive audit activity and normalizes matching
// sub-events.
func (s *GoogleSource) FetchExfil(ctx context.Context, start, end time.Time) ([]models.ExfilEvent, error) {
	began := time.Now()
	events := []models.ExfilEvent{}
	pages := 0

	call := s.svc.Activities.List(userKeyAll, exfilApplication).
		StartTime(start.UTC().Format(time.RFC3339)).
		EndTime(end.UTC().Format(time.RFC3339)).
		MaxResults(fetchPageSize)
	if s.customerID != "" {
		call = call.CustomerId(s.customerID)
	}

	err := call.Pages(ctx, func(resp *admin.Activities) error {
		pages++
		for _, a := range resp.Items {
			events = append(events, s.exfilFromActivity(ctx, a)...)
		}
		return nil
	})
	metrics.RecordSourceFetch("exfil", time.Since(began), pages, err)
	if err != nil {
		return nil, fmt.Errorf("%w: drive activities: %v", ErrSourceUnavailable, err)
	}

	logging.CtxInfo(ctx).
		Int("events", len(events)).
		Int("pages", pages).
		Msg("Exfil fetch complete")
	return events, nil
}

// activityHeader extracts the fields shared by every sub-event of an
// activity record. A false return means the record cannot be attributed
// and is skipped whole.
func activityHeader(ctx context.Context, a *admin.Activity, kind string) (actor, id string, ts time.Time, ok bool) {
	if a == nil || a.Id == nil || a.Actor == nil || a.Actor.Email == "" || a.Id.UniqueQualifier == 0 {
		metrics.RecordEventSkipped(kind, "missing_fields")
		logging.CtxInfo(ctx).Str("kind", kind).Msg("Skipping activity with missing identity fields")
		return "", "", time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339, a.Id.Time)
	if err != nil {
		metrics.RecordEventSkipped(kind, "bad_timestamp")
		logging.CtxInfo(ctx).
			Str("kind", kind).
			Str("time", a.Id.Time).
			Msg("Skipping activity with unparseable timestamp")
		return "", "", time.Time{}, false
	}
	actor = strings.ToLower(strings.TrimSpace(a.Actor.Email))
	id = strconv.FormatInt(a.Id.UniqueQualifier, 10)
	return actor, id, ts.UTC(), true
}

// reconFromActivity maps one Gemini activity to zero or more recon
// events. Sub-events after the first share the activity qualifier with
// an ordinal suffix so none are lost to dedup.
func (s *GoogleSource) reconFromActivity(ctx context.Context, a *admin.Activity) []models.ReconEvent {
	actor, id, ts, ok := activityHeader(ctx, a, "recon")
	if !ok {
		return nil
	}

	var out []models.ReconEvent
	for _, ev := range a.Events {
		if ev == nil {
			continue
		}
		params := flattenParams(ev.Parameters)

		action, known := reconActionMap[strings.ToLower(params["action"])]
		if !known || !reconApps[strings.ToLower(params["app_name"])] {
			continue
		}

		docID := params["doc_id"]
		if docID == "" {
			docID = params["file_id"]
		}
		if action.FileAgnostic() {
			docID = ""
		}

		eventID := id
		if n := len(out); n > 0 {
			eventID = id + ":" + strconv.Itoa(n)
		}
		out = append(out, models.ReconEvent{
			EventID:   eventID,
			Actor:     actor,
			Action:    action,
			App:       strings.ToLower(params["app_name"]),
			DocID:     docID,
			Timestamp: ts,
		})
	}
	return out
}

// exfilFromActivity maps one Drive activity to zero or more exfil events.
func (s *GoogleSource) exfilFromActivity(ctx context.Context, a *admin.Activity) []models.ExfilEvent {
	actor, id, ts, ok := activityHeader(ctx, a, "exfil")
	if !ok {
		return nil
	}

	var out []models.ExfilEvent
	for _, ev := range a.Events {
		if ev == nil {
			continue
		}
		typ, ingest := mapExfilEvent(ev.Name)
		if !ingest {
			continue
		}
		params := flattenParams(ev.Parameters)

		docID := params["doc_id"]
		if docID == "" {
			docID = params["target_id"]
		}

		eventID := id
		if n := len(out); n > 0 {
			eventID = id + ":" + strconv.Itoa(n)
		}
		out = append(out, models.ExfilEvent{
			EventID:             eventID,
			Actor:               actor,
			EventType:           typ,
			DocID:               docID,
			DocTitle:            params["doc_title"],
			Owner:               strings.ToLower(params["owner"]),
			Visibility:          models.ParseVisibility(params["visibility"]),
			NewValue:            params["new_value"],
			OldValue:            params["old_value"],
			DestinationACL:      destinationOf(params),
			DestinationFolderID: params["destination_folder_id"],
			IPAddress:           a.IpAddress,
			Timestamp:           ts,
		})
	}
	return out
}

// destinationOf picks the share grantee out of the event parameters:
// the explicit target user or domain when the audit log carries one,
// otherwise an address-shaped new_value.
func destinationOf(params map[string]string) string {
	if v := params["target_user"]; v != "" {
		return v
	}
	if v := params["target_domain"]; v != "" {
		return v
	}
	if v := params["new_value"]; strings.Contains(v, "@") {
		return v
	}
	return ""
}

// flattenParams collapses the parameter list into name to string value,
// folding typed variants the way the audit log populates them.
func flattenParams(params []*admin.ActivityEventsParameters) map[string]string {
	out := make(map[string]string, len(params))
	for _, p := range params {
		if p == nil || p.Name == "" {
			continue
		}
		out[p.Name] = paramString(p)
	}
	return out
}

func paramString(p *admin.ActivityEventsParameters) string {
	switch {
	case p.Value != "":
		return p.Value
	case len(p.MultiValue) > 0:
		return p.MultiValue[0]
	case p.IntValue != 0:
		return strconv.FormatInt(p.IntValue, 10)
	case p.BoolValue:
		return "true"
	}
	return ""
}
