// Vigilo - AI-Assisted Insider Threat Detection for Google Workspace
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigilo

// Package models defines the audit event records, enrichment contexts, and
// finding types shared across the detection pipeline. Events are validated
// at the adapter boundary; everything downstream can assume the required
// fields are present.
package models

import (
	"strings"
	"time"
)

// ReconAction identifies the assistant feature behind a recon event.
// Unrecognized audit values map to ReconActionUnknown rather than failing
// ingest; unknown actions still correlate but add no recon weight.
type ReconAction string

const (
	ReconAskAboutFile     ReconAction = "ask_about_this_file"
	ReconSummarizeFile    ReconAction = "summarize_file"
	ReconAnalyzeDocuments ReconAction = "analyze_documents"
	ReconCatchMeUp        ReconAction = "catch_me_up"
	ReconReportFiles      ReconAction = "report_unspecified_files"
	ReconHelpMeWrite      ReconAction = "help_me_write"
	ReconProofread        ReconAction = "proofread"
	ReconSearchWeb        ReconAction = "search_web"
	ReconUnknown          ReconAction = "unknown"
)

// ParseReconAction maps a raw audit value to a ReconAction.
func ParseReconAction(s string) ReconAction {
	switch ReconAction(strings.ToLower(strings.TrimSpace(s))) {
	case ReconAskAboutFile:
		return ReconAskAboutFile
	case ReconSummarizeFile:
		return ReconSummarizeFile
	case ReconAnalyzeDocuments:
		return ReconAnalyzeDocuments
	case ReconCatchMeUp:
		return ReconCatchMeUp
	case ReconReportFiles:
		return ReconReportFiles
	case ReconHelpMeWrite:
		return ReconHelpMeWrite
	case ReconProofread:
		return ReconProofread
	case ReconSearchWeb:
		return ReconSearchWeb
	default:
		return ReconUnknown
	}
}

// FileAgnostic reports whether the action operates on the actor's broad
// context rather than a specific document. File-agnostic recon matches any
// subsequent exfil by the same actor within the window.
func (a ReconAction) FileAgnostic() bool {
	switch a {
	case ReconCatchMeUp, ReconReportFiles, ReconSearchWeb:
		return true
	default:
		return false
	}
}

// ExfilType identifies the file-service operation behind an exfil event.
type ExfilType string

const (
	ExfilChangeVisibility ExfilType = "change_visibility"
	ExfilChangeACL        ExfilType = "change_acl"
	ExfilDownload         ExfilType = "download"
	ExfilExport           ExfilType = "export"
	ExfilCopy             ExfilType = "copy"
	ExfilAddToFolder      ExfilType = "add_to_folder"
	ExfilUnknown          ExfilType = "unknown"
)

// ParseExfilType maps a raw audit value to an ExfilType.
func ParseExfilType(s string) ExfilType {
	switch ExfilType(strings.ToLower(strings.TrimSpace(s))) {
	case ExfilChangeVisibility:
		return ExfilChangeVisibility
	case ExfilChangeACL:
		return ExfilChangeACL
	case ExfilDownload:
		return ExfilDownload
	case ExfilExport:
		return ExfilExport
	case ExfilCopy:
		return ExfilCopy
	case ExfilAddToFolder:
		return ExfilAddToFolder
	default:
		return ExfilUnknown
	}
}

// Visibility is a file's sharing state as reported by the file service.
type Visibility string

const (
	VisibilityPrivate          Visibility = "private"
	VisibilityDomain           Visibility = "domain"
	VisibilityPeopleWithLink   Visibility = "people_with_link"
	VisibilityPublicOnTheWeb   Visibility = "public_on_the_web"
	VisibilitySharedExternally Visibility = "shared_externally"
	VisibilityUnknown          Visibility = "unknown"
)

// ParseVisibility maps a raw audit value to a Visibility.
func ParseVisibility(s string) Visibility {
	switch Visibility(strings.ToLower(strings.TrimSpace(s))) {
	case VisibilityPrivate:
		return VisibilityPrivate
	case VisibilityDomain:
		return VisibilityDomain
	case VisibilityPeopleWithLink:
		return VisibilityPeopleWithLink
	case VisibilityPublicOnTheWeb:
		return VisibilityPublicOnTheWeb
	case VisibilitySharedExternally:
		return VisibilitySharedExternally
	case "":
		return ""
	default:
		return VisibilityUnknown
	}
}

// IsExternal reports whether the visibility makes the file reachable from
// outside the tenant.
func (v Visibility) IsExternal() bool {
	switch v {
	case VisibilityPeopleWithLink, VisibilityPublicOnTheWeb, VisibilitySharedExternally:
		return true
	default:
		return false
	}
}

// ReconEvent is a single LLM-assistant audit record.
type ReconEvent struct {
	EventID   string      `json:"event_id" validate:"required"`
	Actor     string      `json:"actor" validate:"required"`
	Action    ReconAction `json:"action"`
	App       string      `json:"app,omitempty"` // docs, drive, sheets, slides, gmail, meet
	DocID     string      `json:"doc_id,omitempty"`
	Timestamp time.Time   `json:"timestamp" validate:"required"`
}

// ExfilEvent is a single file-service audit record that changes a file's
// reachability: visibility or ACL changes, downloads, exports, copies, and
// folder moves.
type ExfilEvent struct {
	EventID             string     `json:"event_id" validate:"required"`
	Actor               string     `json:"actor" validate:"required"`
	EventType           ExfilType  `json:"event_type"`
	DocID               string     `json:"doc_id,omitempty"`
	DocTitle            string     `json:"doc_title,omitempty"`
	Owner               string     `json:"owner,omitempty"`
	Visibility          Visibility `json:"visibility,omitempty"`
	NewValue            string     `json:"new_value,omitempty"`
	OldValue            string     `json:"old_value,omitempty"`
	DestinationACL      string     `json:"destination_acl,omitempty"` // grantee email or bare domain
	DestinationFolderID string     `json:"destination_folder_id,omitempty"`
	IPAddress           string     `json:"ip_address,omitempty"`
	Timestamp           time.Time  `json:"timestamp" validate:"required"`

	// IsRevert marks an external visibility change that was undone within
	// the revert window, and the change that undid it. Set during batch
	// preprocessing, never by adapters.
	IsRevert bool `json:"-"`
}

// DestinationDomain extracts the domain of the share grantee.
// Accepts either a full address ("bob@rival.com") or a bare domain
// ("rival.com"). Returns empty when the event has no destination.
func (e *ExfilEvent) DestinationDomain() string {
	dest := strings.ToLower(strings.TrimSpace(e.DestinationACL))
	if dest == "" {
		return ""
	}
	if at := strings.LastIndex(dest, "@"); at >= 0 {
		return dest[at+1:]
	}
	return dest
}

// ActorDomain extracts the domain of the acting user.
func (e *ExfilEvent) ActorDomain() string {
	actor := strings.ToLower(strings.TrimSpace(e.Actor))
	if at := strings.LastIndex(actor, "@"); at >= 0 {
		return actor[at+1:]
	}
	return ""
}

// DestinationExternal reports whether the event grants access to a
// principal outside the actor's own domain.
func (e *ExfilEvent) DestinationExternal() bool {
	dest := e.DestinationDomain()
	return dest != "" && dest != e.ActorDomain()
}

// ExternalReach reports whether the event makes the file reachable outside
// the actor's sole control: an external visibility change, an ACL grant to
// an external principal, an export, or a download.
func (e *ExfilEvent) ExternalReach() bool {
	switch e.EventType {
	case ExfilDownload, ExfilExport:
		return true
	case ExfilChangeVisibility:
		return e.Visibility.IsExternal()
	case ExfilChangeACL:
		return e.DestinationExternal()
	default:
		return false
	}
}

// IsShare reports whether the event is a sharing operation for baseline
// accounting. Downloads, exports, copies, and folder moves are movement,
// not shares.
func (e *ExfilEvent) IsShare() bool {
	return e.EventType == ExfilChangeVisibility || e.EventType == ExfilChangeACL
}
