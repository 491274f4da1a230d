// Vigilo - AI-Assisted Insider Threat Detection for Google Workspace
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigilo

package models

import (
	"testing"
	"time"
)

func TestParseReconAction(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input    string
		expected ReconAction
	}{
		{"ask_about_this_file", ReconAskAboutFile},
		{"summarize_file", ReconSummarizeFile},
		{"analyze_documents", ReconAnalyzeDocuments},
		{"catch_me_up", ReconCatchMeUp},
		{"report_unspecified_files", ReconReportFiles},
		{"help_me_write", ReconHelpMeWrite},
		{"proofread", ReconProofread},
		{"search_web", ReconSearchWeb},
		{"SUMMARIZE_FILE", ReconSummarizeFile},
		{"  catch_me_up  ", ReconCatchMeUp},
		{"generate_image", ReconUnknown},
		{"", ReconUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseReconAction(tt.input); got != tt.expected {
				t.Errorf("ParseReconAction(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestReconActionFileAgnostic(t *testing.T) {
	t.Parallel()

	agnostic := []ReconAction{ReconCatchMeUp, ReconReportFiles, ReconSearchWeb}
	for _, a := range agnostic {
		if !a.FileAgnostic() {
			t.Errorf("%s should be file-agnostic", a)
		}
	}

	fileBound := []ReconAction{ReconAskAboutFile, ReconSummarizeFile, ReconAnalyzeDocuments, ReconHelpMeWrite, ReconProofread}
	for _, a := range fileBound {
		if a.FileAgnostic() {
			t.Errorf("%s should not be file-agnostic", a)
		}
	}
}

func TestParseExfilType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input    string
		expected ExfilType
	}{
		{"change_visibility", ExfilChangeVisibility},
		{"change_acl", ExfilChangeACL},
		{"download", ExfilDownload},
		{"export", ExfilExport},
		{"copy", ExfilCopy},
		{"add_to_folder", ExfilAddToFolder},
		{"DOWNLOAD", ExfilDownload},
		{"rename", ExfilUnknown},
		{"", ExfilUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseExfilType(tt.input); got != tt.expected {
				t.Errorf("ParseExfilType(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestVisibilityIsExternal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		visibility Visibility
		external   bool
	}{
		{VisibilityPrivate, false},
		{VisibilityDomain, false},
		{VisibilityPeopleWithLink, true},
		{VisibilityPublicOnTheWeb, true},
		{VisibilitySharedExternally, true},
		{VisibilityUnknown, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.visibility), func(t *testing.T) {
			if got := tt.visibility.IsExternal(); got != tt.external {
				t.Errorf("%s.IsExternal() = %v, want %v", tt.visibility, got, tt.external)
			}
		})
	}
}

func TestDestinationDomain(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		dest     string
		expected string
	}{
		{"email address", "bob@rival.com", "rival.com"},
		{"bare domain", "rival.com", "rival.com"},
		{"uppercase", "Bob@Rival.COM", "rival.com"},
		{"empty", "", ""},
		{"whitespace", "  ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &ExfilEvent{DestinationACL: tt.dest}
			if got := e.DestinationDomain(); got != tt.expected {
				t.Errorf("DestinationDomain() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestDestinationExternal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		actor    string
		dest     string
		external bool
	}{
		{"external grantee", "u@x.com", "bob@rival.com", true},
		{"internal grantee", "u@x.com", "alice@x.com", false},
		{"no destination", "u@x.com", "", false},
		{"bare external domain", "u@x.com", "rival.com", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &ExfilEvent{Actor: tt.actor, DestinationACL: tt.dest}
			if got := e.DestinationExternal(); got != tt.external {
				t.Errorf("DestinationExternal() = %v, want %v", got, tt.external)
			}
		})
	}
}

func TestExternalReach(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		event ExfilEvent
		reach bool
	}{
		{"download", ExfilEvent{EventType: ExfilDownload}, true},
		{"export", ExfilEvent{EventType: ExfilExport}, true},
		{"visibility to link", ExfilEvent{EventType: ExfilChangeVisibility, Visibility: VisibilityPeopleWithLink}, true},
		{"visibility to private", ExfilEvent{EventType: ExfilChangeVisibility, Visibility: VisibilityPrivate}, false},
		{"acl external", ExfilEvent{EventType: ExfilChangeACL, Actor: "u@x.com", DestinationACL: "bob@rival.com"}, true},
		{"acl internal", ExfilEvent{EventType: ExfilChangeACL, Actor: "u@x.com", DestinationACL: "alice@x.com"}, false},
		{"copy", ExfilEvent{EventType: ExfilCopy}, false},
		{"folder move", ExfilEvent{EventType: ExfilAddToFolder}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.event.ExternalReach(); got != tt.reach {
				t.Errorf("ExternalReach() = %v, want %v", got, tt.reach)
			}
		})
	}
}

func TestIsShare(t *testing.T) {
	t.Parallel()

	shares := []ExfilType{ExfilChangeVisibility, ExfilChangeACL}
	for _, et := range shares {
		e := &ExfilEvent{EventType: et}
		if !e.IsShare() {
			t.Errorf("%s should count as a share", et)
		}
	}

	movements := []ExfilType{ExfilDownload, ExfilExport, ExfilCopy, ExfilAddToFolder}
	for _, et := range movements {
		e := &ExfilEvent{EventType: et}
		if e.IsShare() {
			t.Errorf("%s should not count as a share", et)
		}
	}
}

func TestEventTimestampsAreUTC(t *testing.T) {
	t.Parallel()

	ts := time.Date(2025, 1, 15, 14, 18, 12, 0, time.UTC)
	r := ReconEvent{EventID: "r1", Actor: "u@x.com", Action: ReconSummarizeFile, Timestamp: ts}

	if !r.Timestamp.Equal(ts) {
		t.Errorf("timestamp mismatch: %v", r.Timestamp)
	}
}
