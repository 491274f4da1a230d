// Vigilo - AI-Assisted Insider Threat Detection for Google Workspace
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigilo

package report

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/vigilo/internal/models"
)

func ptrFloat(v float64) *float64 { return &v }

func immediateFinding() models.Finding {
	return models.Finding{
		Severity: models.SeverityHigh,
		Actor:    "u@x.com",
		Exfil: models.ExfilEvent{
			EventID:    "E1",
			Actor:      "u@x.com",
			EventType:  models.ExfilChangeVisibility,
			DocID:      "D1",
			DocTitle:   "Q3 Roadmap",
			Visibility: models.VisibilityPeopleWithLink,
			Timestamp:  time.Date(2025, 1, 15, 14, 23, 45, 0, time.UTC),
		},
		Recon: &models.ReconEvent{
			EventID:   "R1",
			Actor:     "u@x.com",
			Action:    models.ReconSummarizeFile,
			DocID:     "D1",
			Timestamp: time.Date(2025, 1, 15, 14, 18, 12, 0, time.UTC),
		},
		DeltaMinutes: ptrFloat(5.55),
		ReconScore:   2.0,
		FileContext: models.FileContext{
			DocID:       "D1",
			Owner:       "owner@x.com",
			Labels:      []string{"confidential"},
			Sensitivity: models.SensitivityHigh,
		},
		Intent: models.IntentAnalysis{
			Intent:     models.IntentSuspicious,
			Confidence: 0.4,
			Reasons: []string{
				"first-time share with rival.com",
				"sharing someone else's file",
			},
			DestinationDomain: "rival.com",
		},
		Reason: "External share within 10min of recon",
	}
}

func delayedFinding() models.Finding {
	return models.Finding{
		Severity: models.SeverityMedium,
		Actor:    "m@x.com",
		Exfil: models.ExfilEvent{
			EventID:   "E9",
			Actor:     "m@x.com",
			EventType: models.ExfilDownload,
			DocID:     "D9",
			Timestamp: time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC),
		},
		ReconScore: 6.3,
		FileContext: models.FileContext{
			DocID:       "D9",
			Sensitivity: models.SensitivityUnknown,
			Labels:      []string{},
		},
		Intent: models.IntentAnalysis{
			Intent:     models.IntentBenign,
			Confidence: 0.2,
			Reasons:    []string{"off-hours activity"},
		},
		Reason: "Delayed exfil after cumulative recon (score=6.3)",
	}
}

func TestFixed2Rendering(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   float64
		want string
	}{
		{"zero", 0, "0.00"},
		{"two_places", 5.55, "5.55"},
		{"pads_trailing", 6.3, "6.30"},
		{"truncates_not_rounds", 12.349, "12.34"},
		{"never_rounds_up", 9.999, "9.99"},
		{"float_noise", 0.1 + 0.2, "0.30"},
		{"integer", 15, "15.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := json.Marshal(fixed2(tt.in))
			if err != nil {
				t.Fatalf("Marshal(%v) error: %v", tt.in, err)
			}
			if string(got) != tt.want {
				t.Errorf("Marshal(%v) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestZonedTimeOffsets(t *testing.T) {
	t.Parallel()

	ts := time.Date(2025, 1, 15, 14, 23, 45, 0, time.UTC)

	tests := []struct {
		name string
		loc  *time.Location
		want string
	}{
		{"utc_renders_offset_not_z", time.UTC, `"2025-01-15T14:23:45+00:00"`},
		{"negative_offset", time.FixedZone("UTC-5", -5*3600), `"2025-01-15T09:23:45-05:00"`},
		{"positive_offset", time.FixedZone("UTC+2", 2*3600), `"2025-01-15T16:23:45+02:00"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := json.Marshal(zonedTime{t: ts, loc: tt.loc})
			if err != nil {
				t.Fatalf("Marshal error: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("Marshal = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestRenderImmediateGolden(t *testing.T) {
	t.Parallel()

	got, err := Render([]models.Finding{immediateFinding()}, time.UTC)
	if err != nil {
		t.Fatalf("Render error: %v", err)
	}

	want := `[
  {
    "severity": "high",
    "actor": "u@x.com",
    "exfil_event": "change_visibility",
    "exfil_time": "2025-01-15T14:23:45+00:00",
    "doc_id": "D1",
    "doc_title": "Q3 Roadmap",
    "recon_action": "summarize_file",
    "recon_time": "2025-01-15T14:18:12+00:00",
    "delta_minutes": 5.55,
    "visibility": "people_with_link",
    "reason": "External share within 10min of recon",
    "event_ids": {
      "recon": "R1",
      "exfil": "E1"
    },
    "recon_score": 2.00,
    "file_context": {
      "sensitivity": "high",
      "labels": [
        "confidential"
      ],
      "owner": "owner@x.com",
      "shared_externally_before": false
    },
    "intent_analysis": {
      "intent": "suspicious",
      "confidence": 0.40,
      "reasons": [
        "first-time share with rival.com",
        "sharing someone else's file"
      ],
      "should_suppress": false,
      "destination_domain": "rival.com"
    }
  }
]`

	if string(got) != want {
		t.Errorf("Render mismatch\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestRenderDelayedNulls(t *testing.T) {
	t.Parallel()

	got, err := Render([]models.Finding{delayedFinding()}, time.UTC)
	if err != nil {
		t.Fatalf("Render error: %v", err)
	}

	for _, want := range []string{
		`"recon_action": null`,
		`"recon_time": null`,
		`"delta_minutes": null`,
		`"recon": null`,
		`"destination_domain": null`,
		`"recon_score": 6.30`,
		`"exfil": "E9"`,
	} {
		if !bytes.Contains(got, []byte(want)) {
			t.Errorf("Render output missing %s\ngot:\n%s", want, got)
		}
	}
}

func TestRenderEmptyArray(t *testing.T) {
	t.Parallel()

	got, err := Render(nil, nil)
	if err != nil {
		t.Fatalf("Render error: %v", err)
	}
	if string(got) != "[]" {
		t.Errorf("Render(nil) = %s, want []", got)
	}
}

func TestRenderNormalizesNilSlices(t *testing.T) {
	t.Parallel()

	f := immediateFinding()
	f.FileContext.Labels = nil
	f.Intent.Reasons = nil

	got, err := Render([]models.Finding{f}, time.UTC)
	if err != nil {
		t.Fatalf("Render error: %v", err)
	}

	for _, want := range []string{`"labels": []`, `"reasons": []`} {
		if !bytes.Contains(got, []byte(want)) {
			t.Errorf("Render output missing %s\ngot:\n%s", want, got)
		}
	}
	if bytes.Contains(got, []byte("null")) {
		t.Errorf("Render output contains null for an immediate finding:\n%s", got)
	}
}

func TestRenderDocTitleFallsBackToContext(t *testing.T) {
	t.Parallel()

	f := immediateFinding()
	f.Exfil.DocTitle = ""
	f.FileContext.Title = "Board Deck"

	got, err := Render([]models.Finding{f}, time.UTC)
	if err != nil {
		t.Fatalf("Render error: %v", err)
	}
	if !bytes.Contains(got, []byte(`"doc_title": "Board Deck"`)) {
		t.Errorf("Render output missing context title fallback:\n%s", got)
	}
}

func TestWriterRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "findings.json")
	w := NewWriter(path, time.UTC)

	findings := []models.Finding{immediateFinding(), delayedFinding()}
	if err := w.Write(context.Background(), findings); err != nil {
		t.Fatalf("Write error: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile error: %v", err)
	}
	want, err := Render(findings, time.UTC)
	if err != nil {
		t.Fatalf("Render error: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("file content differs from Render output\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestWriterAlwaysWritesArray(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "findings.json")
	w := NewWriter(path, time.UTC)

	if err := w.Write(context.Background(), nil); err != nil {
		t.Fatalf("Write error: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile error: %v", err)
	}
	if string(got) != "[]" {
		t.Errorf("empty batch wrote %s, want []", got)
	}
}

func TestWriterDumpsSiblingOnFailure(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "findings.json")
	if err := os.Mkdir(path, 0o755); err != nil {
		t.Fatalf("Mkdir error: %v", err)
	}

	w := NewWriter(path, time.UTC)
	findings := []models.Finding{immediateFinding()}

	err := w.Write(context.Background(), findings)
	if !errors.Is(err, ErrEmission) {
		t.Fatalf("Write error = %v, want ErrEmission", err)
	}

	sibling := filepath.Join(dir, "findings.err.json")
	got, readErr := os.ReadFile(sibling)
	if readErr != nil {
		t.Fatalf("sibling dump missing: %v", readErr)
	}
	want, renderErr := Render(findings, time.UTC)
	if renderErr != nil {
		t.Fatalf("Render error: %v", renderErr)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("sibling content differs from Render output")
	}
}

func TestSiblingErrPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"findings.json", "findings.err.json"},
		{"out", "out.err.json"},
		{"/var/run/vigilo/batch.json", "/var/run/vigilo/batch.err.json"},
	}

	for _, tt := range tests {
		if got := SiblingErrPath(tt.in); got != tt.want {
			t.Errorf("SiblingErrPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
