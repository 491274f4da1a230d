// Vigilo - AI-Assisted Insider Threat Detection for Google Workspace
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigilo

// Package report serializes findings into their stable wire form and writes
// them to the configured destination. Serialization is deterministic: key
// order is fixed by struct field order, timestamps carry the configured
// zone's offset, and delta_minutes and recon_score are truncated to two
// decimals. Replaying the same batch yields byte-identical output.
package report

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/vigilo/internal/logging"
	"github.com/tomtom215/vigilo/internal/metrics"
	"github.com/tomtom215/vigilo/internal/models"
)

// ErrEmission marks a findings write that failed after its retry. The
// findings themselves are preserved in a sibling error file when possible.
var ErrEmission = errors.New("emission failed")

// timeLayout renders timestamps with an explicit zone offset. UTC renders
// as +00:00, never Z, so output bytes are uniform across zones.
const timeLayout = "2006-01-02T15:04:05-07:00"

// emissionRetryDelay is the pause before the single write retry.
const emissionRetryDelay = 200 * time.Millisecond

// fixed2 is a float rendered truncated (not rounded) to two decimals,
// always with both decimal places: 0 renders as 0.00, 6.3 as 6.30.
type fixed2 float64

// MarshalJSON implements json.Marshaler.
func (v fixed2) MarshalJSON() ([]byte, error) {
	t := math.Trunc(float64(v)*100) / 100
	return []byte(strconv.FormatFloat(t, 'f', 2, 64)), nil
}

// zonedTime renders a timestamp in the report's configured zone.
type zonedTime struct {
	t   time.Time
	loc *time.Location
}

// MarshalJSON implements json.Marshaler.
func (z zonedTime) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(z.t.In(z.loc).Format(timeLayout))), nil
}

// EventIDs links a finding back to its source audit records. Recon is null
// for delayed findings.
type EventIDs struct {
	Recon *string `json:"recon"`
	Exfil string  `json:"exfil"`
}

// FileContextRecord is the enrichment subset carried on the wire.
type FileContextRecord struct {
	Sensitivity            models.Sensitivity `json:"sensitivity"`
	Labels                 []string           `json:"labels"`
	Owner                  string             `json:"owner"`
	SharedExternallyBefore bool               `json:"shared_externally_before"`
}

// IntentRecord is the classifier verdict as rendered on the wire.
type IntentRecord struct {
	Intent            models.Intent `json:"intent"`
	Confidence        fixed2        `json:"confidence"`
	Reasons           []string      `json:"reasons"`
	ShouldSuppress    bool          `json:"should_suppress"`
	DestinationDomain *string       `json:"destination_domain"`
}

// Record is the stable serialized form of one finding. Field order fixes
// the JSON key order; do not reorder fields.
type Record struct {
	Severity     models.Severity     `json:"severity"`
	Actor        string              `json:"actor"`
	ExfilEvent   models.ExfilType    `json:"exfil_event"`
	ExfilTime    zonedTime           `json:"exfil_time"`
	DocID        string              `json:"doc_id"`
	DocTitle     string              `json:"doc_title"`
	ReconAction  *models.ReconAction `json:"recon_action"`
	ReconTime    *zonedTime          `json:"recon_time"`
	DeltaMinutes *fixed2             `json:"delta_minutes"`
	Visibility   models.Visibility   `json:"visibility"`
	Reason       string              `json:"reason"`
	EventIDs     EventIDs            `json:"event_ids"`
	ReconScore   fixed2              `json:"recon_score"`
	FileContext  FileContextRecord   `json:"file_context"`
	Intent       IntentRecord        `json:"intent_analysis"`
}

// NewRecord converts a finding into its wire form. Delayed findings render
// null recon_action, recon_time, delta_minutes, and event_ids.recon.
func NewRecord(f *models.Finding, loc *time.Location) Record {
	rec := Record{
		Severity:   f.Severity,
		Actor:      f.Actor,
		ExfilEvent: f.Exfil.EventType,
		ExfilTime:  zonedTime{t: f.Exfil.Timestamp, loc: loc},
		DocID:      f.Exfil.DocID,
		DocTitle:   f.DocTitle(),
		Visibility: f.Exfil.Visibility,
		Reason:     f.Reason,
		EventIDs:   EventIDs{Exfil: f.Exfil.EventID},
		ReconScore: fixed2(f.ReconScore),
		FileContext: FileContextRecord{
			Sensitivity:            f.FileContext.Sensitivity,
			Labels:                 nonNil(f.FileContext.Labels),
			Owner:                  f.FileContext.Owner,
			SharedExternallyBefore: f.FileContext.SharedExternallyBefore,
		},
		Intent: IntentRecord{
			Intent:         f.Intent.Intent,
			Confidence:     fixed2(f.Intent.Confidence),
			Reasons:        nonNil(f.Intent.Reasons),
			ShouldSuppress: f.Intent.ShouldSuppress,
		},
	}

	if f.Recon != nil {
		action := f.Recon.Action
		rec.ReconAction = &action
		rec.ReconTime = &zonedTime{t: f.Recon.Timestamp, loc: loc}
		rec.EventIDs.Recon = &f.Recon.EventID
	}
	if f.DeltaMinutes != nil {
		delta := fixed2(*f.DeltaMinutes)
		rec.DeltaMinutes = &delta
	}
	if d := f.Intent.DestinationDomain; d != "" {
		rec.Intent.DestinationDomain = &d
	}

	return rec
}

// Render serializes findings as an indented JSON array. An empty batch
// renders as [], never null.
func Render(findings []models.Finding, loc *time.Location) ([]byte, error) {
	if loc == nil {
		loc = time.UTC
	}
	records := make([]Record, 0, len(findings))
	for i := range findings {
		records = append(records, NewRecord(&findings[i], loc))
	}
	return json.MarshalIndent(records, "", "  ")
}

// Writer emits rendered findings to a file path, or to stdout when the
// path is empty or "-".
type Writer struct {
	path string
	loc  *time.Location
}

// NewWriter returns a Writer targeting path, rendering timestamps in loc.
// A nil loc falls back to UTC.
func NewWriter(path string, loc *time.Location) *Writer {
	if loc == nil {
		loc = time.UTC
	}
	return &Writer{path: path, loc: loc}
}

// Write renders the findings and emits them. A findings array is always
// written, even when empty. File writes are retried once; if the retry
// also fails the rendered findings are dumped to a sibling .err.json file
// and ErrEmission is returned.
func (w *Writer) Write(ctx context.Context, findings []models.Finding) error {
	data, err := Render(findings, w.loc)
	if err != nil {
		metrics.RecordReportFailure()
		return fmt.Errorf("%w: render: %v", ErrEmission, err)
	}

	if w.path == "" || w.path == "-" {
		if _, err := os.Stdout.Write(append(data, '\n')); err != nil {
			metrics.RecordReportFailure()
			return fmt.Errorf("%w: stdout: %v", ErrEmission, err)
		}
		metrics.RecordReportEmission(len(findings))
		return nil
	}

	if err := os.WriteFile(w.path, data, 0o600); err != nil {
		metrics.RecordReportRetry()
		logging.CtxWarn(ctx).
			Err(err).
			Str("path", w.path).
			Msg("Findings write failed, retrying")

		select {
		case <-time.After(emissionRetryDelay):
		case <-ctx.Done():
		}

		if err := os.WriteFile(w.path, data, 0o600); err != nil {
			w.dumpSibling(ctx, data)
			metrics.RecordReportFailure()
			return fmt.Errorf("%w: write %s: %v", ErrEmission, w.path, err)
		}
	}

	logging.CtxInfo(ctx).
		Str("path", w.path).
		Int("findings", len(findings)).
		Msg("Findings written")
	metrics.RecordReportEmission(len(findings))
	return nil
}

// Path returns the writer's target path.
func (w *Writer) Path() string {
	return w.path
}

// dumpSibling writes the rendered findings next to the intended output so
// a failed emission never loses them. Best effort.
func (w *Writer) dumpSibling(ctx context.Context, data []byte) {
	sibling := SiblingErrPath(w.path)
	if err := os.WriteFile(sibling, data, 0o600); err != nil {
		logging.CtxWarn(ctx).
			Err(err).
			Str("path", sibling).
			Msg("Sibling error dump failed, findings lost")
		return
	}
	logging.CtxWarn(ctx).
		Str("path", sibling).
		Msg("Findings dumped to sibling error file")
}

// SiblingErrPath derives the error-dump path for an output path:
// findings.json becomes findings.err.json.
func SiblingErrPath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ".err.json"
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
