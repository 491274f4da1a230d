// Vigilo - AI-Assisted Insider Threat Detection for Google Workspace
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigilo

package models

import (
	"fmt"
	"strings"
	"time"
)

// Severity ranks a finding for triage. Steps are ordered low < medium < high.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// severityRanks orders severities for Step arithmetic and output sorting.
var severityRanks = map[Severity]int{
	SeverityLow:    0,
	SeverityMedium: 1,
	SeverityHigh:   2,
}

// ParseSeverity maps a config value to a Severity, rejecting unknowns.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := severityRanks[sev]; !ok {
		return "", fmt.Errorf("invalid severity %q", s)
	}
	return sev, nil
}

// Rank returns the ordinal position of the severity (low=0, medium=1, high=2).
func (s Severity) Rank() int {
	return severityRanks[s]
}

// Step moves the severity up by n steps, clamped to the high end.
// Negative steps move down, clamped to low.
func (s Severity) Step(n int) Severity {
	rank := severityRanks[s] + n
	switch {
	case rank >= severityRanks[SeverityHigh]:
		return SeverityHigh
	case rank <= severityRanks[SeverityLow]:
		return SeverityLow
	default:
		return SeverityMedium
	}
}

// Intent is the classifier's verdict on a candidate finding.
type Intent string

const (
	IntentMalicious  Intent = "malicious"
	IntentSuspicious Intent = "suspicious"
	IntentBenign     Intent = "benign"
)

// Sensitivity grades a file's data classification.
type Sensitivity string

const (
	SensitivityLow     Sensitivity = "low"
	SensitivityMedium  Sensitivity = "medium"
	SensitivityHigh    Sensitivity = "high"
	SensitivityUnknown Sensitivity = "unknown"
)

// FileContext is the cached enrichment record for a document.
// A synthetic context (SensitivityUnknown, no labels) stands in when the
// provider cannot answer; enrichment failure never blocks a finding.
type FileContext struct {
	DocID                  string      `json:"doc_id"`
	Title                  string      `json:"title,omitempty"`
	Owner                  string      `json:"owner,omitempty"`
	Labels                 []string    `json:"labels"`
	Sensitivity            Sensitivity `json:"sensitivity"`
	SharedExternallyBefore bool        `json:"shared_externally_before"`
	ExternalDomains        []string    `json:"external_domains,omitempty"` // prior external share destinations
	ParentFolderID         string      `json:"parent_folder_id,omitempty"`
	FetchedAt              time.Time   `json:"fetched_at"`
}

// HasLabel reports whether the file carries the given label (case-insensitive).
func (fc *FileContext) HasLabel(label string) bool {
	for _, l := range fc.Labels {
		if strings.EqualFold(l, label) {
			return true
		}
	}
	return false
}

// SharedBeforeWith reports whether the file was previously shared to the
// given external domain.
func (fc *FileContext) SharedBeforeWith(domain string) bool {
	if !fc.SharedExternallyBefore || domain == "" {
		return false
	}
	for _, d := range fc.ExternalDomains {
		if strings.EqualFold(d, domain) {
			return true
		}
	}
	return false
}

// SyntheticFileContext returns the degraded stand-in used when enrichment
// fails or the document is unknown.
func SyntheticFileContext(docID string, at time.Time) FileContext {
	return FileContext{
		DocID:       docID,
		Labels:      []string{},
		Sensitivity: SensitivityUnknown,
		FetchedAt:   at,
	}
}

// IntentAnalysis is the classifier's full output for one candidate.
type IntentAnalysis struct {
	Intent            Intent   `json:"intent"`
	Confidence        float64  `json:"confidence"` // |S-0.5|*2, in [0,1]
	Reasons           []string `json:"reasons"`
	ShouldSuppress    bool     `json:"should_suppress"`
	DestinationDomain string   `json:"destination_domain,omitempty"`
}

// Finding attributes one exfil event to prior recon activity.
// Recon and DeltaMinutes are nil for delayed matches, where the
// attribution rests on the cumulative recon score alone.
type Finding struct {
	Severity     Severity
	Actor        string
	Exfil        ExfilEvent
	Recon        *ReconEvent
	DeltaMinutes *float64
	ReconScore   float64
	FileContext  FileContext
	Intent       IntentAnalysis
	Reason       string
}

// Delayed reports whether the finding is a delayed match.
func (f *Finding) Delayed() bool {
	return f.Recon == nil
}

// DocTitle returns the best available document title: the audit event's
// own title parameter, falling back to the enrichment record.
func (f *Finding) DocTitle() string {
	if f.Exfil.DocTitle != "" {
		return f.Exfil.DocTitle
	}
	return f.FileContext.Title
}
