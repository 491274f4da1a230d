// Vigilo - AI-Assisted Insider Threat Detection for Google Workspace
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigilo

package detection

import (
	"fmt"
	"strings"
	"time"

	"github.com/tomtom215/vigilo/internal/config"
	"github.com/tomtom215/vigilo/internal/filecontext"
	"github.com/tomtom215/vigilo/internal/models"
)

// Proximity bands for the base severity rubric. An externally-reaching
// exfil within fastBand of the matched recon is the classic smash and
// grab; within nearBand it is still suspect.
const (
	fastBand = 10 * time.Minute
	nearBand = 30 * time.Minute
)

// Reason strings for the base rubric.
const (
	reasonRevert      = "External toggle with rapid revert (evasion pattern)"
	reasonFastShare   = "External share within 10min of recon"
	reasonFastMove    = "Export/download within 10min of recon"
	reasonNearWindow  = "Suspicious activity within 30min of recon"
	reasonCorrelation = "Activity correlation detected"
)

// Candidate is one exfil event paired with the recon evidence that
// implicates it. Recon and Delta are nil for delayed matches, where
// the link is the actor's cumulative score rather than a single event.
type Candidate struct {
	Exfil      models.ExfilEvent
	Recon      *models.ReconEvent
	Delta      *time.Duration
	ReconScore float64
}

// Delayed reports whether the candidate lacks an immediate recon match.
func (c *Candidate) Delayed() bool {
	return c.Recon == nil
}

// Resolution is the resolver's verdict on one candidate: a severity
// and reason for emission, or a drop with the reason recorded for
// metrics.
type Resolution struct {
	Severity   models.Severity
	Reason     string
	Drop       bool
	DropReason string
}

// Resolver assigns final severity to classified candidates. Like the
// classifier it is pure: org-unit resolution happens upstream and the
// actor's OU arrives as an input.
type Resolver struct {
	excludeActors    map[string]struct{}
	investigationOUs []string
	highRiskOUs      []string
	highRiskFolders  map[string]struct{}
	canaryDocs       map[string]struct{}
}

// NewResolver builds a resolver from configuration.
func NewResolver(cfg *config.Config) *Resolver {
	exclude := make(map[string]struct{}, len(cfg.Suppressions.ExcludeActors))
	for _, a := range cfg.Suppressions.ExcludeActors {
		exclude[strings.ToLower(strings.TrimSpace(a))] = struct{}{}
	}
	folders := make(map[string]struct{}, len(cfg.HighRiskFolders))
	for _, f := range cfg.HighRiskFolders {
		folders[f] = struct{}{}
	}
	canaries := make(map[string]struct{}, len(cfg.CanaryDocIDs))
	for _, d := range cfg.CanaryDocIDs {
		canaries[d] = struct{}{}
	}
	return &Resolver{
		excludeActors:    exclude,
		investigationOUs: cfg.Suppressions.SecurityInvestigationOUs,
		highRiskOUs:      cfg.SeverityOverrides.HighRiskOUs,
		highRiskFolders:  folders,
		canaryDocs:       canaries,
	}
}

// Resolve orders the severity decision as exclusion, base rubric,
// override steps, then suppression. A suppressed candidate survives
// only when the override steps carried it to high; base-high findings
// with benign suppressible intent are still muted, which is what makes
// the allowlist useful against rapid shares to sanctioned partners.
func (r *Resolver) Resolve(cand Candidate, intent models.IntentAnalysis, fc models.FileContext, actorOU string) Resolution {
	if _, ok := r.excludeActors[strings.ToLower(cand.Exfil.Actor)]; ok {
		return Resolution{Drop: true, DropReason: "excluded_actor"}
	}
	if filecontext.OUWithin(actorOU, r.investigationOUs) {
		return Resolution{Drop: true, DropReason: "investigation_ou"}
	}

	severity, reason := r.base(cand)

	// Canary documents are tripwires: any correlated touch is high.
	if _, ok := r.canaryDocs[cand.Exfil.DocID]; ok && cand.Exfil.DocID != "" {
		severity = models.SeverityHigh
		reason = "CANARY DOCUMENT ACCESS - " + reason
	}

	fileRisk := fc.Sensitivity == models.SensitivityHigh
	ouRisk := filecontext.OUWithin(actorOU, r.highRiskOUs)
	folderRisk := false
	if fc.ParentFolderID != "" {
		_, folderRisk = r.highRiskFolders[fc.ParentFolderID]
	}

	steps := 0
	if fileRisk || ouRisk || folderRisk {
		steps = 1
	}
	if fileRisk && (ouRisk || folderRisk) {
		steps = 2
	}
	if steps > 0 {
		severity = severity.Step(steps)
		if fileRisk {
			reason += " (high-sensitivity file)"
		}
		if ouRisk {
			reason += " (high-risk OU)"
		}
		if folderRisk {
			reason += " (high-risk folder)"
		}
	}

	if intent.ShouldSuppress && !(severity == models.SeverityHigh && steps > 0) {
		return Resolution{Drop: true, DropReason: "suppressed"}
	}

	return Resolution{Severity: severity, Reason: reason}
}

// base applies the proximity rubric. Revert-marked events are treated
// as deliberate evasion and start at high regardless of timing.
func (r *Resolver) base(cand Candidate) (models.Severity, string) {
	ev := cand.Exfil
	if ev.IsRevert {
		return models.SeverityHigh, reasonRevert
	}

	if cand.Delayed() {
		if (ev.IsShare() && ev.ExternalReach()) || ev.EventType == models.ExfilExport {
			return models.SeverityMedium, delayedReason(cand.ReconScore)
		}
		return models.SeverityLow, delayedReason(cand.ReconScore)
	}

	delta := *cand.Delta
	if ev.ExternalReach() {
		switch {
		case delta <= fastBand:
			if ev.IsShare() {
				return models.SeverityHigh, reasonFastShare
			}
			return models.SeverityHigh, reasonFastMove
		case delta <= nearBand:
			return models.SeverityMedium, reasonNearWindow
		}
	}
	return models.SeverityLow, reasonCorrelation
}

func delayedReason(score float64) string {
	return fmt.Sprintf("Delayed exfil after cumulative recon (score=%.1f)", score)
}
