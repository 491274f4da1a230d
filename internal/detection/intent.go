// Vigilo - AI-Assisted Insider Threat Detection for Google Workspace
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigilo

package detection

import (
	"fmt"
	"strings"
	"time"

	"github.com/tomtom215/vigilo/internal/baseline"
	"github.com/tomtom215/vigilo/internal/config"
	"github.com/tomtom215/vigilo/internal/models"
)

// Signal weights. Classification starts from a neutral score and each
// applicable signal shifts it; the shifted score is clamped to [0,1]
// before the verdict thresholds apply. The weights are the contract:
// changing one changes what the product calls malicious.
const (
	neutralScore = 0.5

	weightAllowedDomain   = -0.35
	weightPartnerDomain   = -0.15
	weightFirstTimeShare  = 0.20
	weightForeignFile     = 0.10
	weightOffHours        = 0.10
	weightHighRecon       = 0.15
	weightHighSensitivity = 0.15
	weightPriorSharing    = -0.10
	weightRoutineSharer   = -0.10

	// highReconThreshold is the decayed recon score at which cumulative
	// probing becomes a malicious-intent signal on its own.
	highReconThreshold = 10.0
)

// Business hours run 07:00-19:00 local time, Monday through Friday.
const (
	businessDayStart = 7 * 3600
	businessDayEnd   = 19 * 3600
)

// Classifier scores the intent behind a single exfil candidate. It is
// deterministic and pure: the same input always yields the same
// analysis, and no clock or backend is consulted.
type Classifier struct {
	allowedDomains []string
	partnerDomains []string
	maliciousAt    float64
	suspiciousAt   float64
	routinePerDay  float64
	minHistory     int
	loc            *time.Location
}

// NewClassifier builds a classifier from configuration. The location
// carries the organization's local timezone for off-hours checks.
func NewClassifier(cfg *config.Config, loc *time.Location) *Classifier {
	return &Classifier{
		allowedDomains: lowerAll(cfg.Suppressions.AllowedExternalDomains),
		partnerDomains: lowerAll(cfg.PartnerDomains),
		maliciousAt:    cfg.Intent.MaliciousThreshold,
		suspiciousAt:   cfg.Intent.SuspiciousThreshold,
		routinePerDay:  cfg.Baselines.RoutineSharesPerDay,
		minHistory:     cfg.Baselines.MinHistory,
		loc:            loc,
	}
}

// ClassifyInput carries everything the classifier may consult for one
// candidate. Baseline reflects the actor's history BEFORE the event
// under classification; folding the event in first would blind the
// first-time-share signal to its own trigger.
type ClassifyInput struct {
	Event      models.ExfilEvent
	Context    models.FileContext
	Baseline   *baseline.Baseline
	ReconScore float64
	BurstScore float64
}

// Classify applies the signal weights to one candidate and maps the
// resulting score to a verdict.
func (c *Classifier) Classify(in ClassifyInput) models.IntentAnalysis {
	score := neutralScore
	reasons := []string{}

	dest := strings.ToLower(in.Event.DestinationDomain())
	destAllowed := dest != "" && contains(c.allowedDomains, dest)
	destPartner := dest != "" && contains(c.partnerDomains, dest)

	if destAllowed {
		score += weightAllowedDomain
		reasons = append(reasons, "trusted partner domain")
	}
	if destPartner {
		score += weightPartnerDomain
	}
	if dest != "" && !destAllowed && !destPartner && !in.Baseline.HasSeenDomain(dest) {
		score += weightFirstTimeShare
		reasons = append(reasons, fmt.Sprintf("first-time share with %s", dest))
	}
	if foreignFile(in.Event, in.Context) {
		score += weightForeignFile
		reasons = append(reasons, "sharing someone else's file")
	}
	if c.offHours(in.Event.Timestamp) {
		score += weightOffHours
		reasons = append(reasons, "off-hours activity")
	}
	if in.ReconScore >= highReconThreshold {
		score += weightHighRecon
		reasons = append(reasons, "high cumulative recon")
	}
	if in.Context.Sensitivity == models.SensitivityHigh {
		score += weightHighSensitivity
	}
	if dest != "" && in.Context.SharedBeforeWith(dest) {
		score += weightPriorSharing
	}
	routine := c.routineSharer(in.Baseline)
	if routine {
		score += weightRoutineSharer
	}

	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}

	var intent models.Intent
	switch {
	case score >= c.maliciousAt:
		intent = models.IntentMalicious
	case score >= c.suspiciousAt:
		intent = models.IntentSuspicious
	default:
		intent = models.IntentBenign
	}

	if in.BurstScore >= burstReasonThreshold {
		reasons = append(reasons, "rapid recon burst")
	}

	confidence := score - neutralScore
	if confidence < 0 {
		confidence = -confidence
	}

	return models.IntentAnalysis{
		Intent:            intent,
		Confidence:        confidence * 2,
		Reasons:           reasons,
		ShouldSuppress:    intent == models.IntentBenign && (destAllowed || routine),
		DestinationDomain: dest,
	}
}

// routineSharer reports whether the actor's external sharing history
// is frequent enough, over enough observations, to count as routine.
// Thin histories are never trusted as routine: four shares on a single
// day should not buy a discount.
func (c *Classifier) routineSharer(b *baseline.Baseline) bool {
	return b.TotalShares() >= c.minHistory && b.ExternalSharesPerDay() > c.routinePerDay
}

func (c *Classifier) offHours(ts time.Time) bool {
	local := ts.In(c.loc)
	if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return true
	}
	secs := local.Hour()*3600 + local.Minute()*60 + local.Second()
	return secs < businessDayStart || secs > businessDayEnd
}

// foreignFile reports whether the actor demonstrably does not own the
// file. Ownership comes from the event when the audit log carries it,
// falling back to file metadata; with neither, no signal.
func foreignFile(ev models.ExfilEvent, fc models.FileContext) bool {
	owner := ev.Owner
	if owner == "" {
		owner = fc.Owner
	}
	if owner == "" || ev.Actor == "" {
		return false
	}
	return !strings.EqualFold(strings.TrimSpace(owner), strings.TrimSpace(ev.Actor))
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, strings.ToLower(s))
	}
	return out
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
