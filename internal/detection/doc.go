// Vigilo - AI-Assisted Insider Threat Detection for Google Workspace
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigilo

// Package detection correlates AI-assistant reconnaissance activity
// with file exfiltration events and turns matched pairs into ranked
// findings.
//
// Pipeline:
//
//	ReconEvents ─┐
//	             ├─> Engine ─> candidates ─> Classifier ─> Resolver ─> Findings
//	ExfilEvents ─┘      |
//	                    v
//	          Recon State Store / Baselines / File Context
//
// The engine deduplicates and clamps both batches, groups them per
// actor, and fans actors out across a bounded worker pool. Within an
// actor, recon ingestion strictly precedes exfil correlation: every
// exfil event is matched against the latest in-window recon event
// (same document preferred), falling back to a delayed match when the
// actor's decayed cumulative recon score clears the configured
// threshold. Candidates flow through the intent classifier (additive
// signal weights over destination, ownership, timing, and history)
// and the severity resolver (proximity rubric plus sensitivity and
// org-unit escalations) before emission.
//
// Everything downstream of event ingestion is deterministic: given
// the same batches, configuration, and persisted state, the engine
// produces the same findings in the same order.
package detection
