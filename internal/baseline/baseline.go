// Vigilo - AI-Assisted Insider Threat Detection for Google Workspace
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigilo

// Package baseline tracks per-actor sharing history over a rolling
// window so the intent classifier can tell a first-time external
// share from business as usual. History persists in the same backend
// as recon scores, under its own key prefix.
package baseline

import (
	"time"

	"github.com/tomtom215/vigilo/internal/models"
)

// WindowDays is the rolling history horizon. Buckets and domains
// older than this are pruned on load.
const WindowDays = 30

const dayFormat = "2006-01-02"

// DayCounts aggregates one UTC day of sharing activity.
type DayCounts struct {
	Total    int `json:"total"`
	External int `json:"ext"`
	Own      int `json:"own"`
}

// record is the persisted shape. Domains map to the unix timestamp of
// the most recent share toward them.
type record struct {
	Days    map[string]DayCounts `json:"days"`
	Domains map[string]int64     `json:"known_external_domains"`
}

// Baseline is one actor's sharing history. It is owned by a single
// worker during a sweep and is not safe for concurrent use.
type Baseline struct {
	rec record

	// snapshot holds the raw bytes the record was loaded from, used
	// as the compare-and-swap token on store.
	snapshot []byte
}

// New returns an empty baseline for an actor with no history.
func New() *Baseline {
	return &Baseline{rec: record{
		Days:    make(map[string]DayCounts),
		Domains: make(map[string]int64),
	}}
}

// HasSeenDomain reports whether the actor shared toward this domain
// within the window.
func (b *Baseline) HasSeenDomain(domain string) bool {
	if domain == "" {
		return false
	}
	_, ok := b.rec.Domains[domain]
	return ok
}

// TotalShares is the number of shares in the window.
func (b *Baseline) TotalShares() int {
	n := 0
	for _, d := range b.rec.Days {
		n += d.Total
	}
	return n
}

// ExternalShares is the number of external shares in the window.
func (b *Baseline) ExternalShares() int {
	n := 0
	for _, d := range b.rec.Days {
		n += d.External
	}
	return n
}

// OwnFileShareRatio is the fraction of shares that involved files the
// actor owns. Zero history yields zero.
func (b *Baseline) OwnFileShareRatio() float64 {
	total, own := 0, 0
	for _, d := range b.rec.Days {
		total += d.Total
		own += d.Own
	}
	if total == 0 {
		return 0
	}
	return float64(own) / float64(total)
}

// ExternalSharesPerDay is the external share frequency across days
// with any share activity.
func (b *Baseline) ExternalSharesPerDay() float64 {
	active, ext := 0, 0
	for _, d := range b.rec.Days {
		if d.Total > 0 {
			active++
			ext += d.External
		}
	}
	if active == 0 {
		return 0
	}
	return float64(ext) / float64(active)
}

// SharesPerDay is the share frequency across days with any activity.
// Dividing by active days rather than the whole window keeps a single
// burst from being diluted into looking routine.
func (b *Baseline) SharesPerDay() float64 {
	active := 0
	total := 0
	for _, d := range b.rec.Days {
		if d.Total > 0 {
			active++
			total += d.Total
		}
	}
	if active == 0 {
		return 0
	}
	return float64(total) / float64(active)
}

// Update folds one exfil event into the history. Only share-type
// events (visibility and ACL changes) count; downloads and exports
// move bytes but say nothing about who the actor shares with.
func (b *Baseline) Update(ev models.ExfilEvent, isOwner bool) {
	if !ev.IsShare() {
		return
	}

	day := ev.Timestamp.UTC().Format(dayFormat)
	counts := b.rec.Days[day]
	counts.Total++
	if isOwner {
		counts.Own++
	}
	if ev.ExternalReach() {
		counts.External++
		if domain := ev.DestinationDomain(); domain != "" {
			ts := ev.Timestamp.Unix()
			if ts > b.rec.Domains[domain] {
				b.rec.Domains[domain] = ts
			}
		}
	}
	b.rec.Days[day] = counts
}

// PruneTo drops buckets and domains that fell out of the window.
func (b *Baseline) PruneTo(now time.Time) {
	cutoff := now.UTC().AddDate(0, 0, -WindowDays)
	cutoffDay := cutoff.Format(dayFormat)
	cutoffUnix := cutoff.Unix()

	for day := range b.rec.Days {
		if day < cutoffDay {
			delete(b.rec.Days, day)
		}
	}
	for domain, ts := range b.rec.Domains {
		if ts < cutoffUnix {
			delete(b.rec.Domains, domain)
		}
	}
}

// merge unions another baseline into this one, taking per-day maxima.
// Used when a compare-and-swap store loses against a concurrent
// scheduler writing the same actor.
func (b *Baseline) merge(other *Baseline) {
	for day, theirs := range other.rec.Days {
		ours := b.rec.Days[day]
		if theirs.Total > ours.Total {
			ours.Total = theirs.Total
		}
		if theirs.External > ours.External {
			ours.External = theirs.External
		}
		if theirs.Own > ours.Own {
			ours.Own = theirs.Own
		}
		b.rec.Days[day] = ours
	}
	for domain, ts := range other.rec.Domains {
		if ts > b.rec.Domains[domain] {
			b.rec.Domains[domain] = ts
		}
	}
}
