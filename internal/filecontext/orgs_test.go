// Vigilo - AI-Assisted Insider Threat Detection for Google Workspace
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigilo

package filecontext

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	admin "google.golang.org/api/admin/directory/v1"
	"google.golang.org/api/option"
)

func TestStaticOrgResolver(t *testing.T) {
	r := NewStaticOrgResolver(map[string]string{
		"Alice@Corp.Example":   "/Executives",
		"@contractors.example": "/Contractors",
	})

	tests := []struct {
		actor string
		want  string
	}{
		{"alice@corp.example", "/Executives"},
		{"ALICE@CORP.EXAMPLE", "/Executives"},
		{"bob@contractors.example", "/Contractors"},
		{"carol@corp.example", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := r.OrgUnit(context.Background(), tt.actor); got != tt.want {
			t.Errorf("OrgUnit(%q) = %q, want %q", tt.actor, got, tt.want)
		}
	}
}

// newDirectoryTestResolver serves a fake Directory API that knows one
// user and counts requests.
func newDirectoryTestResolver(t *testing.T, overrides map[string]string, requests *atomic.Int64) *DirectoryResolver {
	t.Helper()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		switch {
		case strings.HasSuffix(r.URL.Path, "alice@corp.example"):
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"orgUnitPath": "/Engineering"}`))
		default:
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error": {"code": 404, "message": "Resource Not Found"}}`))
		}
	}))
	t.Cleanup(ts.Close)

	svc, err := admin.NewService(context.Background(),
		option.WithEndpoint(ts.URL+"/"),
		option.WithoutAuthentication())
	if err != nil {
		t.Fatalf("creating directory service: %v", err)
	}

	return NewDirectoryResolver(svc, overrides)
}

func TestDirectoryResolverLookupAndCache(t *testing.T) {
	var requests atomic.Int64
	r := newDirectoryTestResolver(t, nil, &requests)

	if got := r.OrgUnit(context.Background(), "alice@corp.example"); got != "/Engineering" {
		t.Errorf("OrgUnit() = %q, want /Engineering", got)
	}
	if got := r.OrgUnit(context.Background(), "Alice@Corp.Example"); got != "/Engineering" {
		t.Errorf("OrgUnit() second call = %q, want /Engineering", got)
	}
	if n := requests.Load(); n != 1 {
		t.Errorf("directory requests = %d, want 1 (second lookup should hit cache)", n)
	}
}

func TestDirectoryResolverUnknownUser(t *testing.T) {
	var requests atomic.Int64
	r := newDirectoryTestResolver(t, nil, &requests)

	if got := r.OrgUnit(context.Background(), "ghost@corp.example"); got != "" {
		t.Errorf("OrgUnit() = %q, want empty for unknown user", got)
	}

	// The blank answer is cached; no second round-trip.
	r.OrgUnit(context.Background(), "ghost@corp.example")
	if n := requests.Load(); n != 1 {
		t.Errorf("directory requests = %d, want 1", n)
	}
}

func TestDirectoryResolverOverrideWins(t *testing.T) {
	var requests atomic.Int64
	r := newDirectoryTestResolver(t, map[string]string{"alice@corp.example": "/Executives"}, &requests)

	if got := r.OrgUnit(context.Background(), "alice@corp.example"); got != "/Executives" {
		t.Errorf("OrgUnit() = %q, want /Executives from override", got)
	}
	if n := requests.Load(); n != 0 {
		t.Errorf("directory requests = %d, want 0 (override must bypass the API)", n)
	}
}

func TestDirectoryResolverEmptyActor(t *testing.T) {
	var requests atomic.Int64
	r := newDirectoryTestResolver(t, nil, &requests)

	if got := r.OrgUnit(context.Background(), ""); got != "" {
		t.Errorf("OrgUnit(\"\") = %q, want empty", got)
	}
	if n := requests.Load(); n != 0 {
		t.Errorf("directory requests = %d, want 0", n)
	}
}

func TestOUWithin(t *testing.T) {
	tests := []struct {
		ou       string
		prefixes []string
		want     bool
	}{
		{"/Executives", []string{"/executives"}, true},
		{"/Executives/Assistants", []string{"/executives"}, true},
		{"/ExecutivesX", []string{"/executives"}, false},
		{"/Executives/", []string{"/executives"}, true},
		{"/executives", []string{"/Executives/"}, true},
		{"", []string{"/executives"}, false},
		{"/Sales", nil, false},
		{"/Sales", []string{""}, false},
	}

	for _, tt := range tests {
		if got := OUWithin(tt.ou, tt.prefixes); got != tt.want {
			t.Errorf("OUWithin(%q, %q) = %v, want %v", tt.ou, tt.prefixes, got, tt.want)
		}
	}
}
