// Vigilo - AI-Assisted Insider Threat Detection for Google Workspace
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigilo

package filecontext

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// newDriveTestSource spins up a fake Drive API and points a source at it.
func newDriveTestSource(t *testing.T, handler http.HandlerFunc) *DriveSource {
	t.Helper()

	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	svc, err := drive.NewService(context.Background(),
		option.WithEndpoint(ts.URL+"/"),
		option.WithoutAuthentication())
	if err != nil {
		t.Fatalf("creating drive service: %v", err)
	}

	return NewDriveSource(svc, "corp.example")
}

func TestDriveSourceFetch(t *testing.T) {
	src := newDriveTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/files/doc-1" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"name": "Q3 Roadmap",
			"owners": [{"emailAddress": "Owner@Corp.Example"}],
			"parents": ["folder-1"],
			"labelInfo": {"labels": [{"id": "confidential"}]},
			"permissions": [
				{"type": "user", "emailAddress": "internal@corp.example"},
				{"type": "user", "emailAddress": "bob@partner.com"},
				{"type": "group", "emailAddress": "team@partner.com"},
				{"type": "domain", "domain": "corp.example"},
				{"type": "anyone"}
			]
		}`))
	})

	fc, err := src.Fetch(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	if fc.Title != "Q3 Roadmap" {
		t.Errorf("Title = %q, want Q3 Roadmap", fc.Title)
	}
	if fc.Owner != "owner@corp.example" {
		t.Errorf("Owner = %q, want owner@corp.example (lowercased)", fc.Owner)
	}
	if fc.ParentFolderID != "folder-1" {
		t.Errorf("ParentFolderID = %q, want folder-1", fc.ParentFolderID)
	}
	if len(fc.Labels) != 1 || fc.Labels[0] != "confidential" {
		t.Errorf("Labels = %v, want [confidential]", fc.Labels)
	}
	if !fc.SharedExternallyBefore {
		t.Error("SharedExternallyBefore = false, want true (external grants present)")
	}
	if len(fc.ExternalDomains) != 1 || fc.ExternalDomains[0] != "partner.com" {
		t.Errorf("ExternalDomains = %v, want [partner.com] deduplicated, home domain excluded", fc.ExternalDomains)
	}
}

func TestDriveSourceFetchInternalOnly(t *testing.T) {
	src := newDriveTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"name": "Internal Notes",
			"permissions": [
				{"type": "user", "emailAddress": "alice@corp.example"},
				{"type": "domain", "domain": "corp.example"}
			]
		}`))
	})

	fc, err := src.Fetch(context.Background(), "doc-2")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if fc.SharedExternallyBefore {
		t.Error("SharedExternallyBefore = true, want false for internal-only grants")
	}
	if len(fc.ExternalDomains) != 0 {
		t.Errorf("ExternalDomains = %v, want empty", fc.ExternalDomains)
	}
}

func TestDriveSourceFetchNotFound(t *testing.T) {
	src := newDriveTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error": {"code": 404, "message": "File not found"}}`))
	})

	_, err := src.Fetch(context.Background(), "ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Fetch() error = %v, want ErrNotFound", err)
	}
}

func TestDriveSourceFetchServerError(t *testing.T) {
	src := newDriveTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := src.Fetch(context.Background(), "doc-1")
	if err == nil {
		t.Fatal("Fetch() error = nil, want transient error")
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("server error must not map to ErrNotFound")
	}
}
