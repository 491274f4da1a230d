// Vigilo - AI-Assisted Insider Threat Detection for Google Workspace
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigilo

package filecontext

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/tomtom215/vigilo/internal/models"
)

// StaticSource serves document metadata from an in-memory map. It backs
// the file replay provider and test fixtures, where no Drive API is
// reachable.
type StaticSource struct {
	mu   sync.RWMutex
	docs map[string]models.FileContext
}

// NewStaticSource creates a source over the given contexts, keyed by
// document ID.
func NewStaticSource(docs map[string]models.FileContext) *StaticSource {
	if docs == nil {
		docs = make(map[string]models.FileContext)
	}
	return &StaticSource{docs: docs}
}

// LoadStaticSource reads one FileContext JSON object per line from
// path. Blank lines are skipped; a malformed line is a hard error since
// fixture files are operator-authored, not event streams.
func LoadStaticSource(path string) (*StaticSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening contexts file: %w", err)
	}
	defer f.Close()

	docs := make(map[string]models.FileContext)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var fc models.FileContext
		if err := json.Unmarshal([]byte(line), &fc); err != nil {
			return nil, fmt.Errorf("contexts file %s line %d: %w", path, lineNo, err)
		}
		if fc.DocID == "" {
			return nil, fmt.Errorf("contexts file %s line %d: missing doc_id", path, lineNo)
		}
		docs[fc.DocID] = fc
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading contexts file: %w", err)
	}

	return &StaticSource{docs: docs}, nil
}

func (s *StaticSource) Name() string { return "static" }

// Fetch returns the stored context for docID, or ErrNotFound.
func (s *StaticSource) Fetch(_ context.Context, docID string) (models.FileContext, error) {
	s.mu.RLock()
	fc, ok := s.docs[docID]
	s.mu.RUnlock()

	if !ok {
		return models.FileContext{}, fmt.Errorf("%w: %s", ErrNotFound, docID)
	}

	// Copy the labels slice so callers cannot mutate the fixture.
	if fc.Labels != nil {
		fc.Labels = append([]string(nil), fc.Labels...)
	}
	if fc.ExternalDomains != nil {
		fc.ExternalDomains = append([]string(nil), fc.ExternalDomains...)
	}
	return fc, nil
}

// Add registers or replaces a document context.
func (s *StaticSource) Add(fc models.FileContext) {
	s.mu.Lock()
	s.docs[fc.DocID] = fc
	s.mu.Unlock()
}

// Len reports the number of stored contexts.
func (s *StaticSource) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}
