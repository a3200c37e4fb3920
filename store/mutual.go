// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
)

// buildState tracks where a build session stands.
type buildState int

const (
	buildIdle buildState = iota
	buildActive
	buildCommitted
)

func (st buildState) String() string {
	switch st {
	case buildActive:
		return "building"
	case buildCommitted:
		return "committed"
	default:
		return "idle"
	}
}

// buildSession collects the foreign contexts referenced while building
// this context's statements.
type buildSession struct {
	state     buildState
	id        string
	refs      map[string]struct{}
	committed []string
}

// BeginBuild opens a build session.
//
// Description:
//
//	Resets any previous session, clears the in-progress reference set,
//	and mints the build id that tags this session's logs and commit
//	marker. Re-beginning mid-session discards the uncommitted set.
//
// Outputs:
//   - string: the session's build id (uuid).
func (s *Store) BeginBuild() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrClosed
	}
	id := uuid.NewString()
	s.build = buildSession{state: buildActive, id: id, refs: make(map[string]struct{})}
	s.logger.Debug("build session opened", "build_id", id)
	return id, nil
}

// RecordReference notes that the running build referenced another
// context. Self-references are dropped and duplicates collapse.
// ErrBuildState unless a session is open.
func (s *Store) RecordReference(other string) error {
	if err := validateName(other); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.build.state != buildActive {
		return fmt.Errorf("store: record reference while %s: %w", s.build.state, ErrBuildState)
	}
	if other == s.opts.ContextName {
		return nil
	}
	s.build.refs[other] = struct{}{}
	return nil
}

// CommitBuild persists the session's reference set.
//
// Description:
//
//	Writes the collected context names, sorted, to mutual_deps.record
//	under a commit marker and moves the session to committed. The
//	record is what a sibling context consults when it checks for a
//	mutual dependency.
//
// Outputs:
//   - error: ErrBuildState unless a session is open.
func (s *Store) CommitBuild(ctx context.Context) error {
	_, span := tracer.Start(ctx, "store.CommitBuild")
	defer span.End()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.build.state != buildActive {
		st := s.build.state
		s.mu.Unlock()
		return fmt.Errorf("store: commit build while %s: %w", st, ErrBuildState)
	}
	names := make([]string, 0, len(s.build.refs))
	for name := range s.build.refs {
		names = append(names, name)
	}
	sort.Strings(names)
	id := s.build.id
	s.mu.Unlock()

	finish, err := s.beginCommit("commit_build", id)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if err := writeListFile(s.path(mutualDepsFileName), names); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "commit build failed")
		return err
	}
	finish()

	s.mu.Lock()
	s.build.state = buildCommitted
	s.build.committed = names
	s.mu.Unlock()

	s.logger.Info("build record committed", "build_id", id, "references", len(names))
	return nil
}

// ReferencedContexts returns the context names this context's statements
// reference: the set committed this session when one exists, otherwise
// the persisted record. An absent record is empty.
func (s *Store) ReferencedContexts() ([]string, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if s.build.state == buildCommitted {
		out := slices.Clone(s.build.committed)
		s.mu.Unlock()
		return out, nil
	}
	s.mu.Unlock()
	return readLineFile(s.path(mutualDepsFileName))
}
