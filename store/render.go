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
	"errors"
	"fmt"
	"io/fs"
	"os"

	badger "github.com/dgraph-io/badger/v4"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/TheoryStore/expr"
)

// RenderFunc produces a rendered artifact (conventionally PNG bytes)
// from a statement's source text.
type RenderFunc func(source string) ([]byte, error)

// RetrieveRender returns the rendered artifact for a stored entry.
//
// Description:
//
//	The cache key is the entry hash; the cached source text decides
//	validity. When render/<hash>.src matches source, the cached bytes
//	are served. Otherwise render is invoked and both files are
//	rewritten, image first, so an interruption can only leave a stale
//	source file that forces the next call to re-render. Artifacts carry
//	no reference of their own; they live and die with their entry and
//	are deleted by Sweep.
//
// Inputs:
//   - h: hash of a stored entry; no entry means ErrNotFound.
//   - source: the exact source text the artifact should depict.
//   - render: invoked on a cache miss. nil means cached-only; a miss
//     then reports ErrNotFound.
//
// Outputs:
//   - []byte: artifact bytes.
//   - string: path of the cached artifact file.
func (s *Store) RetrieveRender(ctx context.Context, h expr.Hash, source string, render RenderFunc) ([]byte, string, error) {
	if err := s.guard(); err != nil {
		return nil, "", err
	}
	_, span := tracer.Start(ctx, "store.RetrieveRender")
	defer span.End()

	var exists bool
	err := s.db.View(func(txn *badger.Txn) error {
		ok, err := s.hasEntry(txn, h)
		exists = ok
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, "", err
	}
	if !exists {
		return nil, "", fmt.Errorf("store: no entry for %s: %w", h.Short(), ErrNotFound)
	}

	imgPath := s.renderImagePath(h)
	srcPath := s.renderSourcePath(h)

	if cached, err := os.ReadFile(srcPath); err == nil && string(cached) == source {
		data, err := os.ReadFile(imgPath)
		if err == nil {
			s.logger.Debug("render cache hit", "hash", h.Short())
			return data, imgPath, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", fmt.Errorf("store: read render artifact %q: %w", imgPath, err)
		}
	}

	if render == nil {
		return nil, "", fmt.Errorf("store: no cached render for %s: %w", h.Short(), ErrNotFound)
	}
	data, err := render(source)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "render failed")
		return nil, "", fmt.Errorf("store: render %s: %w", h.Short(), err)
	}
	if err := os.MkdirAll(s.path(renderDirName), dirPerm); err != nil {
		return nil, "", fmt.Errorf("store: create render dir: %w", err)
	}
	if err := writeFileAtomic(imgPath, data, filePerm); err != nil {
		return nil, "", err
	}
	if err := writeFileAtomic(srcPath, []byte(source), filePerm); err != nil {
		return nil, "", err
	}
	s.logger.Debug("render cached", "hash", h.Short(), "bytes", len(data))
	return data, imgPath, nil
}

// removeRenderArtifacts deletes the cache files for a swept hash.
func (s *Store) removeRenderArtifacts(h expr.Hash) {
	for _, p := range []string{s.renderImagePath(h), s.renderSourcePath(h)} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("remove render artifact", "path", p, "error", err)
		}
	}
}

func (s *Store) renderImagePath(h expr.Hash) string {
	return s.path(renderDirName, h.String()+".png")
}

func (s *Store) renderSourcePath(h expr.Hash) string {
	return s.path(renderDirName, h.String()+".src")
}
