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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// entryOps counts content-store operations by op and outcome.
	entryOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "theorystore_entry_ops_total",
		Help: "Content store operations (put, resolve, add_ref, remove_ref) by result.",
	}, []string{"op", "result"})

	// sweptEntries counts entries physically removed by Sweep.
	sweptEntries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "theorystore_swept_entries_total",
		Help: "Stored entries physically removed by sweep.",
	})

	// reconcileSeconds observes reconciliation latency per ledger.
	reconcileSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "theorystore_reconcile_duration_seconds",
		Help:    "Duration of ledger/table reconciliations.",
		Buckets: prometheus.DefBuckets,
	}, []string{"ledger"})

	// reconcileChanged counts names touched by reconciliations.
	reconcileChanged = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "theorystore_reconcile_changes_total",
		Help: "Names added, modified, or removed by reconciliations.",
	}, []string{"ledger", "change"})
)

// observeChanges records a reconciliation's change counts for one ledger.
func observeChanges(ledger string, c Changes) {
	if len(c.Added) > 0 {
		reconcileChanged.WithLabelValues(ledger, "added").Add(float64(len(c.Added)))
	}
	if len(c.Modified) > 0 {
		reconcileChanged.WithLabelValues(ledger, "modified").Add(float64(len(c.Modified)))
	}
	if len(c.Removed) > 0 {
		reconcileChanged.WithLabelValues(ledger, "removed").Add(float64(len(c.Removed)))
	}
}
