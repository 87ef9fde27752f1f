// Package planner implements the Re-index Planner (C7): at startup it
// decides which known files require work without ever performing a
// full-row scan, per §4.7's O(indexed files) memory invariant.
package planner

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/jeanbovet/semantica/internal/parser"
	"github.com/jeanbovet/semantica/internal/store"
)

// retryBackoff is the 24h window a failed file waits before an
// automatic retry, absent a content or parser-version change.
const retryBackoff = 24 * time.Hour

// Reason names why a WorkItem was queued, used to priority-order the
// output (outdated work is pushed ahead of routine retries).
type Reason string

const (
	ReasonOutdated Reason = "outdated"
	ReasonRetry    Reason = "retry"
)

// WorkItem is one file the pipeline should (re-)process, ahead of
// anything the scanner discovers in steady state.
type WorkItem struct {
	Path   string
	Reason Reason
}

// statusStore is the subset of *store.Store the planner reads. Narrowed
// to keep the planner's dependency on the store explicit and testable.
type statusStore interface {
	QueryIndexed() ([]store.IndexedRow, error)
	QueryFailedForRetry() ([]store.FailedRow, error)
	UpsertStatus(ctx context.Context, rec store.StatusRecord) error
	GetStatus(path string) (store.StatusRecord, bool, error)
}

// Plan reads the file-status table's two filtered, projected views
// (indexed rows; failed/error rows), compares each row's stored
// parser_version against the registry's current version, rewrites
// stale indexed rows to outdated, and returns a priority-ordered work
// list: outdated rows first, then retry-eligible failures.
func Plan(ctx context.Context, st statusStore, registry *parser.Registry) ([]WorkItem, error) {
	var outdated []WorkItem

	indexedRows, err := st.QueryIndexed()
	if err != nil {
		return nil, err
	}
	for _, row := range indexedRows {
		currentVersion, ok := registry.Version(extOf(row.Path))
		if !ok || row.ParserVersion >= currentVersion {
			continue
		}

		rec, found, err := st.GetStatus(row.Path)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		rec.Status = store.StatusOutdated
		if err := st.UpsertStatus(ctx, rec); err != nil {
			return nil, err
		}

		outdated = append(outdated, WorkItem{Path: row.Path, Reason: ReasonOutdated})
	}

	var retries []WorkItem
	failedRows, err := st.QueryFailedForRetry()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	for _, row := range failedRows {
		currentVersion, ok := registry.Version(extOf(row.Path))
		versionAdvanced := ok && row.ParserVersion < currentVersion
		timeElapsed := !row.LastRetry.IsZero() && now.Sub(row.LastRetry) >= retryBackoff

		if versionAdvanced || timeElapsed {
			retries = append(retries, WorkItem{Path: row.Path, Reason: ReasonRetry})
		}
	}

	return append(outdated, retries...), nil
}

func extOf(path string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
}
