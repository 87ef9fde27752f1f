package planner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeanbovet/semantica/internal/chunk"
	"github.com/jeanbovet/semantica/internal/parser"
	"github.com/jeanbovet/semantica/internal/store"
)

type fakeStore struct {
	indexed  []store.IndexedRow
	failed   []store.FailedRow
	records  map[string]store.StatusRecord
	upserted []store.StatusRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]store.StatusRecord)}
}

func (f *fakeStore) QueryIndexed() ([]store.IndexedRow, error)       { return f.indexed, nil }
func (f *fakeStore) QueryFailedForRetry() ([]store.FailedRow, error) { return f.failed, nil }

func (f *fakeStore) UpsertStatus(ctx context.Context, rec store.StatusRecord) error {
	f.records[rec.Path] = rec
	f.upserted = append(f.upserted, rec)
	return nil
}

func (f *fakeStore) GetStatus(path string) (store.StatusRecord, bool, error) {
	rec, ok := f.records[path]
	return rec, ok, nil
}

func registryWithVersions() *parser.Registry {
	r := parser.NewRegistry()
	r.Register("pdf", stubDecoder{}, 3)
	r.Register("txt", stubDecoder{}, 4)
	return r
}

type stubDecoder struct{}

func (stubDecoder) Decode(string) ([]chunk.Page, error) { return nil, nil }

func TestPlan_MarksOutdatedRowsAndReturnsThemFirst(t *testing.T) {
	st := newFakeStore()
	st.indexed = []store.IndexedRow{{Path: "x.pdf", ParserVersion: 2}}
	st.records["x.pdf"] = store.StatusRecord{Path: "x.pdf", Status: store.StatusIndexed, ParserVersion: 2}

	items, err := Plan(context.Background(), st, registryWithVersions())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "x.pdf", items[0].Path)
	assert.Equal(t, ReasonOutdated, items[0].Reason)
	assert.Equal(t, store.StatusOutdated, st.records["x.pdf"].Status)
}

func TestPlan_SkipsCurrentVersionRows(t *testing.T) {
	st := newFakeStore()
	st.indexed = []store.IndexedRow{{Path: "a.txt", ParserVersion: 4}}

	items, err := Plan(context.Background(), st, registryWithVersions())
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestPlan_RetriesFailedRowsAfterVersionBump(t *testing.T) {
	st := newFakeStore()
	st.failed = []store.FailedRow{{Path: "x.pdf", ParserVersion: 2, LastRetry: time.Now()}}

	items, err := Plan(context.Background(), st, registryWithVersions())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, ReasonRetry, items[0].Reason)
}

func TestPlan_RetriesFailedRowsAfter24Hours(t *testing.T) {
	st := newFakeStore()
	st.failed = []store.FailedRow{{Path: "a.txt", ParserVersion: 4, LastRetry: time.Now().Add(-25 * time.Hour)}}

	items, err := Plan(context.Background(), st, registryWithVersions())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "a.txt", items[0].Path)
}

func TestPlan_DoesNotRetryRecentFailure(t *testing.T) {
	st := newFakeStore()
	st.failed = []store.FailedRow{{Path: "a.txt", ParserVersion: 4, LastRetry: time.Now().Add(-1 * time.Hour)}}

	items, err := Plan(context.Background(), st, registryWithVersions())
	require.NoError(t, err)
	assert.Empty(t, items)
}
