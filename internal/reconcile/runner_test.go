package reconcile

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/galaxy-atlas/server/internal/galaxy"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestRunner(concurrency int) *Runner {
	return NewRunner(galaxy.NewTransform(galaxy.DefaultRegionTable()), Config{Concurrency: concurrency})
}

func rec(id, grid, region string) PositionedRecord {
	return PositionedRecord{ID: id, Name: "System " + id, Region: region, GridCode: grid}
}

func TestRunBatchPartialFailure(t *testing.T) {
	t.Parallel()

	store := newMemStore(
		rec("a", "L-9", "Core Worlds"),
		rec("b", "??", "Core Worlds"),
		rec("c", "M-12", "Mid Rim"),
		rec("d", "R-16", "Outer Rim Territories"),
		rec("e", "S5", "Expansion Region"),
	)
	r := newTestRunner(2)

	res, err := r.RunBatch(context.Background(), store, BatchRequest{BatchSize: 10})
	require.NoError(t, err)

	assert.Equal(t, 5, res.Total)
	assert.Equal(t, 4, res.Completed)
	assert.Equal(t, 1, res.Errors)
	assert.Len(t, res.UpdatedRecords, 4)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "b", res.Failures[0].ID)
	assert.Equal(t, FailureParse, res.Failures[0].Kind)

	// The unparseable record is the only one left and is skipped by the cursor.
	assert.Equal(t, 1, res.Remaining)
	assert.Equal(t, 1, res.NextOffset)
	assert.False(t, res.HasMore)

	for _, id := range []string{"a", "c", "d", "e"} {
		assert.NotNil(t, store.get(id).Coordinates, id)
	}
	assert.Nil(t, store.get("b").Coordinates)
}

func TestRunBatchWritesTransformOutput(t *testing.T) {
	t.Parallel()

	pop := int64(1_000_000_000_000)
	record := rec("cor", "L-9", "Core Worlds")
	record.Name = "Coruscant"
	record.Population = &pop
	record.Classification = "Capital"
	store := newMemStore(record)
	r := newTestRunner(1)

	res, err := r.RunBatch(context.Background(), store, BatchRequest{})
	require.NoError(t, err)
	require.Len(t, res.UpdatedRecords, 1)

	want, err := r.Transform().Compute("L-9", "Core Worlds", "Coruscant", record.Attributes())
	require.NoError(t, err)
	assert.Equal(t, want, res.UpdatedRecords[0].Coordinates)
	assert.Equal(t, want, *store.get("cor").Coordinates)
}

func TestRunBatchSkipsRecordsWithoutGridCode(t *testing.T) {
	t.Parallel()

	store := newMemStore(rec("a", "", "Core Worlds"), rec("b", "C-3", "Deep Core"))
	res, err := newTestRunner(1).RunBatch(context.Background(), store, BatchRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Total)
	assert.Equal(t, 1, res.Completed)
	assert.Nil(t, store.get("a").Coordinates)
}

func TestRunBatchWriteFailure(t *testing.T) {
	t.Parallel()

	store := newMemStore(rec("a", "A-1", "Deep Core"), rec("b", "B-2", "Deep Core"))
	store.failWrites["a"] = true

	res, err := newTestRunner(2).RunBatch(context.Background(), store, BatchRequest{BatchSize: 5})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, 1, res.Completed)
	assert.Equal(t, 1, res.Errors)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, FailureWrite, res.Failures[0].Kind)
	assert.Contains(t, res.Failures[0].Message, errInjected.Error())
	assert.NotNil(t, store.get("b").Coordinates)
}

func TestRunBatchFetchFailure(t *testing.T) {
	t.Parallel()

	store := newMemStore(rec("a", "A-1", "Deep Core"))
	store.fetchErr = errInjected

	res, err := newTestRunner(1).RunBatch(context.Background(), store, BatchRequest{})
	assert.Nil(t, res)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFetch)
	assert.ErrorIs(t, err, errInjected)
	assert.Zero(t, store.writes)
}

func TestRunBatchCountFailureKeepsResult(t *testing.T) {
	t.Parallel()

	store := newMemStore(rec("a", "A-1", "Deep Core"), rec("b", "B-2", "Deep Core"))
	store.countErr = errInjected

	res, err := newTestRunner(1).RunBatch(context.Background(), store, BatchRequest{})
	require.ErrorIs(t, err, ErrCount)
	require.NotNil(t, res)
	assert.Equal(t, 2, res.Completed)
	assert.False(t, res.HasMore)
	assert.Equal(t, 2, store.writes)
}

func TestRunBatchRejectsInvalidRequest(t *testing.T) {
	t.Parallel()

	r := newTestRunner(1)
	store := newMemStore()
	for _, req := range []BatchRequest{
		{BatchSize: MaxBatchSize + 1},
		{BatchSize: -3},
		{BatchSize: 10, Offset: -1},
	} {
		_, err := r.RunBatch(context.Background(), store, req)
		assert.ErrorIs(t, err, ErrInvalidRequest, "%+v", req)
	}
}

func TestRunBatchEmptyStore(t *testing.T) {
	t.Parallel()

	res, err := newTestRunner(1).RunBatch(context.Background(), newMemStore(), BatchRequest{Offset: 40})
	require.NoError(t, err)
	assert.Zero(t, res.Total)
	assert.False(t, res.HasMore)
	assert.NotNil(t, res.UpdatedRecords)
	assert.NotNil(t, res.Failures)
}

func TestRunBatchForcePaging(t *testing.T) {
	t.Parallel()

	c := galaxy.Coordinates{X: 1, Y: 0, Z: 1}
	var recs []PositionedRecord
	for i := range 5 {
		r := rec(fmt.Sprintf("r%d", i), "A-1", "Deep Core")
		r.Coordinates = &c
		recs = append(recs, r)
	}
	store := newMemStore(recs...)
	r := newTestRunner(1)

	res, err := r.RunBatch(context.Background(), store, BatchRequest{BatchSize: 2})
	require.NoError(t, err)
	assert.Zero(t, res.Total, "computed records are not pending without force")

	res, err = r.RunBatch(context.Background(), store, BatchRequest{BatchSize: 2, ForceRecompute: true})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Completed)
	assert.Equal(t, 2, res.NextOffset)
	assert.Equal(t, 5, res.Remaining)
	assert.True(t, res.HasMore)

	res, err = r.RunBatch(context.Background(), store, BatchRequest{BatchSize: 2, Offset: 4, ForceRecompute: true})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Completed)
	assert.Equal(t, 6, res.NextOffset)
	assert.False(t, res.HasMore)
	assert.NotEqual(t, c, *store.get("r4").Coordinates)
}

func TestSweepResumesAcrossBatches(t *testing.T) {
	t.Parallel()

	store := newMemStore(
		rec("a", "A-1", "Deep Core"),
		rec("b", "not a grid", "Deep Core"),
		rec("c", "C-3", "Core Worlds"),
		rec("d", "D-4", "Colonies"),
		rec("e", "E-5", "Inner Rim"),
		rec("f", "F-6", "Mid Rim"),
		rec("g", "G-7", "Wild Space"),
	)
	r := newTestRunner(3)

	var batches []*BatchResult
	sum, err := r.Sweep(context.Background(), store, 3, false, func(b *BatchResult) { batches = append(batches, b) })
	require.NoError(t, err)

	assert.Equal(t, 3, sum.Batches)
	assert.Len(t, batches, 3)
	assert.Equal(t, 7, sum.Total)
	assert.Equal(t, 6, sum.Completed)
	assert.Equal(t, 1, sum.Errors)
	assert.Equal(t, 1, sum.Remaining)
	assert.False(t, sum.Cancelled)

	for _, id := range []string{"a", "c", "d", "e", "f", "g"} {
		assert.NotNil(t, store.get(id).Coordinates, id)
	}
}

func TestSweepIsIdempotent(t *testing.T) {
	t.Parallel()

	var recs []PositionedRecord
	for i := range 23 {
		recs = append(recs, rec(fmt.Sprintf("sys-%02d", i), fmt.Sprintf("%c-%d", 'A'+i, i+1), "Mid Rim"))
	}
	store := newMemStore(recs...)
	r := newTestRunner(4)

	first, err := r.Sweep(context.Background(), store, 5, false, nil)
	require.NoError(t, err)
	assert.Equal(t, 23, first.Completed)
	assert.Zero(t, first.Remaining)
	writes := store.writes

	second, err := r.RunBatch(context.Background(), store, BatchRequest{BatchSize: 5})
	require.NoError(t, err)
	assert.Zero(t, second.Total)
	assert.False(t, second.HasMore)
	assert.Equal(t, writes, store.writes)
}

func TestSweepStopsBetweenBatchesOnCancel(t *testing.T) {
	t.Parallel()

	var recs []PositionedRecord
	for i := range 10 {
		recs = append(recs, rec(fmt.Sprintf("r%02d", i), "H-8", "Mid Rim"))
	}
	store := newMemStore(recs...)
	r := newTestRunner(2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sum, err := r.Sweep(ctx, store, 3, false, func(*BatchResult) { cancel() })
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, sum.Cancelled)
	assert.Equal(t, 1, sum.Batches)
	assert.Equal(t, 3, sum.Completed)

	pending, err := store.CountPending(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 7, pending)
}

func TestSweepPacesBatches(t *testing.T) {
	t.Parallel()

	var recs []PositionedRecord
	for i := range 6 {
		recs = append(recs, rec(fmt.Sprintf("r%d", i), "B-2", "Deep Core"))
	}
	store := newMemStore(recs...)
	r := NewRunner(galaxy.NewTransform(galaxy.DefaultRegionTable()), Config{Concurrency: 1, BatchInterval: 20 * time.Millisecond})

	start := time.Now()
	sum, err := r.Sweep(context.Background(), store, 2, false, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Batches)
	assert.GreaterOrEqual(t, time.Since(start), 35*time.Millisecond)
}

func TestSweepFetchFailure(t *testing.T) {
	t.Parallel()

	store := newMemStore(rec("a", "A-1", "Deep Core"))
	store.fetchErr = errInjected
	sum, err := newTestRunner(1).Sweep(context.Background(), store, 10, false, nil)
	require.ErrorIs(t, err, ErrFetch)
	assert.Zero(t, sum.Batches)
}

func TestRunBatchConcurrentWrites(t *testing.T) {
	t.Parallel()

	var recs []PositionedRecord
	for i := range 200 {
		recs = append(recs, rec(fmt.Sprintf("r%03d", i), fmt.Sprintf("%c%d", 'A'+i%26, 1+i%24), "Outer Rim Territories"))
	}
	store := newMemStore(recs...)

	res, err := newTestRunner(8).RunBatch(context.Background(), store, BatchRequest{BatchSize: 200})
	require.NoError(t, err)
	assert.Equal(t, 200, res.Completed)
	assert.Equal(t, 200, store.writes)
	// Updated records keep fetch order regardless of completion order.
	assert.Equal(t, "r000", res.UpdatedRecords[0].ID)
	assert.Equal(t, "r199", res.UpdatedRecords[199].ID)
}

func TestClear(t *testing.T) {
	t.Parallel()

	c := galaxy.Coordinates{X: 1}
	var recs []PositionedRecord
	for i := range 5 {
		r := rec(fmt.Sprintf("r%d", i), "A-1", "Deep Core")
		r.Coordinates = &c
		recs = append(recs, r)
	}
	recs = append(recs, rec("fresh", "A-2", "Deep Core"))
	store := newMemStore(recs...)

	n, err := newTestRunner(1).Clear(context.Background(), store, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	left, err := store.CountComputed(context.Background())
	require.NoError(t, err)
	assert.Zero(t, left)
}

func TestClearCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestRunner(1).Clear(ctx, newMemStore(), 10)
	assert.True(t, errors.Is(err, context.Canceled))
}
