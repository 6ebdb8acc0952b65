package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zulufoxtrot/renault-renew/models"
	"github.com/zulufoxtrot/renault-renew/storage"
	"github.com/zulufoxtrot/renault-renew/utils"
)

// fakeExtractor delivers a scripted set of records, then optionally blocks
// until released or the context is cancelled.
type fakeExtractor struct {
	records []*models.VehicleRecord
	err     error
	block   chan struct{}
	started chan struct{}
}

func (f *fakeExtractor) Extract(ctx context.Context, onRecord func(*models.VehicleRecord) error) (int, error) {
	for _, rec := range f.records {
		if err := ctx.Err(); err != nil {
			return 1, err
		}
		if err := onRecord(rec); err != nil {
			return 1, err
		}
	}

	// Records are delivered before started is signalled, so tests can
	// cancel at a deterministic checkpoint.
	if f.started != nil {
		close(f.started)
		f.started = nil
	}

	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return 1, ctx.Err()
		}
	}

	return 1, f.err
}

func newTestRunner(t *testing.T, extractor Extractor) (*Runner, storage.Store) {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "test.db"), utils.NewLogger())
	require.NoError(t, err)
	logger := utils.NewLogger()
	return NewRunner(extractor, NewReconciler(store, logger), logger), store
}

// waitTerminal polls until the runner leaves Running and returns the first
// non-running snapshot observed.
func waitTerminal(t *testing.T, r *Runner) JobState {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		snap := r.Snapshot()
		if snap.Status != StatusRunning {
			return snap
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("run did not reach a terminal state")
	return JobState{}
}

func TestRunnerCompletesAndRecords(t *testing.T) {
	extractor := &fakeExtractor{records: []*models.VehicleRecord{
		record("https://fr.renew.auto/detail/a", price(20000)),
		record("https://fr.renew.auto/detail/b", price(21000)),
	}}
	runner, store := newTestRunner(t, extractor)

	require.NoError(t, runner.Start())
	snap := waitTerminal(t, runner)

	assert.Equal(t, StatusCompleted, snap.Status)
	assert.Equal(t, 100, snap.Progress)
	assert.Equal(t, 2, snap.RecordsProcessed)
	assert.Equal(t, 2, snap.RecordsAdded)
	assert.Equal(t, 1, snap.PagesProcessed)
	assert.NotNil(t, snap.LastRun)
	assert.Empty(t, snap.Error)

	vehicles, err := store.QueryAll()
	require.NoError(t, err)
	assert.Len(t, vehicles, 2)
}

func TestRunnerSingleFlight(t *testing.T) {
	extractor := &fakeExtractor{
		block:   make(chan struct{}),
		started: make(chan struct{}),
	}
	runner, _ := newTestRunner(t, extractor)

	require.NoError(t, runner.Start())
	<-extractor.started

	err := runner.Start()
	require.ErrorIs(t, err, ErrAlreadyRunning)

	close(extractor.block)
	snap := waitTerminal(t, runner)
	assert.Equal(t, StatusCompleted, snap.Status)

	// A new trigger is possible once the terminal state was observed.
	extractor.block = nil
	require.NoError(t, runner.Start())
	waitTerminal(t, runner)
}

func TestRunnerBackToBackRunsKeepVehiclesAvailable(t *testing.T) {
	// A listing still on the site is re-delivered by every run. Two
	// consecutive completed runs must leave it available with no spurious
	// history.
	extractor := &fakeExtractor{records: []*models.VehicleRecord{
		record("https://fr.renew.auto/detail/a", price(20000)),
	}}
	runner, store := newTestRunner(t, extractor)

	require.NoError(t, runner.Start())
	snap := waitTerminal(t, runner)
	require.Equal(t, StatusCompleted, snap.Status)

	require.NoError(t, runner.Start())
	snap = waitTerminal(t, runner)
	require.Equal(t, StatusCompleted, snap.Status)
	assert.Equal(t, 1, snap.RecordsProcessed, "run 2 must reconcile the record again")
	assert.Equal(t, 0, snap.RecordsAdded)

	v, err := store.GetByURL("https://fr.renew.auto/detail/a")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.True(t, v.IsAvailable, "a re-observed vehicle must survive the availability pass")
}

func TestRunnerConcurrentStartRace(t *testing.T) {
	extractor := &fakeExtractor{block: make(chan struct{})}
	runner, _ := newTestRunner(t, extractor)

	const callers = 10
	var wg sync.WaitGroup
	results := make(chan error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- runner.Start()
		}()
	}
	wg.Wait()
	close(results)

	won, conflicted := 0, 0
	for err := range results {
		switch {
		case err == nil:
			won++
		case errors.Is(err, ErrAlreadyRunning):
			conflicted++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, won, "exactly one Start must win")
	assert.Equal(t, callers-1, conflicted)

	close(extractor.block)
	waitTerminal(t, runner)
}

func TestRunnerCancellation(t *testing.T) {
	extractor := &fakeExtractor{
		records: []*models.VehicleRecord{
			record("https://fr.renew.auto/detail/a", price(20000)),
		},
		block:   make(chan struct{}),
		started: make(chan struct{}),
	}
	runner, store := newTestRunner(t, extractor)

	require.NoError(t, runner.Start())
	<-extractor.started
	runner.Cancel()

	snap := waitTerminal(t, runner)
	assert.Equal(t, StatusCancelled, snap.Status)
	assert.Empty(t, snap.Error, "cancellation is not an error")
	assert.Nil(t, snap.LastRun)

	// Work committed before the checkpoint stays committed.
	v, err := store.GetByURL("https://fr.renew.auto/detail/a")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.True(t, v.IsAvailable, "availability pass must not run on a cancelled run")
}

func TestRunnerFailureSkipsAvailabilityPass(t *testing.T) {
	// Seed a stale vehicle, then fail the run: the stale vehicle must keep
	// its availability because the full-catalog pass only runs on success.
	failing := &fakeExtractor{
		records: []*models.VehicleRecord{
			record("https://fr.renew.auto/detail/partial", price(20000)),
		},
		err: errors.New("page structure changed"),
	}
	runner, store := newTestRunner(t, failing)

	stale := &models.Vehicle{
		URL:         "https://fr.renew.auto/detail/stale",
		Title:       "Megane E-Tech",
		FirstSeen:   time.Now().Add(-48 * time.Hour),
		LastSeen:    time.Now().Add(-48 * time.Hour),
		IsAvailable: true,
	}
	require.NoError(t, store.Upsert(stale))

	require.NoError(t, runner.Start())
	snap := waitTerminal(t, runner)

	assert.Equal(t, StatusFailed, snap.Status)
	assert.Contains(t, snap.Error, "page structure changed")
	assert.Nil(t, snap.LastRun)

	// Partial reconciliation is preserved.
	v, err := store.GetByURL("https://fr.renew.auto/detail/partial")
	require.NoError(t, err)
	require.NotNil(t, v)

	// Stale vehicle untouched by the skipped availability pass.
	v, err = store.GetByURL(stale.URL)
	require.NoError(t, err)
	assert.True(t, v.IsAvailable)
}

func TestRunnerAvailabilityPassOnSuccess(t *testing.T) {
	extractor := &fakeExtractor{records: []*models.VehicleRecord{
		record("https://fr.renew.auto/detail/seen", price(20000)),
	}}
	runner, store := newTestRunner(t, extractor)

	stale := &models.Vehicle{
		URL:         "https://fr.renew.auto/detail/unseen",
		Title:       "Megane E-Tech",
		FirstSeen:   time.Now().Add(-48 * time.Hour),
		LastSeen:    time.Now().Add(-48 * time.Hour),
		IsAvailable: true,
	}
	require.NoError(t, store.Upsert(stale))

	require.NoError(t, runner.Start())
	snap := waitTerminal(t, runner)
	require.Equal(t, StatusCompleted, snap.Status)

	v, err := store.GetByURL(stale.URL)
	require.NoError(t, err)
	assert.False(t, v.IsAvailable)

	v, err = store.GetByURL("https://fr.renew.auto/detail/seen")
	require.NoError(t, err)
	assert.True(t, v.IsAvailable)
}

func TestRunnerTerminalStateResetsToIdle(t *testing.T) {
	extractor := &fakeExtractor{}
	runner, _ := newTestRunner(t, extractor)

	require.NoError(t, runner.Start())
	snap := waitTerminal(t, runner)
	require.Equal(t, StatusCompleted, snap.Status)
	require.NotNil(t, snap.LastRun)

	// The terminal state was acknowledged; the next snapshot is Idle with
	// last_run still visible.
	next := runner.Snapshot()
	assert.Equal(t, StatusIdle, next.Status)
	assert.Equal(t, snap.LastRun, next.LastRun)
}

func TestRunnerSnapshotsAreConsistent(t *testing.T) {
	records := make([]*models.VehicleRecord, 20)
	for i := range records {
		records[i] = record("https://fr.renew.auto/detail/"+string(rune('a'+i)), price(20000+i))
	}
	runner, _ := newTestRunner(t, &fakeExtractor{records: records})

	require.NoError(t, runner.Start())

	// Snapshots taken while the worker runs must never show a torn
	// progress/message pair or exceed the bounds.
	for {
		snap := runner.Snapshot()
		assert.GreaterOrEqual(t, snap.Progress, 0)
		assert.LessOrEqual(t, snap.Progress, 100)
		assert.NotEmpty(t, snap.Message)
		if snap.Status != StatusRunning {
			assert.Equal(t, StatusCompleted, snap.Status)
			break
		}
		time.Sleep(time.Millisecond)
	}
}
