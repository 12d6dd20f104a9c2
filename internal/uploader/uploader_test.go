package uploader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/gallerydrop/internal/logging"
	"github.com/dharsanguruparan/gallerydrop/internal/merge"
	"github.com/dharsanguruparan/gallerydrop/internal/model"
	"github.com/dharsanguruparan/gallerydrop/internal/transport"
)

// fakeTransport answers from results, or holds a transfer until a value is
// sent on its release channel or the context ends.
type fakeTransport struct {
	mu           sync.Mutex
	calls        []string
	results      map[string]error
	release      map[string]chan error
	ignoreCancel map[string]bool

	current atomic.Int32
	peak    atomic.Int32
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		results:      map[string]error{},
		release:      map[string]chan error{},
		ignoreCancel: map[string]bool{},
	}
}

func (f *fakeTransport) hold(names ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, name := range names {
		f.release[name] = make(chan error, 1)
	}
}

func (f *fakeTransport) finish(name string, err error) {
	f.mu.Lock()
	ch := f.release[name]
	f.mu.Unlock()
	ch <- err
}

func (f *fakeTransport) called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeTransport) Transfer(ctx context.Context, p merge.Payload, progress transport.ProgressFunc) error {
	f.mu.Lock()
	f.calls = append(f.calls, p.FileName)
	ch := f.release[p.FileName]
	res := f.results[p.FileName]
	stubborn := f.ignoreCancel[p.FileName]
	f.mu.Unlock()

	n := f.current.Add(1)
	defer f.current.Add(-1)
	for {
		peak := f.peak.Load()
		if n <= peak || f.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	progress(10)
	progress(50)
	progress(30)
	if ch == nil {
		return res
	}
	if stubborn {
		return <-ch
	}
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return fmt.Errorf("transfer %s: %w", p.FileName, ctx.Err())
	}
}

type fakeFinalizer struct {
	mu     sync.Mutex
	counts []int
	err    error
}

func (f *fakeFinalizer) Finalize(_ context.Context, _ string, successCount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts = append(f.counts, successCount)
	return f.err
}

func (f *fakeFinalizer) calls() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.counts...)
}

func newBatch(names ...string) *model.UploadBatch {
	batch := &model.UploadBatch{ID: "batch-1"}
	for i, name := range names {
		batch.Items = append(batch.Items, &model.UploadItem{
			ID:     fmt.Sprintf("item-%d", i),
			Raw:    &model.RawFile{Name: name, ContentType: "image/jpeg", Size: 4, Data: []byte("data")},
			Status: model.StatusPending,
		})
	}
	return batch
}

func counts(o *Orchestrator) map[model.ItemStatus]int {
	return model.CountStatuses(o.Snapshot())
}

func byName(snaps []model.ItemSnapshot) map[string]model.ItemSnapshot {
	out := make(map[string]model.ItemSnapshot, len(snaps))
	for _, s := range snaps {
		out[s.FileName] = s
	}
	return out
}

func TestSubmitEndsEveryItemTerminalAtFullProgress(t *testing.T) {
	tr := newFakeTransport()
	tr.results["b.jpg"] = &transport.RejectedError{Reason: "duplicate"}
	o := New(newBatch("a.jpg", "b.jpg", "c.jpg"), tr, nil, Options{Concurrency: 2, Logger: logging.Discard()})

	result, err := o.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.BatchResult{SuccessCount: 2, FailCount: 1}, result)
	for _, snap := range o.Snapshot() {
		assert.True(t, snap.Status.Terminal(), snap.FileName)
		assert.Equal(t, 100, snap.Progress, snap.FileName)
	}
	failed := byName(o.Snapshot())["b.jpg"]
	assert.Equal(t, model.KindServerRejected, failed.ErrorKind)
	assert.Equal(t, "duplicate", failed.Error)
}

func TestSubmitNeverExceedsConcurrencyLimit(t *testing.T) {
	names := make([]string, 12)
	for i := range names {
		names[i] = fmt.Sprintf("%02d.jpg", i)
	}
	tr := newFakeTransport()
	var (
		o        *Orchestrator
		overLoad atomic.Bool
	)
	o = New(newBatch(names...), tr, nil, Options{
		Concurrency: 3,
		Logger:      logging.Discard(),
		OnUpdate: func(model.ItemUpdate) {
			if counts(o)[model.StatusUploading] > 3 {
				overLoad.Store(true)
			}
		},
	})

	result, err := o.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 12, result.SuccessCount)
	assert.LessOrEqual(t, tr.peak.Load(), int32(3))
	assert.False(t, overLoad.Load())
}

func TestFreedSlotAdmitsExactlyOnePendingItem(t *testing.T) {
	names := []string{"a.jpg", "b.jpg", "c.jpg", "d.jpg", "e.jpg"}
	tr := newFakeTransport()
	tr.hold(names...)
	o := New(newBatch(names...), tr, nil, Options{Concurrency: 3, Logger: logging.Discard()})

	type outcome struct {
		result model.BatchResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := o.Submit(context.Background())
		done <- outcome{result, err}
	}()

	require.Eventually(t, func() bool {
		c := counts(o)
		return c[model.StatusUploading] == 3 && c[model.StatusPending] == 2
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(tr.called()) == 3 }, time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t, []string{"a.jpg", "b.jpg", "c.jpg"}, tr.called())

	tr.finish("a.jpg", nil)
	require.Eventually(t, func() bool {
		c := counts(o)
		return c[model.StatusCompleted] == 1 && c[model.StatusUploading] == 3 && c[model.StatusPending] == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, model.StatusUploading, byName(o.Snapshot())["d.jpg"].Status)

	for _, name := range names[1:] {
		tr.finish(name, nil)
	}
	got := <-done
	require.NoError(t, got.err)
	assert.Equal(t, model.BatchResult{SuccessCount: 5}, got.result)
}

func TestPartialFailureFinalizesOnce(t *testing.T) {
	tr := newFakeTransport()
	tr.results["b.jpg"] = &transport.ServerError{StatusCode: 500}
	tr.results["d.jpg"] = &transport.NetworkError{Err: errors.New("connection reset")}
	fin := &fakeFinalizer{}
	o := New(newBatch("a.jpg", "b.jpg", "c.jpg", "d.jpg", "e.jpg"), tr, fin, Options{Concurrency: 3, Logger: logging.Discard()})

	result, err := o.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.BatchResult{SuccessCount: 3, FailCount: 2}, result)
	assert.Equal(t, []int{3}, fin.calls())

	snaps := byName(o.Snapshot())
	assert.Equal(t, model.KindServerRejected, snaps["b.jpg"].ErrorKind)
	assert.Equal(t, model.KindTransportFailed, snaps["d.jpg"].ErrorKind)
}

func TestPayloadTooLargeHasDistinctMessage(t *testing.T) {
	tr := newFakeTransport()
	tr.results["huge.jpg"] = transport.ErrPayloadTooLarge
	tr.results["broken.jpg"] = &transport.ServerError{StatusCode: 500}
	o := New(newBatch("ok.jpg", "huge.jpg", "broken.jpg", "fine.jpg"), tr, nil, Options{Logger: logging.Discard()})

	result, err := o.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.BatchResult{SuccessCount: 2, FailCount: 2}, result)

	snaps := byName(o.Snapshot())
	huge := snaps["huge.jpg"]
	assert.Equal(t, model.StatusError, huge.Status)
	assert.Equal(t, model.KindPayloadTooLarge, huge.ErrorKind)
	assert.Equal(t, transport.TooLargeMessage, huge.Error)
	assert.NotEqual(t, snaps["broken.jpg"].Error, huge.Error)
	assert.Equal(t, model.StatusCompleted, snaps["ok.jpg"].Status)
	assert.Equal(t, model.StatusCompleted, snaps["fine.jpg"].Status)
}

func TestCancelFailsPendingWithoutTransfer(t *testing.T) {
	names := []string{"a.jpg", "b.jpg", "c.jpg", "d.jpg", "e.jpg"}
	tr := newFakeTransport()
	tr.hold(names...)
	fin := &fakeFinalizer{}
	o := New(newBatch(names...), tr, fin, Options{Concurrency: 2, Logger: logging.Discard()})

	done := make(chan model.BatchResult, 1)
	go func() {
		result, err := o.Submit(context.Background())
		assert.NoError(t, err)
		done <- result
	}()
	require.Eventually(t, func() bool {
		return counts(o)[model.StatusUploading] == 2
	}, time.Second, 5*time.Millisecond)

	o.Cancel()
	o.Cancel()
	result := <-done

	assert.Equal(t, model.BatchResult{FailCount: 5}, result)
	assert.ElementsMatch(t, []string{"a.jpg", "b.jpg"}, tr.called())
	for _, snap := range o.Snapshot() {
		assert.Equal(t, model.StatusError, snap.Status, snap.FileName)
		assert.Equal(t, model.KindCancelled, snap.ErrorKind, snap.FileName)
		assert.Equal(t, model.CancelledMessage, snap.Error, snap.FileName)
		assert.Equal(t, 100, snap.Progress, snap.FileName)
	}
	assert.Empty(t, fin.calls())
}

func TestAcknowledgedTransferCompletesDespiteCancel(t *testing.T) {
	tr := newFakeTransport()
	tr.hold("a.jpg", "b.jpg")
	tr.ignoreCancel["a.jpg"] = true
	fin := &fakeFinalizer{}
	o := New(newBatch("a.jpg", "b.jpg"), tr, fin, Options{Concurrency: 1, Logger: logging.Discard()})

	done := make(chan model.BatchResult, 1)
	go func() {
		result, _ := o.Submit(context.Background())
		done <- result
	}()
	require.Eventually(t, func() bool {
		return byName(o.Snapshot())["a.jpg"].Status == model.StatusUploading
	}, time.Second, 5*time.Millisecond)

	o.Cancel()
	require.Eventually(t, func() bool {
		return byName(o.Snapshot())["b.jpg"].Status == model.StatusError
	}, time.Second, 5*time.Millisecond)
	tr.finish("a.jpg", nil)

	assert.Equal(t, model.BatchResult{SuccessCount: 1, FailCount: 1}, <-done)
	assert.Equal(t, []string{"a.jpg"}, tr.called())
	assert.Equal(t, []int{1}, fin.calls())
}

func TestCancelWhileFillingSlotsStopsAdmission(t *testing.T) {
	names := []string{"a.jpg", "b.jpg", "c.jpg", "d.jpg", "e.jpg"}
	tr := newFakeTransport()
	tr.hold(names...)
	fin := &fakeFinalizer{}
	var o *Orchestrator
	o = New(newBatch(names...), tr, fin, Options{
		Concurrency: 3,
		Logger:      logging.Discard(),
		OnUpdate: func(u model.ItemUpdate) {
			if u.Item.FileName == "a.jpg" && u.Item.Status == model.StatusUploading {
				o.Cancel()
			}
		},
	})

	result, err := o.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.BatchResult{FailCount: 5}, result)
	assert.Equal(t, []string{"a.jpg"}, tr.called())
	for _, snap := range o.Snapshot() {
		assert.Equal(t, model.StatusError, snap.Status, snap.FileName)
		assert.Equal(t, model.KindCancelled, snap.ErrorKind, snap.FileName)
	}
	assert.Empty(t, fin.calls())
}

func TestCancelBeforeSubmit(t *testing.T) {
	tr := newFakeTransport()
	o := New(newBatch("a.jpg", "b.jpg"), tr, nil, Options{Logger: logging.Discard()})
	o.Cancel()
	assert.True(t, o.Cancelled())

	result, err := o.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.BatchResult{FailCount: 2}, result)
	assert.Empty(t, tr.called())
}

func TestContextCancellationActsAsCancel(t *testing.T) {
	tr := newFakeTransport()
	tr.hold("a.jpg", "b.jpg")
	ctx, cancel := context.WithCancel(context.Background())
	o := New(newBatch("a.jpg", "b.jpg"), tr, nil, Options{Concurrency: 1, Logger: logging.Discard()})

	done := make(chan model.BatchResult, 1)
	go func() {
		result, _ := o.Submit(ctx)
		done <- result
	}()
	require.Eventually(t, func() bool {
		return counts(o)[model.StatusUploading] == 1
	}, time.Second, 5*time.Millisecond)
	cancel()

	assert.Equal(t, model.BatchResult{FailCount: 2}, <-done)
	assert.Equal(t, []string{"a.jpg"}, tr.called())
}

func TestFinalizeFailureKeepsItemResults(t *testing.T) {
	fin := &fakeFinalizer{err: errors.New("catalog down")}
	o := New(newBatch("a.jpg", "b.jpg"), newFakeTransport(), fin, Options{Logger: logging.Discard()})

	result, err := o.Submit(context.Background())
	var finErr *FinalizeError
	require.ErrorAs(t, err, &finErr)
	assert.Equal(t, 2, finErr.Count)
	assert.ErrorContains(t, err, "catalog down")
	assert.Equal(t, model.BatchResult{SuccessCount: 2}, result)
	for _, snap := range o.Snapshot() {
		assert.Equal(t, model.StatusCompleted, snap.Status)
	}
	assert.Equal(t, []int{2}, fin.calls())
}

func TestNoFinalizeWithoutSuccess(t *testing.T) {
	tr := newFakeTransport()
	tr.results["a.jpg"] = &transport.RejectedError{}
	fin := &fakeFinalizer{}
	o := New(newBatch("a.jpg"), tr, fin, Options{Logger: logging.Discard()})

	result, err := o.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.BatchResult{FailCount: 1}, result)
	assert.Empty(t, fin.calls())
}

func TestSubmitOnlyOnce(t *testing.T) {
	o := New(newBatch("a.jpg"), newFakeTransport(), nil, Options{Logger: logging.Discard()})
	_, err := o.Submit(context.Background())
	require.NoError(t, err)
	_, err = o.Submit(context.Background())
	assert.ErrorIs(t, err, ErrAlreadySubmitted)
}

func TestProgressOnlyIncreases(t *testing.T) {
	var (
		mu      sync.Mutex
		history = map[string][]int{}
	)
	o := New(newBatch("a.jpg", "b.jpg"), newFakeTransport(), nil, Options{
		Logger: logging.Discard(),
		OnUpdate: func(u model.ItemUpdate) {
			mu.Lock()
			defer mu.Unlock()
			history[u.Item.FileName] = append(history[u.Item.FileName], u.Item.Progress)
		},
	})
	_, err := o.Submit(context.Background())
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	for name, values := range history {
		assert.Equal(t, 100, values[len(values)-1], name)
		for i := 1; i < len(values); i++ {
			assert.GreaterOrEqual(t, values[i], values[i-1], name)
		}
		assert.NotContains(t, values, 30, name)
	}
}

func TestSnapshotBeforeSubmitShowsPending(t *testing.T) {
	o := New(newBatch("a.jpg", "b.jpg"), newFakeTransport(), nil, Options{})
	snaps := o.Snapshot()
	require.Len(t, snaps, 2)
	assert.Equal(t, model.StatusPending, snaps[0].Status)
	snaps[0].Status = model.StatusCompleted
	assert.Equal(t, model.StatusPending, o.Snapshot()[0].Status)
}
