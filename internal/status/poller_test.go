package status

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"docchat/internal/session"
)

type fakeSource struct {
	mu     sync.Mutex
	status session.Status
	err    error
	calls  int
}

func (f *fakeSource) Status(ctx context.Context) (session.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return session.Status{}, f.err
	}
	return f.status, nil
}

func (f *fakeSource) set(st session.Status, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status, f.err = st, err
}

func TestPoller_ImmediateProbeOnStart(t *testing.T) {
	source := &fakeSource{status: session.Status{Status: "running", ChunkCount: 42}}
	p := New(source, 30*time.Second)
	defer p.Stop()

	if _, ok := p.Last(); ok {
		t.Fatal("no status should be observed before Start")
	}
	if err := p.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	st, ok := p.Last()
	if !ok {
		t.Fatal("expected an observed status right after Start")
	}
	if !st.Running() || st.ChunkCount != 42 {
		t.Fatalf("unexpected status: %+v", st)
	}
	if source.calls != 1 {
		t.Fatalf("expected exactly 1 immediate probe, got %d", source.calls)
	}
}

func TestPoller_FailureKeepsLastValue(t *testing.T) {
	source := &fakeSource{status: session.Status{Status: "running", ChunkCount: 7}}
	p := New(source, 30*time.Second)
	defer p.Stop()

	p.poll()
	source.set(session.Status{}, errors.New("connection refused"))
	p.poll()

	st, ok := p.Last()
	if !ok {
		t.Fatal("previously observed status lost")
	}
	if !st.Running() || st.ChunkCount != 7 {
		t.Fatalf("stale value expected after failed probe, got %+v", st)
	}
}

func TestPoller_ReportsStoppedBackend(t *testing.T) {
	source := &fakeSource{status: session.Status{Status: "stopped", ChunkCount: 0}}
	p := New(source, 30*time.Second)
	defer p.Stop()

	var updates []session.Status
	p.SetOnUpdate(func(st session.Status) { updates = append(updates, st) })
	p.poll()

	st, ok := p.Last()
	if !ok {
		t.Fatal("probe result not recorded")
	}
	if st.Running() {
		t.Fatal("stopped backend reported as running")
	}
	if len(updates) != 1 || updates[0].Status != "stopped" {
		t.Fatalf("unexpected updates: %+v", updates)
	}
}

func TestPoller_NoUpdateCallbackOnFailure(t *testing.T) {
	source := &fakeSource{err: errors.New("boom")}
	p := New(source, 30*time.Second)
	defer p.Stop()

	calls := 0
	p.SetOnUpdate(func(session.Status) { calls++ })
	p.poll()

	if calls != 0 {
		t.Fatalf("failed probe must not fire the callback, got %d", calls)
	}
}
