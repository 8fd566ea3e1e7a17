package syncer

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hyperengineering/trestle/internal/types"
)

func TestScheduler_FirstCycleSyncsEveryEntityType(t *testing.T) {
	client := newFakeCRM(30)
	o, st := newTestOrchestrator(t, client)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s := NewScheduler(o, time.Hour, Options{PageSize: 100}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	// The first cycle runs immediately; wait for every ledger row to leave
	// the running state.
	deadline := time.After(5 * time.Second)
	for {
		allDone := true
		for _, entity := range types.AllEntityTypes() {
			status, err := st.ReadSyncStatus(context.Background(), entity)
			if err != nil {
				t.Fatalf("read status: %v", err)
			}
			if status.State != types.SyncCompleted {
				allDone = false
			}
		}
		if allDone {
			break
		}
		select {
		case <-deadline:
			t.Fatal("cycle did not complete every entity type in time")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop on context cancel")
	}

	// Every entity type pulled the full record list.
	for _, entity := range types.AllEntityTypes() {
		status, _ := st.ReadSyncStatus(context.Background(), entity)
		if status.Cursor != 30 {
			t.Errorf("%s cursor = %d, want 30", entity, status.Cursor)
		}
	}
}
