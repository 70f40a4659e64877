package commands

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// blockingWatcher mimics the repository watcher, which only returns once
// its context is cancelled.
type blockingWatcher struct {
	started chan struct{}
}

func (w *blockingWatcher) Watch(ctx context.Context) error {
	close(w.started)
	<-ctx.Done()
	return ctx.Err()
}

func TestStartTemplateWatcherDoesNotBlockServerStartup(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watcher := &blockingWatcher{started: make(chan struct{})}

	returned := make(chan struct{})
	go func() {
		startTemplateWatcher(ctx, watcher, slog.New(slog.NewTextHandler(io.Discard, nil)))
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("startTemplateWatcher must return while the watcher keeps running")
	}

	select {
	case <-watcher.started:
	case <-time.After(time.Second):
		t.Fatal("watcher never started")
	}
	require.NoError(t, ctx.Err())
}
