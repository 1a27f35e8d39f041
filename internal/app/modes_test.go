package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/driftware/depthbot/internal/domain"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDepthPumpOfferNeverBlocks(t *testing.T) {
	block := make(chan struct{})
	applied := make(chan uint64, 256)
	pump := newDepthPump(2, func(ctx context.Context, du domain.DepthUpdate) {
		applied <- du.Seq
		<-block
	}, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pump.run(ctx)

	// Flood well past the buffer while the worker is stuck on its first
	// update; every offer must return immediately, as the feed goroutine
	// can never be the one waiting on storage.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			pump.offer(ctx, domain.DepthUpdate{Seq: uint64(i + 1)})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("offer blocked while the worker was busy")
	}

	select {
	case seq := <-applied:
		if seq != 1 {
			t.Errorf("first applied seq = %d, want 1", seq)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker never received an update")
	}
	close(block)
}

func TestDepthPumpStopsOnCancel(t *testing.T) {
	pump := newDepthPump(1, func(context.Context, domain.DepthUpdate) {}, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pump.run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
}
