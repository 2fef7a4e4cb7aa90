package loop_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/next-trace/scg-device-relay/adapters/internal/loop"
	cbus "github.com/next-trace/scg-device-relay/contract/bus"
)

func TestGo_CloseWaitsForLoopAndRelease(t *testing.T) {
	released := false
	h := loop.Go(t.Context(), func(ctx context.Context) { <-ctx.Done() }, func() error {
		released = true
		return errors.New("release failed")
	})

	if err := h.Close(); err == nil || err.Error() != "release failed" {
		t.Fatalf("close err: %v", err)
	}

	if !released {
		t.Fatalf("release not called")
	}

	select {
	case <-h.Done():
	default:
		t.Fatalf("done not closed after Close")
	}
}

func TestDeliver_HandlerContextSurvivesCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	var hctxErr error

	loop.Deliver(ctx, loop.Logger(nil), "test", func(ctx context.Context, _ cbus.Message) error {
		hctxErr = ctx.Err()
		return nil
	}, cbus.Message{Topic: "t"})

	if hctxErr != nil {
		t.Fatalf("handler context must not be cancelled, got %v", hctxErr)
	}
}

func TestDeliver_RecoversPanics(t *testing.T) {
	done := make(chan struct{})

	go func() {
		defer close(done)
		loop.Deliver(t.Context(), loop.Logger(nil), "test", func(context.Context, cbus.Message) error {
			panic("boom")
		}, cbus.Message{})
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("deliver did not return")
	}
}
