package cli

import (
	"bytes"
	"context"
	"testing"
	"time"

	"finrec/internal/log"
)

func TestSetupLoggerFallsBackToInfo(t *testing.T) {
	logger := SetupLogger("loud", log.ComponentApp)
	if logger == nil {
		t.Fatal("expected logger")
	}
	if logger.Enabled(context.Background(), -4) {
		t.Fatal("debug should be disabled at the fallback level")
	}

	debug := SetupLogger("debug", log.ComponentWorker)
	if !debug.Enabled(context.Background(), -4) || debug.Component() != log.ComponentWorker {
		t.Fatalf("unexpected logger %+v", debug)
	}
}

func TestRunCleanupTimesOut(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(log.Config{Output: &buf})

	start := time.Now()
	runCleanup(logger, 50*time.Millisecond, func(ctx context.Context) {
		time.Sleep(time.Second)
	})
	if time.Since(start) > 500*time.Millisecond {
		t.Fatal("cleanup timeout not honoured")
	}
	if !bytes.Contains(buf.Bytes(), []byte("Shutdown timeout reached")) {
		t.Fatalf("expected timeout log, got %q", buf.String())
	}
}

func TestRunCleanupCompletes(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(log.Config{Output: &buf})

	called := false
	runCleanup(logger, time.Second, func(ctx context.Context) {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("cleanup context should carry a deadline")
		}
		called = true
	})
	if !called || !bytes.Contains(buf.Bytes(), []byte("Shutdown complete")) {
		t.Fatalf("cleanup not run: %q", buf.String())
	}
}
