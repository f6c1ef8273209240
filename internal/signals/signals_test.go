package signals

import (
	"context"
	"os"
	"testing"
)

func TestShutdownSignals_ShouldReturnNonEmptySlice(t *testing.T) {
	sigs := ShutdownSignals()
	if len(sigs) == 0 {
		t.Error("ShutdownSignals() should return at least one signal")
	}
}

func TestShutdownSignals_ShouldIncludeInterrupt(t *testing.T) {
	sigs := ShutdownSignals()
	var found bool
	for _, s := range sigs {
		if s == os.Interrupt {
			found = true
			break
		}
	}
	if !found {
		t.Error("ShutdownSignals() should include os.Interrupt for cross-platform graceful shutdown")
	}
}

func TestNotifyContext_WhenStopped_ShouldCancel(t *testing.T) {
	ctx, stop := NotifyContext(context.Background())
	if ctx.Err() != nil {
		t.Fatal("context canceled before stop")
	}
	stop()
	<-ctx.Done()
}

func TestNotifyContext_WhenParentCanceled_ShouldCancel(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	ctx, stop := NotifyContext(parent)
	defer stop()
	cancel()
	<-ctx.Done()
}
