package systemd

import (
	"context"
	"testing"
	"time"
)

func TestNotifyOutsideSystemd(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	t.Setenv("WATCHDOG_USEC", "")

	sent, err := Ready()
	if err != nil || sent {
		t.Fatalf("Ready: sent=%v err=%v", sent, err)
	}
	if iv := WatchdogInterval(); iv != 0 {
		t.Fatalf("WatchdogInterval=%v", iv)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := Watchdog(ctx, nil); err != nil {
		t.Fatalf("Watchdog: %v", err)
	}
	if ctx.Err() != nil {
		t.Fatalf("Watchdog blocked without a configured interval")
	}
}
