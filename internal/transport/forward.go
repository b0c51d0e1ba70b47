package transport

import (
	"context"
	"sync/atomic"
	"time"

	logx "github.com/Hawon-Oh/NyamNyamPing/pkg/logx"
)

// Forwarder hands updates from platform callbacks to the current consumer
// without blocking the platform's event loop.
type Forwarder struct {
	out     atomic.Pointer[chan<- Update]
	dropped atomic.Uint64
}

// Swap sets the consumer channel; nil disconnects.
func (f *Forwarder) Swap(out chan<- Update) {
	if out == nil {
		f.out.Store(nil)
		return
	}
	f.out.Store(&out)
}

// Forward reports whether up was accepted. A full channel drops it.
func (f *Forwarder) Forward(up Update) bool {
	p := f.out.Load()
	if p == nil {
		return false
	}
	select {
	case *p <- up:
		return true
	default:
		f.dropped.Add(1)
		return false
	}
}

// ReportDrops logs the dropped count every interval until ctx ends.
func (f *Forwarder) ReportDrops(ctx context.Context, every time.Duration, log logx.Logger) {
	t := time.NewTicker(every)
	defer t.Stop()
	flush := func() {
		if n := f.dropped.Swap(0); n > 0 {
			log.Warn("incoming updates dropped (channel full)", logx.Int64("count", int64(n)))
		}
	}
	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case <-t.C:
			flush()
		}
	}
}
