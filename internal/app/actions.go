package app

import (
	"context"
	"fmt"

	"github.com/Hawon-Oh/NyamNyamPing/internal/dispatch"
	"github.com/Hawon-Oh/NyamNyamPing/internal/menu"
	"github.com/Hawon-Oh/NyamNyamPing/internal/transport"
	logx "github.com/Hawon-Oh/NyamNyamPing/pkg/logx"
)

// jobActions runs the scheduled work for every meal slot.
type jobActions struct {
	cache      *menu.Cache
	dispatcher *dispatch.Dispatcher
	log        logx.Logger
	// status publishes a one-line summary, systemd.Status in production.
	status func(text string) (bool, error)
}

func (a jobActions) Prefetch(ctx context.Context, meal string) error {
	snap, err := a.cache.Refresh(ctx)
	if err != nil {
		return err
	}
	a.log.Debug("menu prefetched", logx.String("meal", meal), logx.Time("fetched_at", snap.FetchedAt))
	return nil
}

func (a jobActions) Dispatch(ctx context.Context, meal string) error {
	rep, err := a.dispatcher.DispatchToAll(ctx)
	a.setStatus(dispatchStatus(meal, rep))
	if err != nil {
		return err
	}
	a.log.Info("menu dispatched",
		logx.String("meal", meal),
		logx.String("cycle", rep.CycleID),
		logx.Int("sent", rep.Sent),
		logx.Int("failed", rep.Failed),
	)
	return nil
}

func (a jobActions) setStatus(text string) {
	if a.status == nil {
		return
	}
	if _, err := a.status(text); err != nil {
		a.log.Debug("status notify failed", logx.Err(err))
	}
}

func dispatchStatus(meal string, rep dispatch.Report) string {
	if rep.NoMenu {
		return fmt.Sprintf("%s dispatch skipped: no menu", meal)
	}
	s := fmt.Sprintf("%s dispatch: sent %d, failed %d", meal, rep.Sent, rep.Failed+rep.NoChannel)
	if rep.CutShort > 0 {
		s += fmt.Sprintf(", cut short %d", rep.CutShort)
	}
	return s
}

func (a jobActions) Clear(_ context.Context, _ string) error {
	a.cache.Clear()
	return nil
}

// chatLogSender forwards log records to the operator channel.
type chatLogSender struct {
	gw transport.Gateway
	ch transport.Channel
}

func (s chatLogSender) SendLog(ctx context.Context, text string) error {
	return s.gw.Send(ctx, s.ch, text)
}
