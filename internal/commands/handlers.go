package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Hawon-Oh/NyamNyamPing/internal/storage"
	"github.com/Hawon-Oh/NyamNyamPing/internal/tenant"
	"github.com/Hawon-Oh/NyamNyamPing/internal/transport"
	logx "github.com/Hawon-Oh/NyamNyamPing/pkg/logx"
)

func (r *Router) handleMenu(ctx context.Context, req *Request) (string, error) {
	text, err := r.deps.Menu.DispatchToOne(ctx, req.Msg.TenantID)
	if err != nil {
		// The unavailable text is still a valid answer.
		req.Logger.Info("menu unavailable", logx.Err(err))
	}
	return text, nil
}

func (r *Router) handleTest(ctx context.Context, req *Request) (string, error) {
	if !r.isOwner(req.Msg.AuthorID) {
		return req.Catalog.NotOwner, nil
	}
	snap, err := r.deps.Fetch.Refresh(ctx)
	if err != nil && snap.IsEmpty() {
		return fmt.Sprintf(req.Catalog.FetchFailed, err), err
	}
	return snap.Text, nil
}

func (r *Router) handleHolidaySkip(ctx context.Context, req *Request) (string, error) {
	if req.Msg.IsDirect {
		return req.Catalog.DirectOnly, nil
	}
	cfg, err := r.deps.Tenants.ToggleHolidaySkip(ctx, req.Msg.TenantID)
	r.audit(ctx, req, strconvBool(cfg.HolidaySkip), err)
	if err != nil {
		return fmt.Sprintf(req.Catalog.StorageFailed, err), err
	}
	return req.Catalog.HolidaySkip(cfg.HolidaySkip), nil
}

func (r *Router) handleAutoMessage(ctx context.Context, req *Request) (string, error) {
	if req.Msg.IsDirect {
		return req.Catalog.DirectOnly, nil
	}
	cfg, err := r.deps.Tenants.ToggleScheduler(ctx, req.Msg.TenantID)
	r.audit(ctx, req, strconvBool(cfg.SchedulerOn), err)
	if err != nil {
		return fmt.Sprintf(req.Catalog.StorageFailed, err), err
	}
	return req.Catalog.AutoMessage(cfg.SchedulerOn), nil
}

func (r *Router) handleSetChannel(ctx context.Context, req *Request) (string, error) {
	c := req.Catalog
	if req.Msg.IsDirect {
		return c.DirectOnly, nil
	}
	if len(req.Args) == 0 {
		return fmt.Sprintf(c.ChannelUsage, req.Table.Prefix()+req.Word), nil
	}
	ref := channelRef(strings.Join(req.Args, " "))
	chs, err := r.deps.Channels.ListChannels(ctx, req.Msg.TenantID)
	if err != nil {
		err = fmt.Errorf("list channels: %w", err)
		return fmt.Sprintf(c.CommandFailed, err), err
	}
	// Same order as delivery resolution, so duplicate names pick the same channel.
	transport.SortChannels(chs)
	ch, ok := transport.FindChannel(chs, ref)
	if !ok {
		return fmt.Sprintf(c.ChannelUnknown, ref), nil
	}
	_, err = r.deps.Tenants.SetChannel(ctx, req.Msg.TenantID, ch.Name)
	r.audit(ctx, req, ch.Name, err)
	if err != nil {
		return fmt.Sprintf(c.StorageFailed, err), err
	}
	return fmt.Sprintf(c.ChannelSet, ch.Name), nil
}

func (r *Router) handleHelp(_ context.Context, req *Request) (string, error) {
	c := req.Catalog
	var b strings.Builder

	b.WriteString(c.HelpCommands + "\n")
	labels := map[Kind]string{
		KindMenu:        c.HelpMenu,
		KindHelp:        c.HelpHelp,
		KindHolidaySkip: c.HelpHolidaySkip,
		KindAutoMessage: c.HelpAutoMessage,
		KindSetChannel:  c.HelpSetChannel,
		KindTest:        c.HelpTest,
	}
	for _, k := range Kinds {
		names := req.Table.Names(k)
		for i, n := range names {
			names[i] = req.Table.Prefix() + n
		}
		fmt.Fprintf(&b, "- **%s** : %s\n", labels[k], strings.Join(names, ", "))
	}

	if !req.Msg.IsDirect {
		cfg, ok := r.deps.Tenants.Get(req.Msg.TenantID)
		if !ok {
			d := r.deps.Tenants.Defaults()
			cfg = tenant.Config{TenantID: req.Msg.TenantID, Channel: d.Channel, HolidaySkip: d.HolidaySkip, SchedulerOn: d.SchedulerOn}
		}
		b.WriteString("\n" + c.HelpTenant + "\n")
		fmt.Fprintf(&b, "- **%s** : %s\n", c.HelpChannel, cfg.Channel)
		fmt.Fprintf(&b, "- **%s** : %s\n", c.HelpHolidayFlag, c.OnOff(cfg.HolidaySkip))
		fmt.Fprintf(&b, "- **%s** : %s\n", c.HelpAutoFlag, c.OnOff(cfg.SchedulerOn))
	}

	info := r.helpInfo()
	b.WriteString("\n" + c.HelpGlobal + "\n")
	for _, m := range info.Meals {
		fmt.Fprintf(&b, "- **%s** : %s\n", fmt.Sprintf(c.HelpMealTime, m.Name), m.At)
	}
	fmt.Fprintf(&b, "- **%s** :\n", c.HelpRestaurants)
	for _, s := range info.Restaurants {
		fmt.Fprintf(&b, "  - %s: %s\n", s.Name, s.URL)
	}
	return b.String(), nil
}

func (r *Router) audit(ctx context.Context, req *Request, value string, err error) {
	if r.deps.Audit == nil {
		return
	}
	e := storage.AuditEntry{
		At:        time.Now(),
		TenantID:  req.Msg.TenantID,
		ActorID:   req.Msg.AuthorID,
		ActorName: req.Msg.AuthorName,
		Action:    string(req.Kind),
		OK:        err == nil,
	}
	if err == nil {
		e.Value = value
	} else {
		e.Error = err.Error()
	}
	// A timed out command still gets its audit line.
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if aerr := r.deps.Audit.AppendAudit(actx, e); aerr != nil && !errors.Is(aerr, storage.ErrClosed) {
		req.Logger.Warn("audit append failed", logx.Err(aerr))
	}
}

func strconvBool(v bool) string {
	if v {
		return "on"
	}
	return "off"
}
