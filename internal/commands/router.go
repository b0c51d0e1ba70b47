// Package commands parses chat messages into bot commands and runs them on a
// bounded worker pool.
package commands

import (
	"context"
	"fmt"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Hawon-Oh/NyamNyamPing/internal/eventbus"
	"github.com/Hawon-Oh/NyamNyamPing/internal/locale"
	"github.com/Hawon-Oh/NyamNyamPing/internal/menu"
	rtsup "github.com/Hawon-Oh/NyamNyamPing/internal/runtime/supervisor"
	"github.com/Hawon-Oh/NyamNyamPing/internal/storage"
	"github.com/Hawon-Oh/NyamNyamPing/internal/tenant"
	"github.com/Hawon-Oh/NyamNyamPing/internal/transport"
	logx "github.com/Hawon-Oh/NyamNyamPing/pkg/logx"
)

const (
	defaultWorkers   = 4
	defaultQueueSize = 64
	defaultTimeout   = 45 * time.Second
)

type Replier interface {
	Reply(ctx context.Context, to *transport.Message, text string) error
}

type ChannelLister interface {
	ListChannels(ctx context.Context, tenantID string) ([]transport.Channel, error)
}

// Tenants is the part of *tenant.Registry used by commands.
type Tenants interface {
	Get(id string) (tenant.Config, bool)
	Defaults() tenant.Defaults
	SetChannel(ctx context.Context, id, channel string) (tenant.Config, error)
	ToggleHolidaySkip(ctx context.Context, id string) (tenant.Config, error)
	ToggleScheduler(ctx context.Context, id string) (tenant.Config, error)
}

type MenuSource interface {
	DispatchToOne(ctx context.Context, tenantID string) (string, error)
}

type Refresher interface {
	Refresh(ctx context.Context) (menu.Snapshot, error)
}

type Auditor interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

// Deps are the collaborators of the handlers. Audit may be nil.
type Deps struct {
	Replier  Replier
	Channels ChannelLister
	Tenants  Tenants
	Menu     MenuSource
	Fetch    Refresher
	Audit    Auditor
}

type MealTime struct {
	Name string
	At   string
}

// HelpInfo is the bot-wide part of the help text.
type HelpInfo struct {
	Meals       []MealTime
	Restaurants []menu.Restaurant
}

type Options struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
}

// HandledEvent is published after every recognized command.
type HandledEvent struct {
	ReqID    string
	Kind     Kind
	TenantID string
	OK       bool
	Duration time.Duration
}

type Request struct {
	ReqID   string
	Kind    Kind
	Word    string
	Args    []string
	Msg     *transport.Message
	Table   *Table
	Catalog locale.Catalog
	Logger  logx.Logger
}

type Router struct {
	mu      sync.RWMutex
	table   *Table
	catalog locale.Catalog
	owners  map[string]struct{}
	info    HelpInfo

	deps    Deps
	opts    Options
	log     logx.Logger
	bus     eventbus.Bus
	handler map[Kind]HandlerFunc

	runMu   sync.Mutex
	jobs    chan func()
	running bool
}

func NewRouter(table *Table, deps Deps, opts Options, log logx.Logger, bus eventbus.Bus) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	r := &Router{
		table:   table,
		catalog: locale.Get(""),
		owners:  map[string]struct{}{},
		deps:    deps,
		opts:    opts,
		log:     log,
		bus:     bus,
	}
	mw := []Middleware{MWPanicRecover(log), MWRequestLog(log), MWTimeout(opts.Timeout)}
	r.handler = map[Kind]HandlerFunc{
		KindMenu:        Chain(r.handleMenu, mw...),
		KindHelp:        Chain(r.handleHelp, mw...),
		KindTest:        Chain(r.handleTest, mw...),
		KindHolidaySkip: Chain(r.handleHolidaySkip, mw...),
		KindAutoMessage: Chain(r.handleAutoMessage, mw...),
		KindSetChannel:  Chain(r.handleSetChannel, mw...),
	}
	return r
}

// SetTable swaps the command table. A nil table is ignored.
func (r *Router) SetTable(t *Table) {
	if t == nil {
		return
	}
	r.mu.Lock()
	r.table = t
	r.mu.Unlock()
}

func (r *Router) SetCatalog(c locale.Catalog) {
	r.mu.Lock()
	r.catalog = c
	r.mu.Unlock()
}

// SetOwners replaces the ids allowed to run owner-only commands. With no
// owners every user may run them.
func (r *Router) SetOwners(ids []string) {
	m := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			m[id] = struct{}{}
		}
	}
	r.mu.Lock()
	r.owners = m
	r.mu.Unlock()
}

func (r *Router) SetInfo(info HelpInfo) {
	r.mu.Lock()
	r.info = info
	r.mu.Unlock()
}

func (r *Router) isOwner(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.owners) == 0 {
		return true
	}
	_, ok := r.owners[id]
	return ok
}

func (r *Router) helpInfo() HelpInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.info
}

// Run feeds msgs to the worker pool until ctx ends or msgs is closed.
func (r *Router) Run(ctx context.Context, msgs <-chan *transport.Message) error {
	jobs := make(chan func(), r.opts.QueueSize)
	r.runMu.Lock()
	r.jobs, r.running = jobs, true
	r.runMu.Unlock()

	sup := rtsup.New(ctx, rtsup.WithLogger(r.log.With(logx.String("comp", "commands"))), rtsup.WithCancelOnError(false))
	for i := 0; i < r.opts.Workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-jobs:
					if !ok {
						return nil
					}
					func() {
						defer func() {
							if rec := recover(); rec != nil {
								r.log.Error("panic in command job", logx.Int("worker", idx), logx.Any("panic", rec), logx.Stack(string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second), rtsup.WithPublishFirstError(true))
	}
	r.log.Info("command router started", logx.Int("workers", r.opts.Workers), logx.Int("queue", cap(jobs)))

	defer func() {
		r.runMu.Lock()
		r.running = false
		close(jobs)
		r.runMu.Unlock()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		sup.Cancel()
		r.log.Info("command router stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			if msg == nil {
				continue
			}
			m := msg
			if !r.tryEnqueue(func() { r.Handle(ctx, m) }) {
				r.log.Warn("command dropped: queue full", logx.String("tenant", m.TenantID), logx.String("author", m.AuthorID))
			}
		}
	}
}

func (r *Router) tryEnqueue(fn func()) (ok bool) {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if !r.running {
		return false
	}
	defer func() {
		if rec := recover(); rec != nil {
			ok = false
		}
	}()
	select {
	case r.jobs <- fn:
		return true
	default:
		return false
	}
}

// Handle runs one message synchronously. Non-command text and unknown
// commands are ignored.
func (r *Router) Handle(ctx context.Context, msg *transport.Message) {
	r.mu.RLock()
	table, catalog := r.table, r.catalog
	r.mu.RUnlock()
	if table == nil || msg == nil {
		return
	}
	word, args, ok := table.Parse(msg.Text)
	if !ok {
		return
	}
	kind, ok := table.Lookup(word)
	if !ok {
		r.log.Debug("unknown command", logx.String("word", word), logx.String("tenant", msg.TenantID))
		return
	}

	rid := newReqID()
	req := &Request{
		ReqID:   rid,
		Kind:    kind,
		Word:    word,
		Args:    args,
		Msg:     msg,
		Table:   table,
		Catalog: catalog,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.String("tenant", msg.TenantID),
			logx.String("author", msg.AuthorID),
		),
	}

	start := time.Now()
	reply, err := r.handler[kind](ctx, req)
	if err != nil && reply == "" {
		reply = fmt.Sprintf(catalog.CommandFailed, err)
	}
	if reply != "" && r.deps.Replier != nil {
		if rerr := r.deps.Replier.Reply(ctx, msg, reply); rerr != nil {
			req.Logger.Warn("reply failed", logx.String("cmd", string(kind)), logx.Err(rerr))
			if err == nil {
				err = rerr
			}
		}
	}
	r.bus.Publish(eventbus.Event{Type: eventbus.CommandHandled, Data: HandledEvent{
		ReqID:    rid,
		Kind:     kind,
		TenantID: msg.TenantID,
		OK:       err == nil,
		Duration: time.Since(start),
	}})
}
