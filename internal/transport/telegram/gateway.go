// Package telegram is the Telegram driver of transport.Gateway.
//
// A tenant is a group chat. Its channels are the root chat (id "0", named
// "general") plus forum topics seen since startup.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "github.com/Hawon-Oh/NyamNyamPing/internal/runtime/supervisor"
	"github.com/Hawon-Oh/NyamNyamPing/internal/transport"
	logx "github.com/Hawon-Oh/NyamNyamPing/pkg/logx"
)

const (
	textLimit          = 4000
	rootChannelID      = "0"
	rootChannelName    = "general"
	defaultPollTimeout = 10 * time.Second
)

type Config struct {
	Token       string
	PollTimeout time.Duration
	// Offline skips the getMe call; used by tests.
	Offline bool
}

type chatInfo struct {
	title  string
	topics map[int]topic
}

type topic struct {
	name    string
	created time.Time
}

type Gateway struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot
	fwd transport.Forwarder

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	mu    sync.RWMutex
	chats map[int64]*chatInfo
}

var _ transport.Gateway = (*Gateway)(nil)

func New(cfg Config, log logx.Logger) (*Gateway, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Poller:  &tele.LongPoller{Timeout: cfg.PollTimeout, AllowedUpdates: []string{"message", "my_chat_member"}},
		Offline: cfg.Offline,
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	g := &Gateway{cfg: cfg, log: log, bot: b, chats: map[int64]*chatInfo{}}
	g.registerHandlers()
	return g, nil
}

// Seed registers chats known from a previous run. Telegram cannot list the
// chats a bot belongs to, so the persisted registry is the starting point.
func (g *Gateway) Seed(tenantIDs []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, s := range tenantIDs {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			continue
		}
		if _, ok := g.chats[id]; !ok {
			g.chats[id] = &chatInfo{topics: map[int]topic{}}
		}
	}
}

func (g *Gateway) registerHandlers() {
	g.bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Sender == nil || m.Sender.IsBot {
			return nil
		}
		direct := m.Chat.Type == tele.ChatPrivate
		tenantID := ""
		if !direct {
			tenantID = g.observe(m.Chat)
		}
		g.fwd.Forward(transport.Update{Kind: transport.UpdateMessage, Message: &transport.Message{
			ID:         strconv.Itoa(m.ID),
			TenantID:   tenantID,
			ChannelID:  threadChannelID(m),
			AuthorID:   strconv.FormatInt(m.Sender.ID, 10),
			AuthorName: m.Sender.Username,
			Text:       m.Text,
			IsDirect:   direct,
		}})
		return nil
	})

	g.bot.Handle(tele.OnTopicCreated, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.TopicCreated == nil {
			return nil
		}
		g.observe(m.Chat)
		g.mu.Lock()
		if ci := g.chats[m.Chat.ID]; ci != nil {
			ci.topics[m.ThreadID] = topic{name: m.TopicCreated.Name, created: m.Time()}
		}
		g.mu.Unlock()
		return nil
	})

	g.bot.Handle(tele.OnMyChatMember, func(c tele.Context) error {
		u := c.ChatMember()
		if u == nil || u.Chat == nil || u.NewChatMember == nil || u.Chat.Type == tele.ChatPrivate {
			return nil
		}
		t := &transport.Tenant{ID: strconv.FormatInt(u.Chat.ID, 10), Name: u.Chat.Title}
		if isMember(u.NewChatMember.Role) {
			g.observe(u.Chat)
			g.fwd.Forward(transport.Update{Kind: transport.UpdateTenantJoined, Tenant: t})
			return nil
		}
		g.mu.Lock()
		delete(g.chats, u.Chat.ID)
		g.mu.Unlock()
		g.fwd.Forward(transport.Update{Kind: transport.UpdateTenantLeft, Tenant: t})
		return nil
	})
}

// observe records a group chat and returns its tenant id.
func (g *Gateway) observe(chat *tele.Chat) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	ci := g.chats[chat.ID]
	if ci == nil {
		ci = &chatInfo{topics: map[int]topic{}}
		g.chats[chat.ID] = ci
	}
	if chat.Title != "" {
		ci.title = chat.Title
	}
	return strconv.FormatInt(chat.ID, 10)
}

func (g *Gateway) Start(ctx context.Context, out chan<- transport.Update) error {
	g.runMu.Lock()
	if g.running {
		g.runMu.Unlock()
		return nil
	}
	g.running = true
	g.fwd.Swap(out)
	g.sup = rtsup.New(ctx, rtsup.WithLogger(g.log), rtsup.WithCancelOnError(false))
	sup := g.sup
	g.runMu.Unlock()

	g.verifySeeded(ctx)

	sup.Go0("updates.drop_report", func(c context.Context) {
		g.fwd.ReportDrops(c, 5*time.Second, g.log)
	})
	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		g.bot.Stop()
	})
	// bot.Start blocks until Stop. Restart it if it returns early.
	sup.GoRestart("telebot.poll", func(c context.Context) error {
		g.log.Info("polling started")
		g.bot.Start()
		g.log.Info("polling stopped")
		if c.Err() != nil {
			return c.Err()
		}
		return errors.New("poller exited")
	}, rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second), rtsup.WithPublishFirstError(true))
	return nil
}

// verifySeeded drops seeded chats the bot no longer belongs to.
func (g *Gateway) verifySeeded(ctx context.Context) {
	if g.cfg.Offline {
		return
	}
	g.mu.RLock()
	ids := make([]int64, 0, len(g.chats))
	for id := range g.chats {
		ids = append(ids, id)
	}
	g.mu.RUnlock()

	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		chat, err := g.bot.ChatByID(id)
		if err == nil && g.bot.Me != nil {
			var m *tele.ChatMember
			if m, err = g.bot.ChatMemberOf(chat, g.bot.Me); err == nil && isMember(m.Role) {
				g.observe(chat)
				continue
			}
		}
		if err != nil && !isForbidden(err) {
			// Keep the chat on transient errors.
			g.log.Warn("telegram chat check failed", logx.Int64("chat", id), logx.Err(err))
			continue
		}
		g.mu.Lock()
		delete(g.chats, id)
		g.mu.Unlock()
		g.log.Info("telegram chat no longer joined", logx.Int64("chat", id))
	}
}

func (g *Gateway) Stop(ctx context.Context) error {
	g.runMu.Lock()
	sup := g.sup
	was := g.running
	g.sup, g.running = nil, false
	g.fwd.Swap(nil)
	g.runMu.Unlock()
	if !was {
		return nil
	}
	if sup != nil {
		sup.Cancel()
	}
	go g.bot.Stop()

	// Do not hold shutdown on a pending long poll.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if sup != nil {
		if err := sup.Wait(wctx); err != nil && sup.Context().Err() == nil {
			g.log.Warn("telegram stop error", logx.Err(err))
		}
	}
	g.log.Info("telegram stopped")
	return nil
}

func (g *Gateway) ListTenants(context.Context) ([]transport.Tenant, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]transport.Tenant, 0, len(g.chats))
	for id, ci := range g.chats {
		out = append(out, transport.Tenant{ID: strconv.FormatInt(id, 10), Name: ci.title})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (g *Gateway) ListChannels(_ context.Context, tenantID string) ([]transport.Channel, error) {
	id, err := strconv.ParseInt(tenantID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("telegram: bad chat id %q", tenantID)
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := []transport.Channel{{TenantID: tenantID, ID: rootChannelID, Name: rootChannelName}}
	if ci := g.chats[id]; ci != nil {
		for tid, t := range ci.topics {
			out = append(out, transport.Channel{TenantID: tenantID, ID: strconv.Itoa(tid), Name: t.name, CreatedAt: t.created})
		}
	}
	return out, nil
}

func (g *Gateway) CanSend(_ context.Context, ch transport.Channel) (bool, error) {
	id, err := strconv.ParseInt(ch.TenantID, 10, 64)
	if err != nil {
		return false, fmt.Errorf("telegram: bad chat id %q", ch.TenantID)
	}
	if g.bot.Me == nil {
		return false, errors.New("telegram: bot identity unknown")
	}
	m, err := g.bot.ChatMemberOf(&tele.Chat{ID: id}, g.bot.Me)
	if err != nil {
		return false, mapErr(err)
	}
	switch m.Role {
	case tele.Creator, tele.Administrator, tele.Member:
		return true, nil
	case tele.Restricted:
		return m.CanSendMessages, nil
	default:
		return false, nil
	}
}

func (g *Gateway) Send(ctx context.Context, ch transport.Channel, text string) error {
	chatID, err := strconv.ParseInt(ch.TenantID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: bad chat id %q", ch.TenantID)
	}
	thread := 0
	if ch.ID != "" && ch.ID != rootChannelID {
		if thread, err = strconv.Atoi(ch.ID); err != nil {
			return fmt.Errorf("telegram: bad topic id %q", ch.ID)
		}
	}
	chat := &tele.Chat{ID: chatID}
	for _, chunk := range transport.SplitText(PlainText(text), textLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := g.bot.Send(chat, chunk, &tele.SendOptions{ThreadID: thread}); err != nil {
			return mapErr(err)
		}
	}
	return nil
}

func (g *Gateway) Reply(ctx context.Context, to *transport.Message, text string) error {
	tenantID := to.TenantID
	if to.IsDirect {
		// Private chats: the author id is the chat id.
		tenantID = to.AuthorID
	}
	return g.Send(ctx, transport.Channel{TenantID: tenantID, ID: to.ChannelID}, text)
}

// PlainText drops the "**bold**" markers used by the shared bot texts.
func PlainText(s string) string { return strings.ReplaceAll(s, "**", "") }

func threadChannelID(m *tele.Message) string {
	if m.TopicMessage && m.ThreadID != 0 {
		return strconv.Itoa(m.ThreadID)
	}
	return rootChannelID
}

func isMember(r tele.MemberStatus) bool {
	switch r {
	case tele.Creator, tele.Administrator, tele.Member, tele.Restricted:
		return true
	}
	return false
}

func isForbidden(err error) bool { return errors.Is(mapErr(err), transport.ErrForbidden) }

func mapErr(err error) error {
	var te *tele.Error
	if errors.As(err, &te) {
		if te.Code == http.StatusForbidden || (te.Code == http.StatusBadRequest && strings.Contains(strings.ToLower(te.Description), "rights")) {
			return fmt.Errorf("%w: %w", transport.ErrForbidden, err)
		}
	}
	return err
}
