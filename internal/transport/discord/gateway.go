// Package discord is the Discord driver of transport.Gateway.
package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	rtsup "github.com/Hawon-Oh/NyamNyamPing/internal/runtime/supervisor"
	"github.com/Hawon-Oh/NyamNyamPing/internal/transport"
	logx "github.com/Hawon-Oh/NyamNyamPing/pkg/logx"
)

const (
	textLimit           = 2000
	defaultReadyTimeout = 30 * time.Second
)

type Config struct {
	Token        string
	ReadyTimeout time.Duration
}

type Gateway struct {
	cfg Config
	log logx.Logger

	s   *discordgo.Session
	fwd transport.Forwarder

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor
	ready   chan struct{}
	once    sync.Once
}

var _ transport.Gateway = (*Gateway)(nil)

func New(cfg Config, log logx.Logger) (*Gateway, error) {
	tok := strings.TrimSpace(cfg.Token)
	if tok == "" {
		return nil, errors.New("discord token is empty")
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = defaultReadyTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s, err := discordgo.New("Bot " + tok)
	if err != nil {
		return nil, err
	}
	s.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent | discordgo.IntentsDirectMessages
	s.ShouldReconnectOnError = true

	g := &Gateway{cfg: cfg, log: log, s: s, ready: make(chan struct{})}
	g.registerHandlers()
	return g, nil
}

func (g *Gateway) registerHandlers() {
	g.s.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		g.log.Info("discord ready", logx.String("user", r.User.Username), logx.Int("guilds", len(r.Guilds)))
		g.once.Do(func() { close(g.ready) })
	})

	// GuildCreate also fires for every guild after connecting; Add is idempotent.
	g.s.AddHandler(func(_ *discordgo.Session, e *discordgo.GuildCreate) {
		if e.Guild == nil {
			return
		}
		g.fwd.Forward(transport.Update{Kind: transport.UpdateTenantJoined, Tenant: &transport.Tenant{ID: e.ID, Name: e.Name}})
	})

	g.s.AddHandler(func(_ *discordgo.Session, e *discordgo.GuildDelete) {
		// Unavailable means an outage, not a removal.
		if e.Guild == nil || e.Unavailable {
			return
		}
		g.fwd.Forward(transport.Update{Kind: transport.UpdateTenantLeft, Tenant: &transport.Tenant{ID: e.ID, Name: e.Name}})
	})

	g.s.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Message == nil || m.Author == nil || m.Author.Bot {
			return
		}
		g.fwd.Forward(transport.Update{Kind: transport.UpdateMessage, Message: &transport.Message{
			ID:         m.ID,
			TenantID:   m.GuildID,
			ChannelID:  m.ChannelID,
			AuthorID:   m.Author.ID,
			AuthorName: m.Author.Username,
			Text:       m.Content,
			IsDirect:   m.GuildID == "",
		}})
	})
}

// Start opens the websocket and waits for READY so ListTenants is populated.
func (g *Gateway) Start(ctx context.Context, out chan<- transport.Update) error {
	g.runMu.Lock()
	if g.running {
		g.runMu.Unlock()
		return nil
	}
	g.fwd.Swap(out)
	if err := g.s.Open(); err != nil {
		g.fwd.Swap(nil)
		g.runMu.Unlock()
		return fmt.Errorf("discord open: %w", err)
	}
	g.running = true
	g.sup = rtsup.New(ctx, rtsup.WithLogger(g.log), rtsup.WithCancelOnError(false))
	sup := g.sup
	g.runMu.Unlock()

	sup.Go0("updates.drop_report", func(c context.Context) {
		g.fwd.ReportDrops(c, 5*time.Second, g.log)
	})

	t := time.NewTimer(g.cfg.ReadyTimeout)
	defer t.Stop()
	select {
	case <-g.ready:
		return nil
	case <-t.C:
		return fmt.Errorf("discord: no READY within %s", g.cfg.ReadyTimeout)
	case <-ctx.Done():
		return ctx.Err()
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
	err := g.s.Close()
	if sup != nil {
		if werr := sup.Stop(ctx); werr != nil && !errors.Is(werr, context.Canceled) {
			g.log.Warn("discord stop timed out", logx.Err(werr))
		}
	}
	g.log.Info("discord stopped")
	return err
}

func (g *Gateway) ListTenants(context.Context) ([]transport.Tenant, error) {
	st := g.s.State
	st.RLock()
	defer st.RUnlock()
	out := make([]transport.Tenant, 0, len(st.Guilds))
	for _, gd := range st.Guilds {
		out = append(out, transport.Tenant{ID: gd.ID, Name: gd.Name})
	}
	return out, nil
}

func (g *Gateway) ListChannels(ctx context.Context, tenantID string) ([]transport.Channel, error) {
	chs, err := g.s.GuildChannels(tenantID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapErr(err)
	}
	out := make([]transport.Channel, 0, len(chs))
	for _, c := range chs {
		if c.Type != discordgo.ChannelTypeGuildText && c.Type != discordgo.ChannelTypeGuildNews {
			continue
		}
		created, _ := discordgo.SnowflakeTimestamp(c.ID)
		out = append(out, transport.Channel{TenantID: tenantID, ID: c.ID, Name: c.Name, CreatedAt: created, Position: c.Position})
	}
	return out, nil
}

const sendPerms = discordgo.PermissionViewChannel | discordgo.PermissionSendMessages

func (g *Gateway) CanSend(ctx context.Context, ch transport.Channel) (bool, error) {
	if g.s.State == nil || g.s.State.User == nil {
		return false, errors.New("discord: not ready")
	}
	perms, err := g.s.UserChannelPermissions(g.s.State.User.ID, ch.ID, discordgo.WithContext(ctx))
	if err != nil {
		return false, mapErr(err)
	}
	return perms&sendPerms == sendPerms, nil
}

func (g *Gateway) Send(ctx context.Context, ch transport.Channel, text string) error {
	for _, chunk := range transport.SplitText(text, textLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := g.s.ChannelMessageSend(ch.ID, chunk, discordgo.WithContext(ctx)); err != nil {
			return mapErr(err)
		}
	}
	return nil
}

func (g *Gateway) Reply(ctx context.Context, to *transport.Message, text string) error {
	return g.Send(ctx, transport.Channel{TenantID: to.TenantID, ID: to.ChannelID}, text)
}

func mapErr(err error) error {
	var re *discordgo.RESTError
	if errors.As(err, &re) {
		if re.Response != nil && re.Response.StatusCode == http.StatusForbidden {
			return fmt.Errorf("%w: %w", transport.ErrForbidden, err)
		}
		if re.Message != nil && (re.Message.Code == discordgo.ErrCodeMissingPermissions || re.Message.Code == discordgo.ErrCodeMissingAccess) {
			return fmt.Errorf("%w: %w", transport.ErrForbidden, err)
		}
	}
	return err
}
