// Package transport defines the chat platform surface used by the bot.
package transport

import (
	"context"
	"errors"
	"time"
)

// ErrForbidden means the bot lacks permission to post in a channel.
var ErrForbidden = errors.New("transport: forbidden")

type UpdateKind string

const (
	UpdateMessage      UpdateKind = "message"
	UpdateTenantJoined UpdateKind = "tenant_joined"
	UpdateTenantLeft   UpdateKind = "tenant_left"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
	Tenant  *Tenant
}

// Tenant is a chat server (Discord guild, Telegram group).
type Tenant struct {
	ID   string
	Name string
}

// Channel is a text destination inside a tenant.
type Channel struct {
	TenantID  string
	ID        string
	Name      string
	CreatedAt time.Time
	Position  int
}

type Message struct {
	ID         string
	TenantID   string
	ChannelID  string
	AuthorID   string
	AuthorName string
	Text       string
	// IsDirect is set for private chats that belong to no tenant.
	IsDirect bool
}

// Gateway is implemented by each platform driver.
type Gateway interface {
	// Start connects and forwards updates to out until Stop or ctx ends.
	// It returns once the initial tenant list is known.
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	ListTenants(ctx context.Context) ([]Tenant, error)
	// ListChannels returns the text channels of a tenant in no particular order.
	ListChannels(ctx context.Context, tenantID string) ([]Channel, error)
	CanSend(ctx context.Context, ch Channel) (bool, error)
	// Send posts text to a channel, split into platform-sized chunks.
	Send(ctx context.Context, ch Channel, text string) error
	// Reply answers an inbound message in its channel.
	Reply(ctx context.Context, to *Message, text string) error
}
