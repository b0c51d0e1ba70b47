package discord

import (
	"errors"
	"net/http"
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/Hawon-Oh/NyamNyamPing/internal/transport"
	logx "github.com/Hawon-Oh/NyamNyamPing/pkg/logx"
)

func TestMapErr(t *testing.T) {
	t.Parallel()

	forbidden := &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusForbidden}}
	if !errors.Is(mapErr(forbidden), transport.ErrForbidden) {
		t.Fatalf("403 not mapped")
	}
	missing := &discordgo.RESTError{
		Response: &http.Response{StatusCode: http.StatusBadRequest},
		Message:  &discordgo.APIErrorMessage{Code: discordgo.ErrCodeMissingPermissions},
	}
	if !errors.Is(mapErr(missing), transport.ErrForbidden) {
		t.Fatalf("missing permissions not mapped")
	}
	other := errors.New("boom")
	if mapErr(other) != other {
		t.Fatalf("unrelated error changed")
	}
}

func TestNewRequiresToken(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{Token: " "}, logx.Nop()); err == nil {
		t.Fatalf("expected error")
	}
	g, err := New(Config{Token: "abc"}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if g.cfg.ReadyTimeout != defaultReadyTimeout {
		t.Fatalf("ready timeout=%s", g.cfg.ReadyTimeout)
	}
	if g.s.Identify.Intents&discordgo.IntentsMessageContent == 0 {
		t.Fatalf("message content intent missing")
	}
}
