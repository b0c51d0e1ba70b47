package commands

import (
	"strings"

	"github.com/Hawon-Oh/NyamNyamPing/internal/config"
)

// Kind identifies a command handler.
type Kind string

const (
	KindMenu        Kind = "menu"
	KindHelp        Kind = "help"
	KindTest        Kind = "test"
	KindHolidaySkip Kind = "holiday_skip"
	KindAutoMessage Kind = "auto_message"
	KindSetChannel  Kind = "set_channel"
)

// Kinds in help order.
var Kinds = []Kind{KindMenu, KindHelp, KindHolidaySkip, KindAutoMessage, KindSetChannel, KindTest}

const DefaultPrefix = "!"

// Table maps every configured name and alias to its command. Lookups are
// case-insensitive.
type Table struct {
	prefix string
	byName map[string]Kind
	names  map[Kind][]string
}

// BuildTable rejects empty commands and names shared by two commands.
func BuildTable(cfg config.CommandsConfig) (*Table, error) {
	if err := config.ValidateCommandNames(cfg); err != nil {
		return nil, err
	}
	t := &Table{
		prefix: strings.TrimSpace(cfg.Prefix),
		byName: map[string]Kind{},
		names:  map[Kind][]string{},
	}
	if t.prefix == "" {
		t.prefix = DefaultPrefix
	}
	groups := map[Kind][]string{
		KindMenu:        cfg.Menu,
		KindHelp:        cfg.Help,
		KindTest:        cfg.Test,
		KindHolidaySkip: cfg.HolidaySkip,
		KindAutoMessage: cfg.AutoMessage,
		KindSetChannel:  cfg.SetChannel,
	}
	for _, k := range Kinds {
		for _, n := range groups[k] {
			n = strings.TrimSpace(n)
			t.byName[strings.ToLower(n)] = k
			t.names[k] = append(t.names[k], n)
		}
	}
	return t, nil
}

func (t *Table) Prefix() string { return t.prefix }

func (t *Table) Lookup(word string) (Kind, bool) {
	k, ok := t.byName[strings.ToLower(word)]
	return k, ok
}

// Names returns the name and aliases of k in configured order.
func (t *Table) Names(k Kind) []string { return append([]string(nil), t.names[k]...) }

// Parse splits a message into command word and args. It reports false when
// text does not start with the prefix. A trailing "@botname" is dropped.
func (t *Table) Parse(text string) (word string, args []string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, t.prefix) {
		return "", nil, false
	}
	parts := tokenizeCommandLine(strings.TrimPrefix(text, t.prefix))
	if len(parts) == 0 {
		return "", nil, false
	}
	word = parts[0]
	if i := strings.IndexByte(word, '@'); i > 0 {
		word = word[:i]
	}
	return word, parts[1:], true
}
