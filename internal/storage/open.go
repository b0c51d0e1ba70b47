package storage

import (
	"fmt"
	"strings"

	logx "github.com/Hawon-Oh/NyamNyamPing/pkg/logx"
)

const (
	defaultFilePath   = "./data/servers.json"
	defaultSQLitePath = "./data/nyamnyam.db"
)

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "file":
		if strings.TrimSpace(cfg.Path) == "" {
			cfg.Path = defaultFilePath
		}
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Path) == "" {
			cfg.Path = defaultSQLitePath
		}
		return openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
}
