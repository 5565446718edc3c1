// Package sqlite persists chat exchanges in SQLite (modernc.org/sqlite,
// pure Go) and serves them back as session history.
package sqlite

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/tierllm/internal/core"
	"github.com/flemzord/tierllm/internal/history"
)

// Service names registered by the module.
const (
	HistorySourceService = "history.source"
	RecorderService      = "chatlog.recorder"
)

func init() {
	core.RegisterModule(&Module{})
}

// Compile-time interface guards.
var (
	_ history.Source    = (*ChatLog)(nil)
	_ Recorder          = (*ChatLog)(nil)
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
)

// Module provides the chat log to the rest of the application.
type Module struct {
	config Config
	logger *slog.Logger
	log    *ChatLog
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "chatlog.sqlite",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("chatlog: decode config: %w", err)
	}
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	m.logger = ctx.Logger

	if m.config.Path == "" {
		m.config.Path = filepath.Join(ctx.DataDir, defaultDBFile)
	}

	db, err := openDB(context.TODO(), m.config)
	if err != nil {
		return err
	}
	m.log = &ChatLog{db: db, limit: m.config.LoadLimit}

	ctx.RegisterService(HistorySourceService, history.Source(m.log))
	ctx.RegisterService(RecorderService, Recorder(m.log))

	m.logger.Info("chat log provisioned",
		"path", m.config.Path,
		"wal", m.config.walEnabled(),
	)
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	if err := m.config.validate(); err != nil {
		return err
	}
	if err := m.log.db.PingContext(context.TODO()); err != nil {
		return fmt.Errorf("chatlog: ping failed: %w", err)
	}
	return nil
}

// Stop implements core.Stopper.
func (m *Module) Stop(context.Context) error {
	if m.log == nil {
		return nil
	}
	m.logger.Info("chat log stopping")
	return m.log.Close()
}

// ChatLog returns the underlying chat log.
func (m *Module) ChatLog() *ChatLog {
	return m.log
}
