package sqlite

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/flemzord/tierllm/internal/core"
	"github.com/flemzord/tierllm/internal/history"
)

func newTestModule(t *testing.T) *Module {
	t.Helper()

	dir := t.TempDir()
	m := &Module{config: Config{Path: filepath.Join(dir, "test.db")}}
	ctx := core.NewAppContext(slog.Default(), dir)

	if err := m.Provision(ctx); err != nil {
		t.Fatalf("provision: %v", err)
	}
	if err := m.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	t.Cleanup(func() {
		_ = m.Stop(context.Background())
	})
	return m
}

func TestModule_RegistersServices(t *testing.T) {
	dir := t.TempDir()
	m := &Module{}
	ctx := core.NewAppContext(slog.Default(), dir)
	if err := m.Provision(ctx); err != nil {
		t.Fatalf("provision: %v", err)
	}
	defer func() { _ = m.Stop(context.Background()) }()

	if m.config.Path != filepath.Join(dir, defaultDBFile) {
		t.Errorf("Path = %q, want default under data dir", m.config.Path)
	}
	if _, ok := core.ServiceAs[history.Source](ctx, HistorySourceService); !ok {
		t.Error("history source not registered")
	}
	if _, ok := core.ServiceAs[Recorder](ctx, RecorderService); !ok {
		t.Error("recorder not registered")
	}
}

func TestRecordAndLoadHistory(t *testing.T) {
	m := newTestModule(t)
	log := m.ChatLog()
	ctx := context.Background()

	exchanges := [][2]string{
		{"hello", "hi there"},
		{"how are you?", "fine"},
		{"bye", "goodbye"},
	}
	for _, ex := range exchanges {
		if err := log.Record(ctx, "u1", "s1", ex[0], ex[1]); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if err := log.Record(ctx, "u1", "other", "noise", "noise"); err != nil {
		t.Fatalf("record: %v", err)
	}

	got, err := log.LoadHistory(ctx, "u1", "s1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != len(exchanges) {
		t.Fatalf("got %d exchanges, want %d", len(got), len(exchanges))
	}
	for i, ex := range got {
		if ex.UserMessage != exchanges[i][0] || ex.AssistantMessage != exchanges[i][1] {
			t.Errorf("exchange %d = %+v, want %v", i, ex, exchanges[i])
		}
		if ex.CreatedAt.IsZero() {
			t.Errorf("exchange %d has zero CreatedAt", i)
		}
		if time.Since(ex.CreatedAt) > time.Hour {
			t.Errorf("exchange %d CreatedAt = %v, want recent", i, ex.CreatedAt)
		}
	}
}

func TestLoadHistory_UserFilter(t *testing.T) {
	m := newTestModule(t)
	log := m.ChatLog()
	ctx := context.Background()

	_ = log.Record(ctx, "alice", "shared", "a", "A")
	_ = log.Record(ctx, "bob", "shared", "b", "B")

	tests := []struct {
		user string
		want int
	}{
		{"alice", 1},
		{"bob", 1},
		{"", 2},
		{"carol", 0},
	}
	for _, tt := range tests {
		got, err := log.LoadHistory(ctx, tt.user, "shared")
		if err != nil {
			t.Fatalf("load(%q): %v", tt.user, err)
		}
		if len(got) != tt.want {
			t.Errorf("load(%q) = %d exchanges, want %d", tt.user, len(got), tt.want)
		}
	}
}

func TestLoadHistory_LimitKeepsMostRecent(t *testing.T) {
	m := newTestModule(t)
	log := m.ChatLog()
	log.limit = 2
	ctx := context.Background()

	for i := range 5 {
		_ = log.Record(ctx, "", "s", fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i))
	}

	got, err := log.LoadHistory(ctx, "", "s")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 2 || got[0].UserMessage != "q3" || got[1].UserMessage != "q4" {
		t.Errorf("got %+v, want q3 then q4", got)
	}
}

func TestRecord_RequiresSession(t *testing.T) {
	m := newTestModule(t)
	if err := m.ChatLog().Record(context.Background(), "u", "", "m", "r"); err == nil {
		t.Error("Record with empty session = nil, want error")
	}
}

func TestPurgeAndSessions(t *testing.T) {
	m := newTestModule(t)
	log := m.ChatLog()
	ctx := context.Background()

	_ = log.Record(ctx, "", "old", "m", "r")
	_ = log.Record(ctx, "", "new", "m", "r")
	_ = log.Record(ctx, "", "new", "m2", "r2")

	ids, err := log.Sessions(ctx)
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if len(ids) != 2 || ids[0] != "new" || ids[1] != "old" {
		t.Errorf("Sessions = %v, want [new old]", ids)
	}

	n, err := log.Purge(ctx, "new")
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 2 {
		t.Errorf("purged %d rows, want 2", n)
	}
	got, _ := log.LoadHistory(ctx, "", "new")
	if len(got) != 0 {
		t.Errorf("history after purge = %v, want empty", got)
	}
}

func TestOpen_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "chat.db")
	ctx := context.Background()

	log, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := log.Record(ctx, "u", "s", "persisted", "yes"); err != nil {
		t.Fatalf("record: %v", err)
	}
	_ = log.Close()

	log, err = Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = log.Close() }()

	got, err := log.LoadHistory(ctx, "u", "s")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 1 || got[0].UserMessage != "persisted" {
		t.Errorf("got %+v after reopen", got)
	}
}

func TestConcurrentRecord(t *testing.T) {
	m := newTestModule(t)
	log := m.ChatLog()
	log.limit = 0
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 10 {
				if err := log.Record(ctx, "", "s", fmt.Sprintf("%d-%d", w, i), "r"); err != nil {
					t.Errorf("record: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	got, err := log.LoadHistory(ctx, "", "s")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 40 {
		t.Errorf("got %d exchanges, want 40", len(got))
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  Config
	}{
		{"negative busy timeout", Config{BusyTimeout: -1}},
		{"negative load limit", Config{LoadLimit: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if err := tt.cfg.validate(); err == nil {
				t.Error("validate() = nil, want error")
			}
		})
	}
}
