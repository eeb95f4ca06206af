package storage

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/spf13/afero"

	logx "rtcore/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("Open(%q) = %v, %v; want nil, nil", driver, st, err)
		}
	}
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("unknown driver should fail")
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("file driver without path should fail")
	}
}

func TestDrivers(t *testing.T) {
	t.Parallel()
	drivers := []struct {
		name string
		file string
	}{
		{name: "file", file: "journal.json"},
		{name: "sqlite", file: "journal.db"},
	}
	for _, d := range drivers {
		d := d
		t.Run(d.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "nested", d.file)
			st, err := Open(Config{Driver: d.name, Path: path, BusyTimeout: time.Second}, logx.Nop())
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			ctx := context.Background()
			for i := 0; i < 5; i++ {
				e := Entry{RunID: "run-1", Type: "task.executed", Subject: "t" + strconv.Itoa(i)}
				if i == 4 {
					e.Type, e.Error = "task.failed", "boom"
				}
				if err := st.Append(ctx, e); err != nil {
					t.Fatalf("Append: %v", err)
				}
			}

			got, err := st.Recent(ctx, 3)
			if err != nil {
				t.Fatalf("Recent: %v", err)
			}
			if len(got) != 3 {
				t.Fatalf("Recent len = %d, want 3", len(got))
			}
			if got[0].Subject != "t2" || got[2].Subject != "t4" {
				t.Fatalf("order = %s..%s, want t2..t4", got[0].Subject, got[2].Subject)
			}
			if got[2].Error != "boom" || got[2].Type != "task.failed" {
				t.Fatalf("last entry = %+v", got[2])
			}
			if got[0].At.IsZero() {
				t.Fatal("Append should stamp At")
			}

			if err := st.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}
			if err := st.Append(ctx, Entry{Type: "x"}); err == nil {
				t.Fatal("append after close should fail")
			}
		})
	}
}

func TestFileJournalReopenAndTornLine(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	ctx := context.Background()
	cfg := Config{Driver: "file", Path: "/data/rtcore.db", Fs: fs}

	st, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := st.Append(ctx, Entry{Type: "object.destroyed", Subject: "obj-1.0"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	_ = st.Close()

	const path = "/data/rtcore.journal.jsonl"
	f, err := fs.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatalf("journal not at %s: %v", path, err)
	}
	_, _ = f.Write([]byte(`{"type":"torn`))
	_ = f.Close()

	st, err = Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	// The torn fragment and the next record share a line; both are dropped.
	if err := st.Append(ctx, Entry{Type: "task.executed"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := st.Append(ctx, Entry{Type: "task.failed"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	got, err := st.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 || got[0].Type != "object.destroyed" || got[1].Type != "task.failed" {
		t.Fatalf("Recent = %+v", got)
	}
}
