package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/and161185/taskflow/internal/model"
)

func TestFileStorage_DefaultDir(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	fs := NewFileStorage("")
	want := filepath.Join(dir, "taskflow", "session.json")
	if fs.Path() != want {
		t.Fatalf("Path = %q, want %q", fs.Path(), want)
	}
}

func TestFileStorage_SaveLoadClear(t *testing.T) {
	t.Parallel()

	fs := NewFileStorage(t.TempDir())

	if _, err := fs.Load(); err == nil {
		t.Fatalf("expected error when session file missing")
	}

	u := alice()
	sess := model.Session{User: &u, Token: "tok-1"}
	if err := fs.Save(sess); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := fs.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Token != "tok-1" || got.User == nil || got.User.Username != "alice" {
		t.Fatalf("roundtrip mismatch: %+v", got)
	}

	// the record shape on disk is {token, user}
	raw, err := os.ReadFile(fs.Path())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(raw), `"token"`) || !strings.Contains(string(raw), `"user"`) {
		t.Fatalf("unexpected record shape: %s", raw)
	}

	if err := fs.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, err := fs.Load(); err == nil {
		t.Fatalf("expected error after Clear")
	}
	// clearing an absent record is not an error
	if err := fs.Clear(); err != nil {
		t.Fatalf("Clear (absent): %v", err)
	}
}

func TestFileStorage_MalformedFile(t *testing.T) {
	t.Parallel()

	fs := NewFileStorage(t.TempDir())
	if err := os.MkdirAll(filepath.Dir(fs.Path()), 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(fs.Path(), []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := fs.Load(); err == nil {
		t.Fatalf("expected error for malformed file")
	}
}
