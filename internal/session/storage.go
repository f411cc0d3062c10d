package session

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/and161185/taskflow/internal/model"
)

// Storage persists a single session record across process restarts.
type Storage interface {
	// Load reads the persisted record. Any error means "no session".
	Load() (model.Session, error)
	// Save writes the record, replacing whatever was there.
	Save(model.Session) error
	// Clear removes the record; clearing an absent record is not an error.
	Clear() error
}

// FileStorage keeps the session as a JSON file under the user config dir,
// the CLI equivalent of browser local storage.
type FileStorage struct {
	dir string
}

// NewFileStorage builds a FileStorage rooted at dir; empty dir means
// $XDG_CONFIG_HOME/taskflow (or ~/.config/taskflow).
func NewFileStorage(dir string) *FileStorage {
	if dir == "" {
		dir = defaultDir()
	}
	return &FileStorage{dir: dir}
}

func defaultDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "taskflow")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "taskflow")
}

// Path returns the session file location.
func (s *FileStorage) Path() string { return filepath.Join(s.dir, "session.json") }

// record is the on-disk shape: {token, user}.
type record struct {
	Token string      `json:"token"`
	User  *model.User `json:"user"`
}

// Save writes the session record, creating the config dir on first use.
func (s *FileStorage) Save(sess model.Session) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(s.Path(), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(record{Token: sess.Token, User: sess.User})
}

// Load reads the session record from disk.
func (s *FileStorage) Load() (model.Session, error) {
	b, err := os.ReadFile(s.Path())
	if err != nil {
		return model.Session{}, err
	}
	var r record
	if err := json.Unmarshal(b, &r); err != nil {
		return model.Session{}, err
	}
	return model.Session{User: r.User, Token: r.Token}, nil
}

// Clear removes the session file.
func (s *FileStorage) Clear() error {
	err := os.Remove(s.Path())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
