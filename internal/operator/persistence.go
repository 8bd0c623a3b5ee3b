package operator

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/joelkehle/value-model-agent/internal/modelstore"
	"github.com/joelkehle/value-model-agent/internal/session"
)

// SessionFile keeps one session as a model document on disk. The CLI uses it
// to carry a conversation across runs.
type SessionFile struct {
	Path string
}

var _ session.Saver = SessionFile{}

// Load returns the stored session, or a fresh one with sessionID when the
// file does not exist yet.
func (f SessionFile) Load(sessionID string) (*session.Context, error) {
	blob, err := os.ReadFile(f.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return session.New(sessionID), nil
		}
		return nil, err
	}
	var m modelstore.Model
	if err := json.Unmarshal(blob, &m); err != nil {
		return nil, err
	}
	sc := modelstore.ToContext(m)
	if sc.SessionID == "" {
		sc.SessionID = sessionID
	}
	return sc, nil
}

// Save writes snap atomically.
func (f SessionFile) Save(_ context.Context, snap *session.Context) error {
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
		return err
	}
	blob, err := json.MarshalIndent(modelstore.FromContext(snap), "", "  ")
	if err != nil {
		return err
	}
	tmp := f.Path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, f.Path)
}
