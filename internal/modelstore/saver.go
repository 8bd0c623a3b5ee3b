package modelstore

import (
	"context"
	"errors"

	"github.com/joelkehle/value-model-agent/internal/session"
)

// SessionSaver persists session snapshots as models. It is the bridge the
// autosaver uses.
type SessionSaver struct {
	store Store
}

var _ session.Saver = (*SessionSaver)(nil)

func NewSessionSaver(store Store) *SessionSaver {
	return &SessionSaver{store: store}
}

// Save upserts the model for snap. Sessions without a model id cannot be
// saved.
func (s *SessionSaver) Save(ctx context.Context, snap *session.Context) error {
	if snap == nil || snap.ModelID == "" {
		return errors.New("session has no model id")
	}
	m := FromContext(snap)
	if _, err := s.store.Update(ctx, m); err == nil || !IsNotFound(err) {
		return err
	}
	_, err := s.store.Create(ctx, m)
	return err
}

// Load restores a session from a stored model.
func (s *SessionSaver) Load(ctx context.Context, modelID string) (*session.Context, error) {
	m, err := s.store.Get(ctx, modelID)
	if err != nil {
		return nil, err
	}
	return ToContext(m), nil
}
