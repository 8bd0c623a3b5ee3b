// Package operator runs value-model sessions for the outside world: it owns
// the session store, drives the workflow engine, keeps sessions saved and
// pushes every event to the relay.
package operator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joelkehle/value-model-agent/internal/modelstore"
	"github.com/joelkehle/value-model-agent/internal/relay"
	"github.com/joelkehle/value-model-agent/internal/session"
	"github.com/joelkehle/value-model-agent/internal/workflow"
)

// Publisher receives outbound session events. *relay.Hub implements it.
type Publisher interface {
	Publish(sessionID string, ev relay.Outbound) bool
}

// Observer receives operator counters. *telemetry.Metrics implements it.
type Observer interface {
	ObserveStep(stage session.Stage, d time.Duration)
	ObserveSave(sessionID string, err error)
	SetActiveSessions(n int)
}

type Options struct {
	Engine *workflow.Engine
	Models modelstore.Store

	Sessions         *session.Store
	Publisher        Publisher
	Observer         Observer
	Logger           *slog.Logger
	AutosaveInterval time.Duration
	NewID            func() string
}

type Service struct {
	engine    *workflow.Engine
	models    modelstore.Store
	saver     *modelstore.SessionSaver
	sessions  *session.Store
	autosaver *session.Autosaver
	publisher Publisher
	observer  Observer
	logger    *slog.Logger
	newID     func() string
	base      context.Context
	now       func() time.Time
}

// NewService wires a service. Autosave tasks live until ctx is cancelled or
// Shutdown is called.
func NewService(ctx context.Context, opts Options) (*Service, error) {
	if opts.Engine == nil {
		return nil, errors.New("operator: engine is required")
	}
	if opts.Models == nil {
		return nil, errors.New("operator: model store is required")
	}
	if opts.Sessions == nil {
		opts.Sessions = session.NewStore()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	s := &Service{
		engine:    opts.Engine,
		models:    opts.Models,
		saver:     modelstore.NewSessionSaver(opts.Models),
		sessions:  opts.Sessions,
		publisher: opts.Publisher,
		observer:  opts.Observer,
		logger:    opts.Logger,
		newID:     opts.NewID,
		base:      context.WithoutCancel(ctx),
		now:       time.Now,
	}
	s.autosaver = session.NewAutosaver(s.sessions, s.saver, opts.AutosaveInterval, s.logger)
	if s.observer != nil {
		s.autosaver.OnSave = s.observer.ObserveSave
	}
	go func() {
		<-ctx.Done()
		s.autosaver.StopAll()
	}()
	return s, nil
}

func (s *Service) Engine() *workflow.Engine { return s.engine }

func (s *Service) Models() modelstore.Store { return s.models }

// Start opens a session. With a model id the stored model is resumed;
// otherwise a fresh session gets a new model id.
func (s *Service) Start(ctx context.Context, modelID string) (*session.Context, error) {
	id := s.newID()
	var sc *session.Context
	if modelID != "" {
		loaded, err := s.saver.Load(ctx, modelID)
		if err != nil {
			return nil, err
		}
		sc = loaded
		sc.SessionID = id
	} else {
		sc = session.New(id)
		sc.ModelID = s.newID()
	}
	sc.UpdatedAt = s.now().UTC()
	s.sessions.Put(sc)
	s.autosaver.Start(s.base, id)
	s.reportActive()
	s.logger.Info("session started", "session_id", id, "model_id", sc.ModelID, "resumed", modelID != "")
	return s.sessions.Snapshot(id)
}

// Send runs one utterance through the engine and commits the result.
// Redelivered message ids leave the session untouched.
func (s *Service) Send(ctx context.Context, sessionID string, msg workflow.Message) (workflow.Transition, error) {
	started := s.now()
	var tr workflow.Transition
	committed, err := s.sessions.Update(sessionID, func(cur *session.Context) (*session.Context, error) {
		t, err := s.engine.Step(ctx, cur, msg)
		if err != nil {
			return nil, err
		}
		tr = t
		if t.Duplicate {
			return nil, nil
		}
		return t.Context, nil
	})
	if errors.Is(err, session.ErrSessionNotFound) {
		return workflow.Transition{}, err
	}
	if err != nil {
		return workflow.Transition{}, fmt.Errorf("step session %s: %w", sessionID, err)
	}
	tr.Context = committed
	if s.observer != nil {
		s.observer.ObserveStep(tr.From, s.now().Sub(started))
	}
	s.publish(sessionID, tr)

	for _, p := range tr.Payloads {
		if _, ok := p.(workflow.ExportIntent); ok {
			if err := s.autosaver.SaveNow(ctx, sessionID); err != nil {
				s.logger.Warn("save before export failed", "session_id", sessionID, "error", err)
			}
			break
		}
	}
	return tr, nil
}

func (s *Service) publish(sessionID string, tr workflow.Transition) {
	if s.publisher == nil {
		return
	}
	for _, p := range tr.Payloads {
		s.publisher.Publish(sessionID, relay.Outbound{
			Type:    string(p.PayloadType()),
			Stage:   string(tr.Stage),
			Payload: p,
		})
	}
}

// HandleInbound adapts relay events to Send. Failures go back to the
// session's clients as error events.
func (s *Service) HandleInbound(ctx context.Context, sessionID string, in relay.Inbound) {
	_, err := s.Send(ctx, sessionID, workflow.Message{ID: in.ID, Text: in.Message, Agent: in.Agent})
	if err == nil {
		return
	}
	s.logger.Warn("relay message failed", "session_id", sessionID, "error", err)
	if s.publisher != nil {
		e := workflow.Error{Code: "step_failed", Message: "That message could not be processed."}
		s.publisher.Publish(sessionID, relay.Outbound{Type: string(e.PayloadType()), Payload: e})
	}
}

func (s *Service) Snapshot(sessionID string) (*session.Context, error) {
	return s.sessions.Snapshot(sessionID)
}

// Save persists the session now.
func (s *Service) Save(ctx context.Context, sessionID string) error {
	return s.autosaver.SaveNow(ctx, sessionID)
}

// End saves and forgets the session. The final save is best effort.
func (s *Service) End(ctx context.Context, sessionID string) error {
	if !s.sessions.Has(sessionID) {
		return session.ErrSessionNotFound
	}
	if err := s.autosaver.SaveNow(ctx, sessionID); err != nil {
		s.logger.Warn("final save failed", "session_id", sessionID, "error", err)
	}
	s.autosaver.Stop(sessionID)
	s.sessions.End(sessionID)
	s.reportActive()
	s.logger.Info("session ended", "session_id", sessionID)
	return nil
}

func (s *Service) SessionIDs() []string { return s.sessions.IDs() }

// Shutdown saves every open session and stops autosaving.
func (s *Service) Shutdown(ctx context.Context) error {
	var errs []error
	for _, id := range s.sessions.IDs() {
		if err := s.autosaver.SaveNow(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("save %s: %w", id, err))
		}
	}
	s.autosaver.StopAll()
	return errors.Join(errs...)
}

func (s *Service) reportActive() {
	if s.observer != nil {
		s.observer.SetActiveSessions(s.sessions.Len())
	}
}
