package modelstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	_ "modernc.org/sqlite"

	"github.com/joelkehle/value-model-agent/internal/drivers"
	"github.com/joelkehle/value-model-agent/internal/report"
)

// SQLiteStore keeps models in a single SQLite file. The hypothesis is stored
// as a JSON document; the columns beside it serve listing.
type SQLiteStore struct {
	db       *sqlx.DB
	mu       sync.Mutex
	exporter *Exporter
	tracer   trace.Tracer
	now      func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS models (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL DEFAULT '',
	description  TEXT NOT NULL DEFAULT '',
	target_value REAL,
	stage        TEXT NOT NULL DEFAULT 'idle',
	hypothesis   TEXT NOT NULL DEFAULT '{}',
	created_at   TEXT NOT NULL,
	updated_at   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS models_updated_at ON models (updated_at);
`

type modelRow struct {
	ID          string          `db:"id"`
	Name        string          `db:"name"`
	Description string          `db:"description"`
	TargetValue sql.NullFloat64 `db:"target_value"`
	Stage       string          `db:"stage"`
	Hypothesis  string          `db:"hypothesis"`
	CreatedAt   string          `db:"created_at"`
	UpdatedAt   string          `db:"updated_at"`
}

// NewSQLiteStore opens (creating if needed) the database at dbPath. A nil
// exporter renders with the built-in catalog and no PDF support.
func NewSQLiteStore(dbPath string, exporter *Exporter) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	if exporter == nil {
		exporter = NewExporter(report.NewBuilder(drivers.NewCatalog()), nil)
	}
	return &SQLiteStore{
		db:       db,
		exporter: exporter,
		tracer:   otel.Tracer("github.com/joelkehle/value-model-agent/internal/modelstore"),
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) span(ctx context.Context, op, id string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "modelstore.sqlite."+op, trace.WithAttributes(attribute.String("model.id", id)))
}

// Create stores a new model. An empty id is assigned a UUID.
func (s *SQLiteStore) Create(ctx context.Context, m Model) (Model, error) {
	if strings.TrimSpace(m.ID) == "" {
		m.ID = uuid.NewString()
	}
	ctx, span := s.span(ctx, "create", m.ID)
	defer span.End()
	if err := validateModel(m); err != nil {
		return Model{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var exists int
	if err := s.db.GetContext(ctx, &exists, "SELECT COUNT(1) FROM models WHERE id = ?", m.ID); err != nil {
		return Model{}, fmt.Errorf("check model: %w", err)
	}
	if exists > 0 {
		return Model{}, NewConflictError(m.ID)
	}
	now := s.now()
	m.CreatedAt, m.UpdatedAt = now, now
	if err := s.save(ctx, m); err != nil {
		return Model{}, err
	}
	return m, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (Model, error) {
	ctx, span := s.span(ctx, "get", id)
	defer span.End()

	var row modelRow
	err := s.db.GetContext(ctx, &row, "SELECT id, name, description, target_value, stage, hypothesis, created_at, updated_at FROM models WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return Model{}, NewNotFoundError(id)
	}
	if err != nil {
		return Model{}, fmt.Errorf("get model: %w", err)
	}
	return row.model()
}

// Update replaces an existing model, keeping its creation time.
func (s *SQLiteStore) Update(ctx context.Context, m Model) (Model, error) {
	ctx, span := s.span(ctx, "update", m.ID)
	defer span.End()
	if strings.TrimSpace(m.ID) == "" {
		return Model{}, NewValidationError("model id is required")
	}
	if err := validateModel(m); err != nil {
		return Model{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var createdAt string
	err := s.db.GetContext(ctx, &createdAt, "SELECT created_at FROM models WHERE id = ?", m.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return Model{}, NewNotFoundError(m.ID)
	}
	if err != nil {
		return Model{}, fmt.Errorf("get model: %w", err)
	}
	m.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	m.UpdatedAt = s.now()
	if err := s.save(ctx, m); err != nil {
		return Model{}, err
	}
	return m, nil
}

// List returns every model, most recently updated first.
func (s *SQLiteStore) List(ctx context.Context) ([]Summary, error) {
	ctx, span := s.span(ctx, "list", "")
	defer span.End()

	var rows []modelRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT id, name, description, target_value, stage, '' AS hypothesis, created_at, updated_at FROM models ORDER BY updated_at DESC, id"); err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	out := make([]Summary, 0, len(rows))
	for _, r := range rows {
		updated, _ := time.Parse(time.RFC3339Nano, r.UpdatedAt)
		out = append(out, Summary{ID: r.ID, Name: r.Name, Description: r.Description, Stage: stageOf(r.Stage), UpdatedAt: updated})
	}
	return out, nil
}

func (s *SQLiteStore) Export(ctx context.Context, id string, format Format) (Export, error) {
	m, err := s.Get(ctx, id)
	if err != nil {
		return Export{}, err
	}
	ctx, span := s.span(ctx, "export", id)
	defer span.End()
	span.SetAttributes(attribute.String("export.format", string(format)))
	return s.exporter.Export(ctx, m, format)
}

func (s *SQLiteStore) save(ctx context.Context, m Model) error {
	blob, err := json.Marshal(m.Hypothesis)
	if err != nil {
		return fmt.Errorf("marshal hypothesis: %w", err)
	}
	var target sql.NullFloat64
	if m.TargetValue != nil {
		target = sql.NullFloat64{Float64: *m.TargetValue, Valid: true}
	}
	_, err = s.db.ExecContext(ctx, `INSERT OR REPLACE INTO models (id, name, description, target_value, stage, hypothesis, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID,
		m.Name,
		m.Description,
		target,
		string(m.Hypothesis.Stage),
		string(blob),
		timeToString(m.CreatedAt),
		timeToString(m.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("save model: %w", err)
	}
	return nil
}

func (r modelRow) model() (Model, error) {
	m := Model{ID: r.ID, Name: r.Name, Description: r.Description}
	if r.TargetValue.Valid {
		v := r.TargetValue.Float64
		m.TargetValue = &v
	}
	if err := json.Unmarshal([]byte(r.Hypothesis), &m.Hypothesis); err != nil {
		return Model{}, fmt.Errorf("decode hypothesis for %s: %w", r.ID, err)
	}
	m.CreatedAt, _ = time.Parse(time.RFC3339Nano, r.CreatedAt)
	m.UpdatedAt, _ = time.Parse(time.RFC3339Nano, r.UpdatedAt)
	return m, nil
}

func timeToString(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(sortableTime)
}

// Fixed width so updated_at sorts lexically.
const sortableTime = "2006-01-02T15:04:05.000000000Z07:00"
