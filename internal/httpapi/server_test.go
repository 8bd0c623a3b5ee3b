package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joelkehle/value-model-agent/internal/calc"
	"github.com/joelkehle/value-model-agent/internal/classify"
	"github.com/joelkehle/value-model-agent/internal/drivers"
	"github.com/joelkehle/value-model-agent/internal/modelstore"
	"github.com/joelkehle/value-model-agent/internal/operator"
	"github.com/joelkehle/value-model-agent/internal/patterns"
	"github.com/joelkehle/value-model-agent/internal/relay"
	"github.com/joelkehle/value-model-agent/internal/telemetry"
	"github.com/joelkehle/value-model-agent/internal/workflow"
)

type envelope struct {
	OK    bool              `json:"ok"`
	Error *modelstore.Error `json:"error"`
}

func newServerForTest(t *testing.T) (http.Handler, *relay.Hub) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	catalog := drivers.NewCatalog()
	library := patterns.MustNewLibrary(catalog)
	calculator, err := calc.New(calc.DefaultConfig(), catalog)
	require.NoError(t, err)
	engine, err := workflow.NewEngine(workflow.Options{
		Catalog:    catalog,
		Library:    library,
		Calculator: calculator,
		Classifier: classify.NewKeyword(),
		Logger:     logger,
	})
	require.NoError(t, err)
	store, err := modelstore.NewSQLiteStore(filepath.Join(t.TempDir(), "models.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	hub := relay.NewHub(logger, nil)
	go hub.Run()
	t.Cleanup(hub.Stop)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	svc, err := operator.NewService(ctx, operator.Options{
		Engine:           engine,
		Models:           store,
		Publisher:        hub,
		Logger:           logger,
		AutosaveInterval: time.Hour,
	})
	require.NoError(t, err)

	return NewServer(Deps{
		Service:    svc,
		Catalog:    catalog,
		Library:    library,
		Calculator: calculator,
		Hub:        hub,
		Metrics:    telemetry.NewMetrics().Handler(),
		Logger:     logger,
	}), hub
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		blob, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(blob)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	h, _ := newServerForTest(t)
	rr := doJSON(t, h, http.MethodGet, "/v1/health", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, decode[envelope](t, rr).OK)
}

func TestDriverEndpoints(t *testing.T) {
	h, _ := newServerForTest(t)

	rr := doJSON(t, h, http.MethodGet, "/v1/drivers", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	list := decode[struct {
		Drivers          []drivers.ValueDriver `json:"drivers"`
		CommercialInputs []drivers.InputSpec   `json:"commercial_inputs"`
	}](t, rr)
	assert.Len(t, list.Drivers, 7)
	assert.Len(t, list.CommercialInputs, 2)

	rr = doJSON(t, h, http.MethodGet, "/v1/drivers/rep_productivity", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"hours_saved_per_week"`)

	rr = doJSON(t, h, http.MethodGet, "/v1/drivers/teleportation", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
	env := decode[envelope](t, rr)
	assert.False(t, env.OK)
	assert.Equal(t, modelstore.CodeNotFound, env.Error.Code)

	rr = doJSON(t, h, http.MethodGet, "/v1/benchmarks/software", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"industry":"saas"`)
}

func TestMatchPatterns(t *testing.T) {
	h, _ := newServerForTest(t)
	rr := doJSON(t, h, http.MethodPost, "/v1/patterns/match", map[string]string{
		"industry": "saas", "persona": "vp sales", "problem": "reps spend too much time on admin",
	})
	require.Equal(t, http.StatusOK, rr.Code)
	out := decode[struct {
		Recommendation patterns.Recommendation `json:"recommendation"`
	}](t, rr)
	assert.False(t, out.Recommendation.Fallback)
	assert.NotEmpty(t, out.Recommendation.MatchedIDs)
}

func TestCalculate(t *testing.T) {
	h, _ := newServerForTest(t)
	rr := doJSON(t, h, http.MethodPost, "/v1/calculate", map[string]any{
		"drivers": []string{"rep_productivity"},
		"inputs": map[string]float64{
			"reps": 20, "hours_saved_per_week": 4, "weeks_per_year": 46, "hourly_rate": 60,
			"annual_fee": 100000, "onboarding_fee": 30000,
		},
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	out := decode[struct {
		Result calc.Result `json:"result"`
	}](t, rr)
	assert.InDelta(t, 220800, out.Result.TotalBenefits, 1e-6)
	assert.InDelta(t, 130000, out.Result.TotalCosts, 1e-6)
	assert.Empty(t, out.Result.Backfilled)
}

func TestCalculateSelections(t *testing.T) {
	h, _ := newServerForTest(t)

	rr := doJSON(t, h, http.MethodPost, "/v1/calculate", map[string]any{"drivers": []string{}})
	require.Equal(t, http.StatusOK, rr.Code)
	empty := decode[struct {
		Result calc.Result `json:"result"`
	}](t, rr)
	assert.Zero(t, empty.Result.TotalBenefits)
	assert.Equal(t, []string{"annual_fee", "onboarding_fee"}, empty.Result.Backfilled)

	rr = doJSON(t, h, http.MethodPost, "/v1/calculate", map[string]any{"industry": "saas"})
	require.Equal(t, http.StatusOK, rr.Code)
	defaults := decode[struct {
		Result calc.Result `json:"result"`
	}](t, rr)
	assert.NotEmpty(t, defaults.Result.DriverOrder)
	assert.Positive(t, defaults.Result.TotalBenefits)

	rr = doJSON(t, h, http.MethodPost, "/v1/calculate", map[string]any{"drivers": []string{"teleportation"}})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, modelstore.CodeValidation, decode[envelope](t, rr).Error.Code)

	rr = doJSON(t, h, http.MethodPost, "/v1/calculate", "{not json")
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

type sessionResponse struct {
	Session struct {
		SessionID string `json:"session_id"`
		ModelID   string `json:"model_id"`
		Stage     string `json:"stage"`
		Turn      int    `json:"turn"`
	} `json:"session"`
	Transition struct {
		From     string `json:"from"`
		Stage    string `json:"stage"`
		Payloads []struct {
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		} `json:"payloads"`
	} `json:"transition"`
}

func TestSessionLifecycle(t *testing.T) {
	h, _ := newServerForTest(t)

	rr := doJSON(t, h, http.MethodPost, "/v1/sessions", nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	started := decode[sessionResponse](t, rr)
	id := started.Session.SessionID
	require.NotEmpty(t, id)
	require.NotEmpty(t, started.Session.ModelID)

	rr = doJSON(t, h, http.MethodPost, "/v1/sessions/"+id+"/messages", map[string]string{"id": "m1", "text": "Acme, a saas company"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	step := decode[sessionResponse](t, rr)
	assert.Equal(t, "idle", step.Transition.From)
	assert.Equal(t, "commercial_footprint", step.Transition.Stage)
	require.NotEmpty(t, step.Transition.Payloads)
	assert.Equal(t, "research_result", step.Transition.Payloads[0].Type)
	assert.Contains(t, string(step.Transition.Payloads[0].Payload), `"Acme"`)
	assert.Equal(t, 1, step.Session.Turn)

	rr = doJSON(t, h, http.MethodGet, "/v1/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "commercial_footprint", decode[sessionResponse](t, rr).Session.Stage)

	rr = doJSON(t, h, http.MethodPost, "/v1/sessions/"+id+"/save", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = doJSON(t, h, http.MethodGet, "/v1/models/"+started.Session.ModelID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"name":"Acme"`)

	rr = doJSON(t, h, http.MethodDelete, "/v1/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = doJSON(t, h, http.MethodGet, "/v1/sessions/"+id, nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "session not found", decode[envelope](t, rr).Error.Message)

	rr = doJSON(t, h, http.MethodPost, "/v1/sessions", map[string]string{"model_id": started.Session.ModelID})
	require.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, "commercial_footprint", decode[sessionResponse](t, rr).Session.Stage)
}

func TestSendMessageValidation(t *testing.T) {
	h, _ := newServerForTest(t)
	rr := doJSON(t, h, http.MethodPost, "/v1/sessions/ghost/messages", map[string]string{"text": "hi"})
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = doJSON(t, h, http.MethodPost, "/v1/sessions", nil)
	id := decode[sessionResponse](t, rr).Session.SessionID
	rr = doJSON(t, h, http.MethodPost, "/v1/sessions/"+id+"/messages", map[string]string{"text": strings.Repeat("x", 5000)})
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestModelsThroughClient(t *testing.T) {
	h, _ := newServerForTest(t)
	srv := httptest.NewServer(h)
	defer srv.Close()
	client := modelstore.NewClient(srv.URL, modelstore.WithBackoff(func(int) time.Duration { return 0 }))
	ctx := context.Background()

	created, err := client.Create(ctx, modelstore.Model{
		Name:        "Initech",
		Description: "TPS reports",
		Hypothesis:  modelstore.Hypothesis{CompanyName: "Initech", Industry: "software"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	got, err := client.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Initech", got.Name)

	got.Description = "Fewer TPS reports"
	updated, err := client.Update(ctx, got)
	require.NoError(t, err)
	assert.Equal(t, "Fewer TPS reports", updated.Description)

	list, err := client.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	ex, err := client.Export(ctx, created.ID, modelstore.FormatMarkdown)
	require.NoError(t, err)
	assert.Equal(t, "initech.md", ex.Filename)
	assert.True(t, strings.HasPrefix(string(ex.Data), "# Value Model: Initech"))

	_, err = modelstore.NewClient(srv.URL, modelstore.WithAttempts(1)).Export(ctx, created.ID, modelstore.FormatPDF)
	assert.Equal(t, modelstore.CodeUnavailable, modelstore.CodeOf(err))

	_, err = client.Get(ctx, "missing")
	assert.True(t, modelstore.IsNotFound(err))

	_, err = client.Create(ctx, modelstore.Model{})
	assert.Equal(t, modelstore.CodeValidation, modelstore.CodeOf(err))
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	h, _ := newServerForTest(t)
	rr := doJSON(t, h, http.MethodGet, "/v1/models/x/export?format=docx", nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestMetricsMounted(t *testing.T) {
	h, _ := newServerForTest(t)
	rr := doJSON(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "go_goroutines")
}

func TestRelayStreamsSessionEvents(t *testing.T) {
	h, hub := newServerForTest(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	rr := doJSON(t, h, http.MethodPost, "/v1/sessions", nil)
	id := decode[sessionResponse](t, rr).Session.SessionID

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/sessions/"+id+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.SessionClients(id) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteJSON(relay.Inbound{ID: "w1", Agent: "web", Message: "Acme, a saas company"}))
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev relay.Outbound
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "research_result", ev.Type)
	assert.Equal(t, "commercial_footprint", ev.Stage)
}

func TestRelayUnknownSession(t *testing.T) {
	h, _ := newServerForTest(t)
	rr := doJSON(t, h, http.MethodGet, "/v1/sessions/ghost/ws", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
}
