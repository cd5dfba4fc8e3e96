package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/verity/internal/archive"
	"github.com/randalmurphal/verity/internal/config"
	"github.com/randalmurphal/verity/internal/db"
	"github.com/randalmurphal/verity/internal/engine"
	verrors "github.com/randalmurphal/verity/internal/errors"
	"github.com/randalmurphal/verity/internal/events"
	"github.com/randalmurphal/verity/internal/status"
	"github.com/randalmurphal/verity/internal/telemetry"
)

type testServer struct {
	*httptest.Server
	engine *engine.Engine
	pub    *events.MemoryPublisher
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	pub := events.NewMemoryPublisher()
	t.Cleanup(pub.Close)

	cfg := config.Default()
	cfg.Engine.InitialInterval = time.Millisecond
	metrics := telemetry.NewMetrics()
	eng, err := engine.New(db.NewTestDB(t), cfg,
		engine.WithArchive(archive.NewMemory()),
		engine.WithPublisher(pub),
		engine.WithMetrics(metrics),
	)
	require.NoError(t, err)

	srv := New(eng, &Config{Metrics: metrics})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testServer{Server: ts, engine: eng, pub: pub}
}

// do sends body as JSON on behalf of user and decodes the envelope's data
// into out when out is non-nil.
func (ts *testServer) do(t *testing.T, method, path, user string, body, out any) (int, Envelope) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, ts.URL+path, r)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(HeaderUserID, user)
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return resp.StatusCode, Envelope{}
	}
	var env struct {
		Envelope
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	if out != nil && len(env.Data) > 0 {
		require.NoError(t, json.Unmarshal(env.Data, out))
	}
	return resp.StatusCode, env.Envelope
}

// seedProject seeds FAT (T1, T2) and SAT (T1) and creates a project over
// both with alice assigned to every task.
func (ts *testServer) seedProject(t *testing.T) *engine.Tree {
	t.Helper()
	templates := []db.PhaseTemplate{
		{Code: "FAT", Name: "Factory acceptance", OrderIndex: 1, Tasks: []db.TaskTemplate{
			{Code: "T1", Name: "Inspection", OrderIndex: 1},
			{Code: "T2", Name: "Function test", OrderIndex: 2},
		}},
		{Code: "SAT", Name: "Site acceptance", OrderIndex: 2, Tasks: []db.TaskTemplate{
			{Code: "T1", Name: "Commissioning", OrderIndex: 1},
		}},
	}
	code, _ := ts.do(t, http.MethodPut, "/api/templates", "admin", templates, nil)
	require.Equal(t, http.StatusNoContent, code)

	var tree engine.Tree
	code, env := ts.do(t, http.MethodPost, "/api/projects", "admin", map[string]any{
		"name":           "Pump 7",
		"equipment_code": "PUMP",
		"phase_codes":    []string{"FAT", "SAT"},
	}, &tree)
	require.Equal(t, http.StatusCreated, code, env.Message)
	require.Equal(t, "Created", env.Message)
	require.Len(t, tree.Phases, 2)

	for _, ph := range tree.Phases {
		for _, task := range ph.Tasks {
			code, env := ts.do(t, http.MethodPost, fmt.Sprintf("/api/tasks/%d/reviewers", task.ID), "admin",
				map[string]string{"user_id": "alice"}, nil)
			require.Equal(t, http.StatusNoContent, code, env.Message)
		}
	}
	return &tree
}

func TestHealth(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	code, env := ts.do(t, http.MethodGet, "/healthz", "", nil, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusOK, env.Status)
}

func TestRequestIDHeader(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	resp, err := ts.Client().Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.NotEmpty(t, resp.Header.Get(HeaderRequestID))

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/healthz", nil)
	req.Header.Set(HeaderRequestID, "req-42")
	resp, err = ts.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "req-42", resp.Header.Get(HeaderRequestID))
}

func TestSubmitCascadeOverHTTP(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	tree := ts.seedProject(t)
	fat := tree.Phases[0]
	t1, t2 := fat.Tasks[0], fat.Tasks[1]
	assert.Equal(t, status.TaskActive, t1.Status)
	assert.Equal(t, status.TaskPending, t2.Status)

	var res engine.SubmitResult
	code, env := ts.do(t, http.MethodPost, fmt.Sprintf("/api/tasks/%d/submit", t1.ID), "alice",
		map[string]string{"content": `{"checks":[]}`, "status": "completed"}, &res)
	require.Equal(t, http.StatusOK, code, env.Message)
	assert.Equal(t, StatusOK, env.Status)
	assert.Equal(t, "task signed off, next task activated", env.Message)
	assert.EqualValues(t, "completed", res.CompletionState)
	assert.EqualValues(t, 1, res.Version)
	require.NotNil(t, res.Cascade)
	assert.Equal(t, t2.ID, res.Cascade.ActivatedTaskID)

	var after engine.Tree
	code, _ = ts.do(t, http.MethodGet, fmt.Sprintf("/api/projects/%d", tree.Project.ID), "", nil, &after)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, status.TaskCompleted, after.Phases[0].Tasks[0].Status)
	assert.Equal(t, status.TaskActive, after.Phases[0].Tasks[1].Status)

	code, env = ts.do(t, http.MethodPost, fmt.Sprintf("/api/tasks/%d/submit", t1.ID), "alice",
		map[string]string{"content": "again", "status": "closed"}, nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, string(verrors.CodeAlreadySubmitted), env.Code)
	assert.Equal(t, StatusError, env.Status)

	var docs []db.TaskDocument
	code, _ = ts.do(t, http.MethodGet, fmt.Sprintf("/api/tasks/%d/documents", t1.ID), "", nil, &docs)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, docs, 1)
	assert.True(t, docs[0].IsLatest)

	code, env = ts.do(t, http.MethodPost, fmt.Sprintf("/api/tasks/%d/reviewers", t2.ID), "admin",
		map[string]string{"user_id": "bob"}, nil)
	require.Equal(t, http.StatusNoContent, code, env.Message)
	code, env = ts.do(t, http.MethodPost, fmt.Sprintf("/api/tasks/%d/submit", t2.ID), "alice",
		map[string]string{"content": "{}", "status": "completed"}, nil)
	require.Equal(t, http.StatusOK, code, env.Message)
	assert.Equal(t, "waiting for other reviewers (1 of 2 submitted)", env.Message)
}

func TestDraftThenLatestDocument(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	tree := ts.seedProject(t)
	t1 := tree.Phases[0].Tasks[0]

	code, env := ts.do(t, http.MethodPost, fmt.Sprintf("/api/tasks/%d/draft", t1.ID), "alice",
		map[string]string{"content": "draft body"}, nil)
	require.Equal(t, http.StatusOK, code, env.Message)

	var latest struct {
		Source  string `json:"source"`
		Content string `json:"content"`
		Version *int64 `json:"version"`
	}
	code, _ = ts.do(t, http.MethodGet, fmt.Sprintf("/api/tasks/%d/document", t1.ID), "", nil, &latest)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "draft body", latest.Content)
	assert.Nil(t, latest.Version)
}

func TestRequestValidation(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	tree := ts.seedProject(t)
	t1 := tree.Phases[0].Tasks[0].ID

	tests := []struct {
		name     string
		method   string
		path     string
		user     string
		body     any
		wantCode int
		wantErr  verrors.Code
	}{
		{"missing caller", http.MethodPost, fmt.Sprintf("/api/tasks/%d/submit", t1), "", map[string]string{"status": "completed"}, http.StatusBadRequest, verrors.CodeValidation},
		{"bad id", http.MethodGet, "/api/projects/abc", "", nil, http.StatusBadRequest, verrors.CodeValidation},
		{"unknown field", http.MethodPost, fmt.Sprintf("/api/tasks/%d/draft", t1), "alice", map[string]string{"body": "x"}, http.StatusBadRequest, verrors.CodeValidation},
		{"bad status", http.MethodPost, fmt.Sprintf("/api/tasks/%d/submit", t1), "alice", map[string]string{"status": "active"}, http.StatusBadRequest, verrors.CodeValidation},
		{"project not found", http.MethodGet, "/api/projects/9999", "", nil, http.StatusNotFound, verrors.CodeProjectNotFound},
		{"not a reviewer", http.MethodPost, fmt.Sprintf("/api/tasks/%d/submit", t1), "mallory", map[string]string{"status": "completed"}, http.StatusForbidden, verrors.CodeNotAssigned},
		{"unknown setting", http.MethodGet, "/api/settings/colour", "", nil, http.StatusBadRequest, verrors.CodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env := ts.do(t, tt.method, tt.path, tt.user, tt.body, nil)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, StatusError, env.Status)
			assert.Equal(t, string(tt.wantErr), env.Code)
			assert.NotEmpty(t, env.Message)
		})
	}
}

func TestIncidentEscalationOverHTTP(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	tree := ts.seedProject(t)
	t1 := tree.Phases[0].Tasks[0]

	for user, role := range map[string]string{"eve": "engineer", "quinn": "qa_lead", "max": "manager"} {
		code, env := ts.do(t, http.MethodPut, "/api/users/"+user+"/role", "admin", map[string]string{"role": role}, nil)
		require.Equal(t, http.StatusOK, code, env.Message)
	}
	var role map[string]string
	ts.do(t, http.MethodGet, "/api/users/quinn/role", "", nil, &role)
	assert.Equal(t, "qa_lead", role["role"])

	var raised struct {
		IncidentID  int64  `json:"incident_id"`
		PendingRole string `json:"pending_role"`
		Resolved    bool   `json:"resolved"`
	}
	code, env := ts.do(t, http.MethodPost, "/api/incidents", "eve", map[string]any{
		"task_id": t1.ID, "content": "snapshot 1", "description": "seal leaks",
	}, &raised)
	require.Equal(t, http.StatusCreated, code, env.Message)
	assert.Equal(t, "qa_lead", raised.PendingRole)
	assert.Equal(t, "incident waiting on qa_lead", env.Message)

	code, env = ts.do(t, http.MethodPost, fmt.Sprintf("/api/incidents/%d/continue", raised.IncidentID), "nobody",
		map[string]string{"content": "no role"}, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, string(verrors.CodeNoActiveRole), env.Code)

	code, env = ts.do(t, http.MethodPost, fmt.Sprintf("/api/incidents/%d/resolve", raised.IncidentID), "quinn",
		map[string]string{"comment": "fixed on site"}, &raised)
	require.Equal(t, http.StatusOK, code, env.Message)
	assert.True(t, raised.Resolved)
	assert.Equal(t, "incident resolved", env.Message)

	var hist engine.IncidentHistory
	code, _ = ts.do(t, http.MethodGet, fmt.Sprintf("/api/incidents/%d", raised.IncidentID), "", nil, &hist)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, hist.Incident.Resolved)
	require.NotEmpty(t, hist.Steps)
	assert.Equal(t, "engineer", hist.Steps[0].Transaction.Role)
	require.NotNil(t, hist.Steps[0].Snapshot)
	assert.Equal(t, "snapshot 1", hist.Steps[0].Snapshot.Content)
}

func TestChangeRequestOverHTTP(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	tree := ts.seedProject(t)
	ts.do(t, http.MethodPut, "/api/users/quinn/role", "admin", map[string]string{"role": "qa_lead"}, nil)

	var cr struct {
		ID       int64    `json:"id"`
		Revision int      `json:"revision"`
		Pending  []string `json:"pending"`
		Rejected bool     `json:"rejected"`
	}
	code, env := ts.do(t, http.MethodPost, "/api/change-requests", "eve",
		map[string]any{"project_id": tree.Project.ID, "title": "Swap seal supplier"}, &cr)
	require.Equal(t, http.StatusCreated, code, env.Message)
	assert.Equal(t, 1, cr.Revision)

	code, env = ts.do(t, http.MethodPatch, fmt.Sprintf("/api/change-requests/%d/approvers", cr.ID), "eve",
		map[string]any{"add": []string{"quinn"}}, &cr)
	require.Equal(t, http.StatusOK, code, env.Message)
	assert.Equal(t, []string{"quinn"}, cr.Pending)

	code, env = ts.do(t, http.MethodPost, fmt.Sprintf("/api/change-requests/%d/decision", cr.ID), "quinn",
		map[string]any{"verified": false}, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, string(verrors.CodeValidation), env.Code)

	code, _ = ts.do(t, http.MethodPost, fmt.Sprintf("/api/change-requests/%d/decision", cr.ID), "quinn",
		map[string]any{"verified": false, "reason": "wrong grade"}, &cr)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, cr.Pending)

	code, _ = ts.do(t, http.MethodPut, fmt.Sprintf("/api/change-requests/%d/verification", cr.ID), "admin",
		map[string]any{"verified": false}, &cr)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, cr.Rejected)

	code, _ = ts.do(t, http.MethodGet, "/api/change-requests/424242", "", nil, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestSettingsOverHTTP(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	var got map[string]string
	code, _ := ts.do(t, http.MethodPut, "/api/settings/max_failed_logins", "admin", map[string]string{"value": "3"}, nil)
	require.Equal(t, http.StatusOK, code)
	code, _ = ts.do(t, http.MethodGet, "/api/settings/max_failed_logins", "", nil, &got)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "3", got["value"])
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	ts.seedProject(t)

	resp, err := ts.Client().Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `verity_operations_total{op="create_project",outcome="ok"} 1`)
	assert.Contains(t, string(body), `verity_lifecycle_events_total{type="task.activated"} 1`)
}

func TestHandleError_InternalIsGeneric(t *testing.T) {
	t.Parallel()
	rec := httptest.NewRecorder()
	HandleError(rec, errors.New("pq: relation \"tasks\" does not exist"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var env Envelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	assert.Equal(t, string(verrors.CodeInternal), env.Code)
	assert.NotContains(t, env.Message, "relation")
}

func TestCORS(t *testing.T) {
	t.Parallel()
	called := false
	h := CORS(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusCreated)
	})

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodOptions, "/api/projects", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, called, "preflight must not reach the handler")
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), HeaderUserID)

	rec = httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, "/api/projects", nil))
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, called)
}
