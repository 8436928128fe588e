package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/yourorg/textblast/internal/db"
	"github.com/yourorg/textblast/internal/types"
)

type fakeStarter struct {
	started  map[string]types.RunParams
	status   RunStatus
	startErr error
	statErr  error
}

func (f *fakeStarter) Start(_ context.Context, workflowID string, p types.RunParams) (string, error) {
	if f.startErr != nil {
		return "", f.startErr
	}
	if f.started == nil {
		f.started = map[string]types.RunParams{}
	}
	f.started[workflowID] = p
	return "temporal-run", nil
}

func (f *fakeStarter) Status(_ context.Context, workflowID string) (RunStatus, error) {
	if f.statErr != nil {
		return RunStatus{}, f.statErr
	}
	st := f.status
	st.WorkflowID = workflowID
	return st, nil
}

type fakeStore struct {
	runs    []db.Run
	updates []string
}

func (f *fakeStore) Create(_ context.Context, r db.Run) (db.Run, error) {
	f.runs = append(f.runs, r)
	return r, nil
}

func (f *fakeStore) UpdateStatus(_ context.Context, workflowID, status string, _ *string, _ []byte) error {
	f.updates = append(f.updates, workflowID+"="+status)
	return nil
}

func (f *fakeStore) List(_ context.Context, limit, offset int) ([]db.Run, error) {
	if offset >= len(f.runs) {
		return nil, nil
	}
	return f.runs[offset:], nil
}

func router(h *RunHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h.Register(r.Group("/api/v1"))
	return r
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestStartRun(t *testing.T) {
	s := &fakeStarter{}
	store := &fakeStore{}
	r := router(NewRunHandler(s, store, nil))

	w := do(r, http.MethodPost, "/api/v1/runs", `{"data_location": "s3://corpus/batches", "output_folder": "/shared/out", "workers": 4, "subgraph": true}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status %d body %s", w.Code, w.Body)
	}
	var resp StartRunResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(resp.WorkflowID, "textblast-") || resp.RunID != "temporal-run" {
		t.Fatalf("response %+v", resp)
	}
	p, ok := s.started[resp.WorkflowID]
	if !ok || p.Workers != 4 || !p.Subgraph || p.RunID == "" || p.OutputFolder != "/shared/out" {
		t.Fatalf("params %+v", p)
	}
	if len(store.runs) != 1 || store.runs[0].Status != StatusRunning {
		t.Fatalf("registry %+v", store.runs)
	}
}

func TestStartRunValidation(t *testing.T) {
	r := router(NewRunHandler(&fakeStarter{}, nil, nil))
	for _, body := range []string{
		`{"output_folder": "/out"}`,
		`{"data_location": "/data"}`,
		`{"data_location": "/data", "output_folder": "/out", "workers": -1}`,
		`not json`,
	} {
		if w := do(r, http.MethodPost, "/api/v1/runs", body); w.Code != http.StatusBadRequest {
			t.Fatalf("body %s: status %d", body, w.Code)
		}
	}
}

func TestStartRunTemporalDown(t *testing.T) {
	r := router(NewRunHandler(&fakeStarter{startErr: errors.New("unavailable")}, nil, nil))
	w := do(r, http.MethodPost, "/api/v1/runs", `{"data_location": "/data", "output_folder": "/out"}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status %d", w.Code)
	}
}

func TestGetRunStatusCompleted(t *testing.T) {
	s := &fakeStarter{status: RunStatus{Status: StatusCompleted, Result: &types.RunResult{Entries: 42, Status: types.StatusSucceeded}}}
	store := &fakeStore{}
	r := router(NewRunHandler(s, store, nil))
	w := do(r, http.MethodGet, "/api/v1/runs/textblast-abc", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	var st RunStatus
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	if st.WorkflowID != "textblast-abc" || st.Result == nil || st.Result.Entries != 42 {
		t.Fatalf("status %+v", st)
	}
	if len(store.updates) != 1 || store.updates[0] != "textblast-abc=COMPLETED" {
		t.Fatalf("updates %v", store.updates)
	}
}

func TestGetRunStatusRunningIsNotRecorded(t *testing.T) {
	store := &fakeStore{}
	r := router(NewRunHandler(&fakeStarter{status: RunStatus{Status: StatusRunning}}, store, nil))
	if w := do(r, http.MethodGet, "/api/v1/runs/x", ""); w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	if len(store.updates) != 0 {
		t.Fatalf("running status written to registry: %v", store.updates)
	}
}

func TestGetRunStatusNotFound(t *testing.T) {
	r := router(NewRunHandler(&fakeStarter{statErr: ErrRunNotFound}, nil, nil))
	if w := do(r, http.MethodGet, "/api/v1/runs/nope", ""); w.Code != http.StatusNotFound {
		t.Fatalf("status %d", w.Code)
	}
}

func TestListRuns(t *testing.T) {
	r := router(NewRunHandler(&fakeStarter{}, nil, nil))
	if w := do(r, http.MethodGet, "/api/v1/runs", ""); w.Code != http.StatusNotImplemented {
		t.Fatalf("without registry: status %d", w.Code)
	}

	store := &fakeStore{runs: []db.Run{{WorkflowID: "a"}, {WorkflowID: "b"}}}
	r = router(NewRunHandler(&fakeStarter{}, store, nil))
	w := do(r, http.MethodGet, "/api/v1/runs?limit=10", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	var body struct {
		Runs []db.Run `json:"runs"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Runs) != 2 {
		t.Fatalf("runs %+v", body.Runs)
	}
}
