package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/vigil/internal/common"
	"github.com/ternarybob/vigil/internal/models"
	"github.com/ternarybob/vigil/internal/queue"
	"github.com/ternarybob/vigil/internal/quota"
	"github.com/ternarybob/vigil/internal/scan"
	badgerstorage "github.com/ternarybob/vigil/internal/storage/badger"
)

// newTestRouter wires a real storage, queue and scan service around the
// handler, the same shape the app uses.
func newTestRouter(t *testing.T) (*http.ServeMux, *badgerstorage.Manager) {
	t.Helper()

	logger := common.GetLogger()

	cfg := common.DefaultConfig()
	cfg.Storage.Badger.Path = filepath.Join(t.TempDir(), "vigil")

	storageManager, err := badgerstorage.NewManager(logger, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { storageManager.Close() })

	queueMgr, err := queue.NewManager(storageManager.DB().Badger(), queue.NewDefaultConfig())
	require.NoError(t, err)

	scanService := scan.NewService(
		storageManager.JobStorage(),
		storageManager.FindingStorage(),
		quota.NewLedger(logger),
		queueMgr,
		logger,
	)

	handler := NewJobHandler(scanService, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/jobs", handler.CreateJobHandler)
	mux.HandleFunc("GET /api/jobs", handler.ListJobsHandler)
	mux.HandleFunc("GET /api/jobs/{id}", handler.GetJobHandler)
	mux.HandleFunc("GET /api/jobs/{id}/findings", handler.GetFindingsHandler)

	return mux, storageManager
}

func createJob(t *testing.T, mux *http.ServeMux, ownerID, target string) *httptest.ResponseRecorder {
	t.Helper()

	body, _ := json.Marshal(CreateJobRequest{OwnerID: ownerID, Target: target})
	req := httptest.NewRequest(http.MethodPost, "/api/jobs", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestCreateJobHandler_Success(t *testing.T) {
	mux, _ := newTestRouter(t)

	rec := createJob(t, mux, "usr_1", "example.com")
	require.Equal(t, http.StatusCreated, rec.Code)

	var job models.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Contains(t, job.ID, "job_")
	assert.Equal(t, models.JobStatusPending, job.Status)
}

func TestCreateJobHandler_Validation(t *testing.T) {
	mux, _ := newTestRouter(t)

	tests := []struct {
		name string
		body string
	}{
		{"empty body", `{}`},
		{"missing target", `{"owner_id":"usr_1"}`},
		{"missing owner", `{"target":"example.com"}`},
		{"garbage json", `{{{`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/jobs", bytes.NewReader([]byte(tt.body)))
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestGetJobHandler_RoundTrip(t *testing.T) {
	mux, _ := newTestRouter(t)

	rec := createJob(t, mux, "usr_1", "example.com")
	require.Equal(t, http.StatusCreated, rec.Code)

	var created models.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/"+created.ID, nil)
	got := httptest.NewRecorder()
	mux.ServeHTTP(got, req)

	require.Equal(t, http.StatusOK, got.Code)
	var loaded models.Job
	require.NoError(t, json.Unmarshal(got.Body.Bytes(), &loaded))
	assert.Equal(t, created.ID, loaded.ID)
}

func TestGetJobHandler_NotFound(t *testing.T) {
	mux, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/job_nope", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListJobsHandler(t *testing.T) {
	mux, _ := newTestRouter(t)

	require.Equal(t, http.StatusCreated, createJob(t, mux, "usr_1", "example.com").Code)
	require.Equal(t, http.StatusCreated, createJob(t, mux, "usr_2", "example.org").Code)

	req := httptest.NewRequest(http.MethodGet, "/api/jobs?owner=usr_2", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Jobs  []models.Job `json:"jobs"`
		Count int          `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "usr_2", resp.Jobs[0].OwnerID)
}

func TestGetFindingsHandler(t *testing.T) {
	mux, storageManager := newTestRouter(t)

	rec := createJob(t, mux, "usr_1", "example.com")
	var created models.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	require.NoError(t, storageManager.FindingStorage().SaveFindings(
		context.Background(), created.ID, []models.Finding{
			{ID: "fnd_1", Title: "Missing HSTS header", Severity: models.SeverityHigh, Category: models.CategoryHeaders},
		}))

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/"+created.ID+"/findings", nil)
	got := httptest.NewRecorder()
	mux.ServeHTTP(got, req)

	require.Equal(t, http.StatusOK, got.Code)
	var resp struct {
		Findings []models.Finding `json:"findings"`
		Count    int              `json:"count"`
	}
	require.NoError(t, json.Unmarshal(got.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "Missing HSTS header", resp.Findings[0].Title)
}
