package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-scanner/internal/job"
	"github.com/sells-group/lead-scanner/internal/jobmanager"
	"github.com/sells-group/lead-scanner/internal/model"
)

type mockJobs struct {
	mock.Mock
}

func (m *mockJobs) Submit(p model.SearchParams) (string, error) {
	args := m.Called(p)
	return args.String(0), args.Error(1)
}

func (m *mockJobs) Summary(id string, logTail int) (job.Snapshot, error) {
	args := m.Called(id, logTail)
	return args.Get(0).(job.Snapshot), args.Error(1)
}

func (m *mockJobs) Results(id string) ([]model.Lead, error) {
	args := m.Called(id)
	leads, _ := args.Get(0).([]model.Lead)
	return leads, args.Error(1)
}

func (m *mockJobs) Cancel(id string) error {
	return m.Called(id).Error(0)
}

func (m *mockJobs) List() []job.Snapshot {
	return m.Called().Get(0).([]job.Snapshot)
}

func (m *mockJobs) Active() (job.Snapshot, bool) {
	args := m.Called()
	return args.Get(0).(job.Snapshot), args.Bool(1)
}

func newServer(t *testing.T, jobs JobService) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewRouter(Dependencies{
		Jobs:     jobs,
		Defaults: model.DefaultSearchParams(),
		LogTail:  2,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("leadscan_jobs_active 0\n"))
		}),
		CORSOrigins: []string{"https://app.example.com"},
	}))
	t.Cleanup(srv.Close)
	return srv
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close() //nolint:errcheck
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func notFound(id string) error {
	return eris.Wrapf(jobmanager.ErrNotFound, "job %s", id)
}

func TestSubmit_Accepted(t *testing.T) {
	jobs := new(mockJobs)
	jobs.On("Submit", mock.MatchedBy(func(p model.SearchParams) bool {
		return assert.ObjectsAreEqual([]string{"Austin"}, p.Location) &&
			assert.ObjectsAreEqual([]string{"bakery", "cafe"}, p.BusinessTypes) &&
			p.MaxResults == 5 &&
			p.MaxAgeDays == 30 &&
			p.CompanySize == model.SizeRange{Min: 10, Max: 50}
	})).Return("job-1", nil)

	srv := newServer(t, jobs)
	body := `{"location":"Austin","business_types":["bakery","cafe"],"max_results":5,"company_size":{"min":10,"max":50}}`
	resp, err := http.Post(srv.URL+"/api/v1/jobs", "application/json", strings.NewReader(body))
	require.NoError(t, err)

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "job-1", decode(t, resp)["job_id"])
	jobs.AssertExpectations(t)
}

func TestSubmit_BadBody(t *testing.T) {
	jobs := new(mockJobs)
	srv := newServer(t, jobs)

	for _, body := range []string{`{not json`, `{"location": 5}`} {
		resp, err := http.Post(srv.URL+"/api/v1/jobs", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
		assert.Contains(t, decode(t, resp)["error"], "invalid request body")
	}
	jobs.AssertNotCalled(t, "Submit", mock.Anything)
}

func TestSubmit_ValidationError(t *testing.T) {
	jobs := new(mockJobs)
	jobs.On("Submit", mock.Anything).Return("", eris.Wrap(errors.New("search params: max_results must be > 0, got 0"), "jobmanager: submit"))

	srv := newServer(t, jobs)
	resp, err := http.Post(srv.URL+"/api/v1/jobs", "application/json", strings.NewReader(`{"max_results":0}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, decode(t, resp)["error"], "max_results")
}

func TestSubmit_ShuttingDown(t *testing.T) {
	jobs := new(mockJobs)
	jobs.On("Submit", mock.Anything).Return("", jobmanager.ErrShutdown)

	srv := newServer(t, jobs)
	resp, err := http.Post(srv.URL+"/api/v1/jobs", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestStatus(t *testing.T) {
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	jobs := new(mockJobs)
	jobs.On("Summary", "job-1", 2).Return(job.Snapshot{
		ID:    "job-1",
		State: job.StateRunning,
		Progress: job.Progress{
			ItemsScanned:   4,
			LeadsFound:     1,
			EstimatedTotal: 10,
			Percent:        40,
		},
		Log: []job.LogEntry{
			{Time: now, Level: "info", Message: "one"},
			{Time: now, Level: "info", Message: "two"},
			{Time: now, Level: "info", Message: "three"},
		},
		ResultCount: 1,
		CreatedAt:   now,
	}, nil)
	jobs.On("Summary", "missing", 2).Return(job.Snapshot{}, notFound("missing"))

	srv := newServer(t, jobs)

	resp, err := http.Get(srv.URL + "/api/v1/jobs/job-1")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode(t, resp)
	assert.Equal(t, "running", body["state"])
	assert.EqualValues(t, 1, body["result_count"])
	progress := body["progress"].(map[string]any)
	assert.EqualValues(t, 40, progress["percent"])
	assert.EqualValues(t, 10, progress["estimated_total_items"])
	tail := body["log_tail"].([]any)
	require.Len(t, tail, 2)
	assert.Equal(t, "three", tail[1].(map[string]any)["message"])
	assert.NotContains(t, body, "finished_at")

	resp, err = http.Get(srv.URL + "/api/v1/jobs/missing")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "job not found: missing", decode(t, resp)["error"])
}

func TestResults(t *testing.T) {
	jobs := new(mockJobs)
	jobs.On("Results", "job-1").Return([]model.Lead{{Company: "Acme", Score: 90}}, nil)
	jobs.On("Results", "job-2").Return(nil, nil)
	jobs.On("Results", "nope").Return(nil, notFound("nope"))

	srv := newServer(t, jobs)

	resp, err := http.Get(srv.URL + "/api/v1/jobs/job-1/results")
	require.NoError(t, err)
	body := decode(t, resp)
	leads := body["leads"].([]any)
	require.Len(t, leads, 1)
	assert.Equal(t, "Acme", leads[0].(map[string]any)["company"])

	resp, err = http.Get(srv.URL + "/api/v1/jobs/job-2/results")
	require.NoError(t, err)
	assert.Equal(t, []any{}, decode(t, resp)["leads"])

	resp, err = http.Get(srv.URL + "/api/v1/jobs/nope/results")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestCancel(t *testing.T) {
	jobs := new(mockJobs)
	jobs.On("Cancel", "job-1").Return(nil)
	jobs.On("Cancel", "nope").Return(notFound("nope"))

	srv := newServer(t, jobs)

	resp, err := http.Post(srv.URL+"/api/v1/jobs/job-1/cancel", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decode(t, resp)["ok"])

	resp, err = http.Post(srv.URL+"/api/v1/jobs/nope/cancel", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()

	resp, err = http.Get(srv.URL + "/api/v1/jobs/job-1/cancel")
	require.NoError(t, err)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestListAndActive(t *testing.T) {
	jobs := new(mockJobs)
	jobs.On("List").Return([]job.Snapshot{{ID: "b", State: job.StateRunning}, {ID: "a", State: job.StateCompleted}})
	jobs.On("Active").Return(job.Snapshot{ID: "b", State: job.StateRunning}, true).Once()
	jobs.On("Active").Return(job.Snapshot{}, false)

	srv := newServer(t, jobs)

	resp, err := http.Get(srv.URL + "/api/v1/jobs")
	require.NoError(t, err)
	list := decode(t, resp)["jobs"].([]any)
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[0].(map[string]any)["id"])

	resp, err = http.Get(srv.URL + "/api/v1/jobs/active")
	require.NoError(t, err)
	assert.Equal(t, "b", decode(t, resp)["id"])

	resp, err = http.Get(srv.URL + "/api/v1/jobs/active")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "no active job", decode(t, resp)["error"])
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newServer(t, new(mockJobs))

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, "ok", decode(t, resp)["status"])

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	resp, err = http.Get(srv.URL + "/nowhere")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "route not found", decode(t, resp)["error"])
}

func TestHealth_NotReady(t *testing.T) {
	h := NewRouter(Dependencies{
		Jobs:  new(mockJobs),
		Ready: func(context.Context) error { return errors.New("redis down") },
	})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "redis down")
}

func TestCORSPreflight(t *testing.T) {
	srv := newServer(t, new(mockJobs))
	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/v1/jobs", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, "https://app.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestRecoverer(t *testing.T) {
	h := recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal error"}`, rec.Body.String())
}

func TestSubmitRequest_DefaultsAreCopied(t *testing.T) {
	defaults := model.DefaultSearchParams()
	p := submitRequest{}.params(defaults)
	p.BusinessTypes[0] = "changed"
	assert.Equal(t, "tech startup", defaults.BusinessTypes[0])
}
