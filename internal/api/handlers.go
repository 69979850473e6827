package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/lead-scanner/internal/job"
	"github.com/sells-group/lead-scanner/internal/jobmanager"
	"github.com/sells-group/lead-scanner/internal/model"
)

const maxBodyBytes = 1 << 20

// stringList accepts either a JSON string or an array of strings.
type stringList []string

func (s *stringList) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		*s = stringList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return errors.New("expected a string or an array of strings")
	}
	*s = many
	return nil
}

type submitRequest struct {
	Location        *stringList      `json:"location"`
	BusinessTypes   *stringList      `json:"business_types"`
	MaxResults      *int             `json:"max_results"`
	MaxAgeDays      *int             `json:"max_age_days"`
	SeniorityLevels *stringList      `json:"seniority_levels"`
	CompanySize     *model.SizeRange `json:"company_size"`
}

// params overlays the request onto defaults.
func (req submitRequest) params(defaults model.SearchParams) model.SearchParams {
	p := defaults.Clone()
	if req.Location != nil {
		p.Location = []string(*req.Location)
	}
	if req.BusinessTypes != nil {
		p.BusinessTypes = []string(*req.BusinessTypes)
	}
	if req.MaxResults != nil {
		p.MaxResults = *req.MaxResults
	}
	if req.MaxAgeDays != nil {
		p.MaxAgeDays = *req.MaxAgeDays
	}
	if req.SeniorityLevels != nil {
		p.SeniorityLevels = []string(*req.SeniorityLevels)
	}
	if req.CompanySize != nil {
		p.CompanySize = *req.CompanySize
	}
	return p.Clone()
}

type jobSummary struct {
	ID          string             `json:"id"`
	State       job.State          `json:"state"`
	Params      model.SearchParams `json:"params"`
	Progress    job.Progress       `json:"progress"`
	ResultCount int                `json:"result_count"`
	Error       string             `json:"error,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	StartedAt   time.Time          `json:"started_at,omitzero"`
	FinishedAt  time.Time          `json:"finished_at,omitzero"`
}

type statusResponse struct {
	jobSummary
	LogTail []job.LogEntry `json:"log_tail"`
}

func summarize(s job.Snapshot) jobSummary {
	return jobSummary{
		ID:          s.ID,
		State:       s.State,
		Params:      s.Params,
		Progress:    s.Progress,
		ResultCount: s.ResultCount,
		Error:       s.Error,
		CreatedAt:   s.CreatedAt,
		StartedAt:   s.StartedAt,
		FinishedAt:  s.FinishedAt,
	}
}

type handlers struct {
	deps Dependencies
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	if h.deps.Ready != nil {
		if err := h.deps.Ready(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) submit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	id, err := h.deps.Jobs.Submit(req.params(h.deps.Defaults))
	switch {
	case errors.Is(err, jobmanager.ErrShutdown):
		writeError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, strings.TrimPrefix(err.Error(), "jobmanager: submit: "))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": id})
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		jobSummary: summarize(s),
		LogTail:    orEmpty(s.LogTail(h.deps.LogTail)),
	})
}

func (h *handlers) results(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	leads, err := h.deps.Jobs.Results(id)
	if err != nil {
		h.notFound(w, id, err)
		return
	}
	if leads == nil {
		leads = []model.Lead{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"job_id": id, "count": len(leads), "leads": leads})
}

func (h *handlers) cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	if err := h.deps.Jobs.Cancel(id); err != nil {
		h.notFound(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *handlers) list(w http.ResponseWriter, _ *http.Request) {
	snaps := h.deps.Jobs.List()
	out := make([]jobSummary, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, summarize(s))
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": out})
}

func (h *handlers) active(w http.ResponseWriter, _ *http.Request) {
	s, ok := h.deps.Jobs.Active()
	if !ok {
		writeError(w, http.StatusNotFound, "no active job")
		return
	}
	writeJSON(w, http.StatusOK, summarize(s))
}

func (h *handlers) lookup(w http.ResponseWriter, r *http.Request) (job.Snapshot, bool) {
	id := chi.URLParam(r, "jobID")
	s, err := h.deps.Jobs.Summary(id, h.deps.LogTail)
	if err != nil {
		h.notFound(w, id, err)
		return job.Snapshot{}, false
	}
	return s, true
}

func (h *handlers) notFound(w http.ResponseWriter, id string, err error) {
	if errors.Is(err, jobmanager.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found: "+id)
		return
	}
	zap.L().Error("api: job lookup", zap.String("job_id", id), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
