package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/3leaps/fleetplan/internal/errors"
	"github.com/3leaps/fleetplan/pkg/planregistry"
)

// PlanSummary is one entry of GET /plans.
type PlanSummary struct {
	PlanID     string `json:"plan_id"`
	Deployment string `json:"deployment"`
	CreatedAt  string `json:"created_at"`
	Jobs       int    `json:"jobs"`
}

// PlansHandler serves recorded plans read-only.
type PlansHandler struct {
	store *planregistry.Store
}

// NewPlansHandler serves records from store. A nil store answers 503.
func NewPlansHandler(store *planregistry.Store) *PlansHandler {
	return &PlansHandler{store: store}
}

func (h *PlansHandler) available(w http.ResponseWriter, r *http.Request) bool {
	if h.store == nil {
		respondWithError(w, r, apperrors.NewServiceUnavailable("plan registry not configured", nil))
		return false
	}
	return true
}

// List serves GET /plans, optionally filtered by ?deployment=.
func (h *PlansHandler) List(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	records, err := h.store.List()
	if err != nil {
		respondWithError(w, r, apperrors.WrapInternal(r.Context(), err, "list plans"))
		return
	}

	deployment := r.URL.Query().Get("deployment")
	out := make([]PlanSummary, 0, len(records))
	for _, rec := range records {
		if deployment != "" && rec.Deployment != deployment {
			continue
		}
		out = append(out, PlanSummary{
			PlanID:     rec.PlanID,
			Deployment: rec.Deployment,
			CreatedAt:  rec.CreatedAt.Format(time.RFC3339),
			Jobs:       len(rec.Jobs),
		})
	}
	apperrors.WriteJSON(w, http.StatusOK, out)
}

func (h *PlansHandler) plan(w http.ResponseWriter, r *http.Request) *planregistry.PlanRecord {
	if !h.available(w, r) {
		return nil
	}
	rec, err := h.store.Get(chi.URLParam(r, "planID"))
	if err != nil {
		respondWithError(w, r, err)
		return nil
	}
	return rec
}

func (h *PlansHandler) job(w http.ResponseWriter, r *http.Request) *planregistry.JobRecord {
	rec := h.plan(w, r)
	if rec == nil {
		return nil
	}
	name := chi.URLParam(r, "job")
	job := rec.Job(name)
	if job == nil {
		respondWithError(w, r, apperrors.NewNotFound("job "+name+" not found in plan "+rec.PlanID))
		return nil
	}
	return job
}

// Get serves GET /plans/{planID}.
func (h *PlansHandler) Get(w http.ResponseWriter, r *http.Request) {
	if rec := h.plan(w, r); rec != nil {
		apperrors.WriteJSON(w, http.StatusOK, rec)
	}
}

// JobSpec serves GET /plans/{planID}/jobs/{job}/spec.
func (h *PlansHandler) JobSpec(w http.ResponseWriter, r *http.Request) {
	if job := h.job(w, r); job != nil {
		apperrors.WriteJSON(w, http.StatusOK, job.Spec)
	}
}

// PackageSpec serves GET /plans/{planID}/jobs/{job}/package-spec.
func (h *PlansHandler) PackageSpec(w http.ResponseWriter, r *http.Request) {
	if job := h.job(w, r); job != nil {
		apperrors.WriteJSON(w, http.StatusOK, job.PackageSpec)
	}
}

// Properties serves GET /plans/{planID}/jobs/{job}/properties.
func (h *PlansHandler) Properties(w http.ResponseWriter, r *http.Request) {
	if job := h.job(w, r); job != nil {
		apperrors.WriteJSON(w, http.StatusOK, job.Properties)
	}
}
