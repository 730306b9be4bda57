package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/3leaps/fleetplan/internal/errors"
	"github.com/3leaps/fleetplan/pkg/planregistry"
)

func newPlansRouter(t *testing.T) (*chi.Mux, *planregistry.Store) {
	t.Helper()
	store := planregistry.NewStore(t.TempDir())
	require.NoError(t, store.Write(&planregistry.PlanRecord{
		PlanID:     "p1",
		Deployment: "cf",
		CreatedAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Jobs: []planregistry.JobRecord{{
			Name:        "nats",
			Spec:        map[string]any{"name": "nats", "template": "nats"},
			PackageSpec: map[string]map[string]any{"nats": {"name": "nats", "version": "1.2"}},
			Properties:  map[string]any{"nats": map[string]any{"user": "admin"}},
		}},
	}))

	h := NewPlansHandler(store)
	r := chi.NewRouter()
	r.Get("/plans", h.List)
	r.Get("/plans/{planID}", h.Get)
	r.Get("/plans/{planID}/jobs/{job}/spec", h.JobSpec)
	r.Get("/plans/{planID}/jobs/{job}/package-spec", h.PackageSpec)
	r.Get("/plans/{planID}/jobs/{job}/properties", h.Properties)
	return r, store
}

func serve(r http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestPlansHandler_List(t *testing.T) {
	r, _ := newPlansRouter(t)

	rec := serve(r, "/plans")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []PlanSummary
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, "p1", list[0].PlanID)
	assert.Equal(t, 1, list[0].Jobs)

	rec = serve(r, "/plans?deployment=other")
	require.Equal(t, http.StatusOK, rec.Code)
	list = nil
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	assert.Empty(t, list)
}

func TestPlansHandler_JobProjections(t *testing.T) {
	r, _ := newPlansRouter(t)

	rec := serve(r, "/plans/p1/jobs/nats/spec")
	require.Equal(t, http.StatusOK, rec.Code)
	var spec map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&spec))
	assert.Equal(t, "nats", spec["template"])

	rec = serve(r, "/plans/p1/jobs/nats/package-spec")
	require.Equal(t, http.StatusOK, rec.Code)
	var pkgs map[string]map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&pkgs))
	assert.Equal(t, "1.2", pkgs["nats"]["version"])

	rec = serve(r, "/plans/p1/jobs/nats/properties")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestPlansHandler_NotFound(t *testing.T) {
	r, _ := newPlansRouter(t)

	for _, path := range []string{"/plans/missing", "/plans/p1/jobs/router/spec"} {
		t.Run(path, func(t *testing.T) {
			rec := serve(r, path)
			assert.Equal(t, http.StatusNotFound, rec.Code)

			var body apperrors.HTTPErrorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, apperrors.CodeNotFound, body.Error.Code)
		})
	}
}

func TestPlansHandler_NoStore(t *testing.T) {
	h := NewPlansHandler(nil)
	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/plans", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestVersionHandler(t *testing.T) {
	orig := buildVersion
	defer func() { buildVersion = orig }()

	SetVersion("1.4.0", "abc123", "2026-01-01")
	rec := httptest.NewRecorder()
	VersionHandler(rec, httptest.NewRequest(http.MethodGet, "/version", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var info VersionInfo
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&info))
	assert.Equal(t, "1.4.0", info.Version)
	assert.Equal(t, "abc123", info.Commit)
}
