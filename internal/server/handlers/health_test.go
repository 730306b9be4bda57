package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/3leaps/fleetplan/internal/errors"
)

type stubChecker struct {
	err error
}

func (s stubChecker) CheckHealth(ctx context.Context) error {
	return s.err
}

type blockingChecker struct{}

func (blockingChecker) CheckHealth(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestHealthManager_AllCheckersHealthy(t *testing.T) {
	manager := NewHealthManager("1.2.3")
	manager.RegisterChecker("plan_registry", stubChecker{})
	manager.RegisterChecker("instance_db", stubChecker{})

	rec := httptest.NewRecorder()
	manager.HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)
	assert.Equal(t, map[string]string{"plan_registry": "healthy", "instance_db": "healthy"}, resp.Checks)
}

func TestHealthManager_UnreadableRegistryIsUnavailable(t *testing.T) {
	manager := NewHealthManager("1.2.3")
	manager.RegisterChecker("plan_registry", stubChecker{err: errors.New("plan registry path is not a directory")})
	manager.RegisterChecker("instance_db", stubChecker{})

	rec := httptest.NewRecorder()
	manager.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var resp apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, apperrors.CodeServiceUnavailable, resp.Error.Code)

	checks, ok := resp.Error.Details["checks"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "unhealthy", checks["plan_registry"])
	assert.Equal(t, "healthy", checks["instance_db"])
}

func TestHealthManager_LivenessSkipsCheckers(t *testing.T) {
	manager := NewHealthManager("dev")
	manager.RegisterChecker("instance_db", stubChecker{err: errors.New("locked")})

	rec := httptest.NewRecorder()
	manager.LivenessHandler(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthManager_TimeoutIsDegraded(t *testing.T) {
	manager := NewHealthManager("dev")
	manager.RegisterChecker("instance_db", blockingChecker{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	checks := manager.runChecks(ctx)
	assert.NotEqual(t, "healthy", checks["instance_db"])

	assert.Equal(t, "degraded", manager.determineOverallStatus(map[string]string{
		"plan_registry": "healthy",
		"instance_db":   "timeout",
	}))
	assert.Equal(t, "unhealthy", manager.determineOverallStatus(map[string]string{
		"plan_registry": "unhealthy",
		"instance_db":   "timeout",
	}))
}

func TestGlobalHandlers(t *testing.T) {
	original := globalHealthManager
	defer func() { globalHealthManager = original }()

	handlers := map[string]http.HandlerFunc{
		"/health":         HealthHandler,
		"/health/live":    LivenessHandler,
		"/health/ready":   ReadinessHandler,
		"/health/startup": StartupHandler,
	}

	t.Run("not initialized", func(t *testing.T) {
		globalHealthManager = nil
		assert.Nil(t, GetHealthManager())
		for path, h := range handlers {
			rec := httptest.NewRecorder()
			h(rec, httptest.NewRequest(http.MethodGet, path, nil))
			assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
		}
	})

	t.Run("initialized", func(t *testing.T) {
		InitHealthManager("test-version")
		require.NotNil(t, GetHealthManager())
		GetHealthManager().RegisterChecker("plan_registry", stubChecker{})
		for path, h := range handlers {
			rec := httptest.NewRecorder()
			h(rec, httptest.NewRequest(http.MethodGet, path, nil))
			assert.Equal(t, http.StatusOK, rec.Code, path)
		}
	})
}
