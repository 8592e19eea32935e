package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ignite/smart-import/internal/config"
)

func TestUploadTimeout(t *testing.T) {
	assert.Equal(t, minBodyTimeout, uploadTimeout(0))
	assert.Equal(t, minBodyTimeout, uploadTimeout(20<<20))
	assert.Equal(t, 401*time.Second, uploadTimeout(20<<20*20+1<<20))
	assert.Equal(t, maxBodyTimeout, uploadTimeout(10<<30))
}

func TestNewServer(t *testing.T) {
	t.Setenv("ECS_CONTAINER_METADATA_URI", "")
	t.Setenv("AWS_EXECUTION_ENV", "")
	t.Setenv("SERVER_HOST", "")
	ts := setupServer(t, 20<<20)
	h := NewImportHandlers(ts.svc, nil, 20<<20)
	s := NewServer(config.ServerConfig{Host: "127.0.0.1", Port: 9191}, h, NewHealthChecker(nil, nil, nil, ""))

	assert.Equal(t, "127.0.0.1:9191", s.Addr())
	assert.Equal(t, 401*time.Second, s.bodyTimeout)
	assert.NoError(t, s.Shutdown(context.Background()))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
