package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/haatos/simple-dispatch/internal"
	"github.com/haatos/simple-dispatch/internal/types"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigHandler_PutConfig(t *testing.T) {
	t.Run("success - configuration written", func(t *testing.T) {
		// arrange
		path := filepath.Join(t.TempDir(), "config.json")
		h := &ConfigHandler{configPath: path}
		e := echo.New()
		req := httptest.NewRequest(
			http.MethodPut, "/api/config",
			strings.NewReader(`{"queue_size": 5, "max_concurrent_runs": 1, "runner_policy": "first"}`),
		)
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)

		// act
		err := h.PutConfig(c)

		// assert
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, int64(5), internal.Config.QueueSize)
		assert.Equal(t, types.FirstRegistered, internal.Config.RunnerPolicy)
		b, err := os.ReadFile(path)
		require.NoError(t, err)
		var written internal.Configuration
		require.NoError(t, json.Unmarshal(b, &written))
		assert.Equal(t, int64(1), written.MaxConcurrentRuns)
	})
	t.Run("failure - invalid queue size", func(t *testing.T) {
		// arrange
		path := filepath.Join(t.TempDir(), "config.json")
		h := &ConfigHandler{configPath: path}
		e := echo.New()
		req := httptest.NewRequest(
			http.MethodPut, "/api/config", strings.NewReader(`{"queue_size": 0}`),
		)
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)

		// act
		err := h.PutConfig(c)

		// assert
		assertHTTPError(t, err, http.StatusBadRequest)
		exists, _ := os.Stat(path)
		assert.Nil(t, exists)
	})
}
