package handler

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/haatos/simple-dispatch/internal"
	"github.com/haatos/simple-dispatch/internal/testutil"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func TestMiddleware_APIKeyMiddleware(t *testing.T) {
	next := func(c echo.Context) error {
		return c.String(http.StatusOK, "authorized")
	}

	t.Run("success - known api key", func(t *testing.T) {
		// arrange
		ak := generateAPIKey()
		mockService := new(testutil.MockAPIKeyService)
		mockService.On("GetAPIKeyByValue", context.Background(), ak.Value).Return(ak, nil)
		req := httptest.NewRequest(http.MethodGet, "/api/pipelines", nil)
		req.Header.Set(internal.APIKeyHeader, ak.Value)
		rec := httptest.NewRecorder()
		e := echo.New()
		c := e.NewContext(req, rec)

		// act
		err := APIKeyMiddleware(mockService)(next)(c)

		// assert
		assert.NoError(t, err)
		assert.Equal(t, "authorized", rec.Body.String())
	})
	t.Run("failure - missing api key", func(t *testing.T) {
		// arrange
		mockService := new(testutil.MockAPIKeyService)
		req := httptest.NewRequest(http.MethodGet, "/api/pipelines", nil)
		rec := httptest.NewRecorder()
		e := echo.New()
		c := e.NewContext(req, rec)

		// act
		err := APIKeyMiddleware(mockService)(next)(c)

		// assert
		he := assertHTTPError(t, err, http.StatusUnauthorized)
		assert.Equal(t, "missing api key", he.Message)
		mockService.AssertNotCalled(t, "GetAPIKeyByValue")
	})
	t.Run("failure - unknown api key", func(t *testing.T) {
		// arrange
		mockService := new(testutil.MockAPIKeyService)
		mockService.On("GetAPIKeyByValue", context.Background(), "nope").Return(nil, sql.ErrNoRows)
		req := httptest.NewRequest(http.MethodGet, "/api/pipelines", nil)
		req.Header.Set(internal.APIKeyHeader, "nope")
		rec := httptest.NewRecorder()
		e := echo.New()
		c := e.NewContext(req, rec)

		// act
		err := APIKeyMiddleware(mockService)(next)(c)

		// assert
		he := assertHTTPError(t, err, http.StatusUnauthorized)
		assert.Equal(t, "invalid api key", he.Message)
		assert.Empty(t, rec.Body.String())
	})
	t.Run("failure - store unavailable", func(t *testing.T) {
		// arrange
		mockService := new(testutil.MockAPIKeyService)
		mockService.On("GetAPIKeyByValue", context.Background(), "key").
			Return(nil, errors.New("database is locked"))
		req := httptest.NewRequest(http.MethodGet, "/api/pipelines", nil)
		req.Header.Set(internal.APIKeyHeader, "key")
		rec := httptest.NewRecorder()
		e := echo.New()
		c := e.NewContext(req, rec)

		// act
		err := APIKeyMiddleware(mockService)(next)(c)

		// assert
		assertHTTPError(t, err, http.StatusInternalServerError)
	})
}
