package handler

import (
	"database/sql"
	"errors"
	"io/fs"
	"log"
	"net/http"

	"github.com/haatos/simple-dispatch/internal/definition"
	"github.com/haatos/simple-dispatch/internal/service"
	"github.com/haatos/simple-dispatch/internal/store"
	"github.com/labstack/echo/v4"
)

func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	switch e := err.(type) {
	case *echo.HTTPError:
		if e.Internal != nil {
			c.Logger().Errorf(
				"handler internal error %s [%d]: %+v\n",
				c.Request().URL.Path, e.Code, e.Internal,
			)
		}
		if err := c.JSON(e.Code, echo.HTTPError{Message: e.Message}); err != nil {
			log.Printf("err returning json: %+v\n", err)
		}
	default:
		c.Logger().Errorf("handler error: %+v\n", e)
		if err := c.JSON(
			http.StatusInternalServerError,
			echo.HTTPError{Message: "something went terribly wrong"},
		); err != nil {
			log.Printf("err returning json: %+v\n", err)
		}
	}
}

func newError(c echo.Context, err error, status int, message string) error {
	e := echo.NewHTTPError(status, message)
	if err != nil {
		e = e.WithInternal(err)
	}
	return e
}

// serviceError maps an error returned by a service to the HTTP error sent
// to the client. notFound is the message for missing rows; message is used
// for anything unexpected.
func serviceError(c echo.Context, err error, notFound, message string) error {
	var validationErr service.ValidationError
	var parseErr *definition.ParseError
	var queueFullErr *service.ErrRunQueueFull
	switch {
	case errors.As(err, &validationErr):
		return newError(c, err, http.StatusBadRequest, validationErr.Message)
	case errors.As(err, &parseErr):
		return newError(c, err, http.StatusBadRequest, parseErr.Error())
	case errors.As(err, &queueFullErr):
		return newError(c, err, http.StatusServiceUnavailable, queueFullErr.Error())
	case errors.Is(err, sql.ErrNoRows),
		errors.Is(err, service.ErrNoJobLog),
		errors.Is(err, fs.ErrNotExist):
		return newError(c, err, http.StatusNotFound, notFound)
	case errors.Is(err, service.ErrRunNotActive):
		return newError(c, err, http.StatusConflict, service.ErrRunNotActive.Error())
	case store.IsUniqueConstraintError(err):
		return newError(c, err, http.StatusConflict, "already exists")
	case store.IsForeignKeyConstraintError(err):
		return newError(c, err, http.StatusBadRequest, "still referenced by other records")
	}
	return newError(c, err, http.StatusInternalServerError, message)
}
