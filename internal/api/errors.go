package api

import (
	"errors"
	"net/http"

	"github.com/celerix-dev/tether/internal/apperr"
	"github.com/celerix-dev/tether/internal/store"
	"github.com/celerix-dev/tether/pkg/schema"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// fail maps data-layer and validation errors onto the API error shape.
func fail(c *gin.Context, err error) {
	var (
		ae *apperr.Error
		ve *schema.ValidationError
		me *http.MaxBytesError
	)
	switch {
	case errors.As(err, &ae):
	case errors.As(err, &ve):
		err = apperr.Wrap(err, http.StatusBadRequest, "invalid_request", ve.Error())
	case errors.As(err, &me):
		err = apperr.Wrap(err, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large")
	case errors.Is(err, store.ErrNotFound):
		err = apperr.Wrap(err, http.StatusNotFound, "not_found", "not found")
	case errors.Is(err, store.ErrConflict):
		err = apperr.Wrap(err, http.StatusConflict, "conflict", "conflicting write")
	}
	apperr.Abort(c, err)
}

// rowID reads the :id path parameter. Ids are UUIDs, so anything else cannot
// name a row and is answered with 404 before reaching the database.
func rowID(c *gin.Context, what string) (string, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		apperr.Abort(c, apperr.NotFound(what))
		return "", false
	}
	return id.String(), true
}

func abortNotFound(c *gin.Context) {
	apperr.Abort(c, apperr.NotFound("route"))
}

// bindJSON decodes the body into v. An empty body is allowed when optional is set.
func bindJSON(c *gin.Context, v any, optional bool) bool {
	if optional && c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(v); err != nil {
		var me *http.MaxBytesError
		if errors.As(err, &me) {
			fail(c, err)
			return false
		}
		apperr.Abort(c, apperr.Wrap(err, http.StatusBadRequest, "invalid_request", "malformed JSON body"))
		return false
	}
	return true
}
