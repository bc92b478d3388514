package apperr

import (
	"github.com/celerix-dev/tether/internal/log"
	"github.com/gin-gonic/gin"
)

// Body is the JSON error shape returned to the frontend.
type Body struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Abort writes err as a JSON error body and stops the handler chain.
// Server-side failures are logged with their cause; the cause is never sent.
func Abort(c *gin.Context, err error) {
	e := From(err)
	if e.Status >= 500 {
		log.Logger.Error().
			Err(err).
			Str("path", c.FullPath()).
			Str("code", e.Code).
			Str("request_id", c.GetString("request_id")).
			Msg("request failed")
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(e.Status, Body{Error: e.Message, Code: e.Code})
}
