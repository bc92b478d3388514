package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/celerix-dev/tether/internal/apperr"
	"github.com/celerix-dev/tether/internal/auth"
	"github.com/celerix-dev/tether/internal/log"
	"github.com/celerix-dev/tether/internal/store"
	"github.com/celerix-dev/tether/pkg/schema"
	"github.com/gin-gonic/gin"
)

const (
	defaultActivityLimit = 50
	maxActivityLimit     = 200

	// clock skew tolerated on client-supplied occurred_at
	futureSkew = 5 * time.Minute
)

func parseTimeQuery(c *gin.Context, name string) (time.Time, error) {
	v := c.Query(name)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, apperr.BadRequest(name + " must be an RFC 3339 timestamp")
	}
	return t, nil
}

func (h *Handler) ListActivities(c *gin.Context) {
	p := auth.MustPrincipal(c)

	f := store.ActivityFilter{Limit: defaultActivityLimit}
	var err error
	if f.From, err = parseTimeQuery(c, "from"); err != nil {
		fail(c, err)
		return
	}
	if f.To, err = parseTimeQuery(c, "to"); err != nil {
		fail(c, err)
		return
	}
	if !f.From.IsZero() && !f.To.IsZero() && !f.To.After(f.From) {
		fail(c, apperr.BadRequest("to must be after from"))
		return
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			fail(c, apperr.BadRequest("limit must be a positive integer"))
			return
		}
		f.Limit = min(n, maxActivityLimit)
	}

	list, err := h.Store.ListActivities(c.Request.Context(), p.UserID, f)
	if err != nil {
		fail(c, err)
		return
	}
	if list == nil {
		list = []schema.ActivityLog{}
	}
	c.JSON(http.StatusOK, list)
}

type activityInput struct {
	Kind       schema.ActivityKind `json:"kind"`
	Mood       *int                `json:"mood"`
	Note       string              `json:"note"`
	OccurredAt *time.Time          `json:"occurred_at"`
}

func (h *Handler) CreateActivity(c *gin.Context) {
	p := auth.MustPrincipal(c)
	ctx := c.Request.Context()

	var in activityInput
	if !bindJSON(c, &in, false) {
		return
	}
	now := h.clock()
	a := &schema.ActivityLog{UserID: p.UserID, Kind: in.Kind, Mood: in.Mood, Note: in.Note, OccurredAt: now}
	if in.OccurredAt != nil {
		if in.OccurredAt.After(now.Add(futureSkew)) {
			fail(c, apperr.BadRequest("occurred_at must not be in the future"))
			return
		}
		a.OccurredAt = in.OccurredAt.UTC()
	}
	if err := a.Validate(); err != nil {
		fail(c, err)
		return
	}

	created, err := h.Store.InsertActivity(ctx, a)
	if err != nil {
		fail(c, err)
		return
	}
	// The row is stored, so a failure here is logged rather than returned: an
	// error response would free the Idempotency-Key for a second insert.
	resolved, err := h.Recovery.MarkEngaged(ctx, p.UserID, created.Kind)
	if err != nil {
		logger := log.WithUserID(p.UserID)
		logger.Warn().Err(err).Str("activity_id", created.ID).Msg("Marking engagement failed")
		resolved = nil
	}
	c.JSON(http.StatusCreated, gin.H{"activity": created, "resolved_session": resolved})
}

func (h *Handler) DeleteActivity(c *gin.Context) {
	p := auth.MustPrincipal(c)
	id, ok := rowID(c, "activity")
	if !ok {
		return
	}
	if err := h.Store.DeleteActivity(c.Request.Context(), p.UserID, id); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
