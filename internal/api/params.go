package api

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"msgstream/internal/messages"
	apperrors "msgstream/pkg/errors"
)

const dateLayout = "2006-01-02"

type listParams struct {
	filter messages.Filter
	page   int
	limit  int
}

// parseListParams reads the /api/messages query string. Absent values mean
// no constraint; malformed ones are validation errors.
func parseListParams(c *gin.Context) (listParams, error) {
	var p listParams

	p.filter.ClientMessageID = strings.TrimSpace(c.Query("messageId"))
	p.filter.Source = strings.TrimSpace(c.Query("source"))
	p.filter.Text = strings.TrimSpace(c.Query("text"))

	var err error
	if p.filter.Start, err = parseDate(c, "start"); err != nil {
		return p, err
	}
	if p.filter.End, err = parseDate(c, "end"); err != nil {
		return p, err
	}

	if raw := strings.TrimSpace(c.Query("is_duplicate")); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return p, invalidParam("is_duplicate", raw, "must be true or false")
		}
		p.filter.IsDuplicate = &v
	}

	if p.page, err = parseInt(c, "page"); err != nil {
		return p, err
	}
	if p.limit, err = parseInt(c, "limit"); err != nil {
		return p, err
	}

	return p, nil
}

func parseDate(c *gin.Context, name string) (*time.Time, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(dateLayout, raw, time.UTC)
	if err != nil {
		return nil, invalidParam(name, raw, "must be a date in YYYY-MM-DD format")
	}
	return &t, nil
}

func parseInt(c *gin.Context, name string) (int, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, invalidParam(name, raw, "must be an integer")
	}
	return v, nil
}

func invalidParam(name, value, reason string) error {
	return apperrors.Validationf("%s %s", name, reason).
		WithDetail("field", name).
		WithDetail("value", value)
}
