package messages

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClampPage(t *testing.T) {
	tests := []struct {
		name                string
		page, size          int
		wantPage, wantLimit int
	}{
		{"defaults", 0, 0, 1, 10},
		{"negative page", -3, 5, 1, 5},
		{"size capped", 2, 500, 2, 100},
		{"in range", 4, 25, 4, 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, limit := ClampPage(tt.page, tt.size)
			assert.Equal(t, tt.wantPage, page)
			assert.Equal(t, tt.wantLimit, limit)
		})
	}
}

func TestBuildWhere_Empty(t *testing.T) {
	b := buildWhere(Filter{})
	assert.Equal(t, "", b.sql())
	assert.Empty(t, b.args)
}

func TestBuildWhere_ClientIDWinsOverSource(t *testing.T) {
	b := buildWhere(Filter{ClientMessageID: "X", Source: "ui"})
	assert.Equal(t, " WHERE client_message_id = $1", b.sql())
	assert.Equal(t, []interface{}{"X"}, b.args)
}

func TestBuildWhere_AllFilters(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)
	dup := true

	b := buildWhere(Filter{
		Source:      "ui",
		Text:        "50%_off",
		Start:       &start,
		End:         &end,
		IsDuplicate: &dup,
	})

	assert.Equal(t,
		` WHERE source = $1 AND data ILIKE $2 ESCAPE '\'`+
			` AND (publish_time AT TIME ZONE 'UTC')::date >= $3::date`+
			` AND (publish_time AT TIME ZONE 'UTC')::date <= $4::date`+
			` AND is_duplicate = $5`,
		b.sql())
	assert.Equal(t, []interface{}{"ui", `%50\%\_off%`, "2024-03-01", "2024-03-31", true}, b.args)
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `a\\b\%c\_d`, escapeLike(`a\b%c_d`))
}
