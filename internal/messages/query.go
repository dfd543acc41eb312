package messages

import (
	"fmt"
	"strings"

	"msgstream/internal/constants"
)

const dateLayout = "2006-01-02"

// ClampPage applies the paging rules: page below 1 becomes 1, a non-positive
// size becomes the default, and sizes above the maximum are capped.
func ClampPage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = constants.DefaultPageSize
	}
	if pageSize > constants.MaxPageSize {
		pageSize = constants.MaxPageSize
	}
	return page, pageSize
}

type whereBuilder struct {
	conds []string
	args  []interface{}
}

func (b *whereBuilder) add(cond string, arg interface{}) {
	b.args = append(b.args, arg)
	b.conds = append(b.conds, fmt.Sprintf(cond, len(b.args)))
}

func (b *whereBuilder) sql() string {
	if len(b.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(b.conds, " AND ")
}

func buildWhere(f Filter) *whereBuilder {
	b := &whereBuilder{}

	if id := strings.TrimSpace(f.ClientMessageID); id != "" {
		b.add("client_message_id = $%d", id)
	} else if src := strings.TrimSpace(f.Source); src != "" {
		b.add("source = $%d", src)
	}

	if f.Text != "" {
		b.add(`data ILIKE $%d ESCAPE '\'`, "%"+escapeLike(f.Text)+"%")
	}

	if f.Start != nil {
		b.add("(publish_time AT TIME ZONE 'UTC')::date >= $%d::date", f.Start.Format(dateLayout))
	}
	if f.End != nil {
		b.add("(publish_time AT TIME ZONE 'UTC')::date <= $%d::date", f.End.Format(dateLayout))
	}

	if f.IsDuplicate != nil {
		b.add("is_duplicate = $%d", *f.IsDuplicate)
	}

	return b
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
