package postgres

import (
	"fmt"

	"github.com/alanyoungcy/tickbot/internal/domain"
)

// listQuery appends numbered placeholders for the ListOpts filters.
type listQuery struct {
	sql     string
	args    []any
	timeCol string
}

func newListQuery(base, timeCol string, args ...any) *listQuery {
	return &listQuery{sql: base, args: args, timeCol: timeCol}
}

func (q *listQuery) arg(v any) string {
	q.args = append(q.args, v)
	return fmt.Sprintf("$%d", len(q.args))
}

func (q *listQuery) window(opts domain.ListOpts) {
	if opts.Since != nil {
		q.sql += " AND " + q.timeCol + " >= " + q.arg(*opts.Since)
	}
	if opts.Until != nil {
		q.sql += " AND " + q.timeCol + " <= " + q.arg(*opts.Until)
	}
}

func (q *listQuery) order(by string) {
	q.sql += " ORDER BY " + by
}

func (q *listQuery) page(opts domain.ListOpts) {
	if opts.Limit > 0 {
		q.sql += " LIMIT " + q.arg(opts.Limit)
	}
	if opts.Offset > 0 {
		q.sql += " OFFSET " + q.arg(opts.Offset)
	}
}
