package postgrest

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Query accumulates filters for one table. Builders mutate and return the
// receiver; a Query must not be shared between goroutines.
type Query struct {
	c      *Client
	table  string
	params url.Values
}

func (q *Query) add(k, v string) *Query {
	if q.params == nil {
		q.params = url.Values{}
	}
	q.params.Add(k, v)
	return q
}

func format(v any) string {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case *time.Time:
		if t == nil {
			return "null"
		}
		return t.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(v)
	}
}

// Select limits the returned columns.
func (q *Query) Select(cols string) *Query { return q.add("select", cols) }

func (q *Query) Eq(col string, v any) *Query  { return q.add(col, "eq."+format(v)) }
func (q *Query) Neq(col string, v any) *Query { return q.add(col, "neq."+format(v)) }
func (q *Query) Gt(col string, v any) *Query  { return q.add(col, "gt."+format(v)) }
func (q *Query) Gte(col string, v any) *Query { return q.add(col, "gte."+format(v)) }
func (q *Query) Lt(col string, v any) *Query  { return q.add(col, "lt."+format(v)) }
func (q *Query) Lte(col string, v any) *Query { return q.add(col, "lte."+format(v)) }

// Is filters on null, true or false.
func (q *Query) Is(col, v string) *Query { return q.add(col, "is."+v) }

// NotNull keeps rows where col has a value.
func (q *Query) NotNull(col string) *Query { return q.add(col, "not.is.null") }

// In filters col against a list of values.
func (q *Query) In(col string, vals []string) *Query {
	quoted := make([]string, len(vals))
	for i, v := range vals {
		if strings.ContainsAny(v, ",()\"") {
			v = `"` + strings.ReplaceAll(v, `"`, `\"`) + `"`
		}
		quoted[i] = v
	}
	return q.add(col, "in.("+strings.Join(quoted, ",")+")")
}

// Order sorts by col; multiple calls append.
func (q *Query) Order(col string, ascending bool) *Query {
	dir := "desc"
	if ascending {
		dir = "asc"
	}
	if q.params != nil && q.params.Get("order") != "" {
		q.params.Set("order", q.params.Get("order")+","+col+"."+dir)
		return q
	}
	return q.add("order", col+"."+dir)
}

func (q *Query) Limit(n int) *Query  { return q.add("limit", fmt.Sprint(n)) }
func (q *Query) Offset(n int) *Query { return q.add("offset", fmt.Sprint(n)) }

func (q *Query) encode() string {
	if q.params == nil {
		return ""
	}
	return q.params.Encode()
}

// Get decodes the matching rows into out, which should be a pointer to a slice.
func (q *Query) Get(ctx context.Context, out any) error {
	_, err := q.c.do(ctx, http.MethodGet, q.table, q.encode(), nil, nil, out)
	return err
}

// Insert creates rows and decodes the stored representation into out.
func (q *Query) Insert(ctx context.Context, rows any, out any) error {
	_, err := q.c.do(ctx, http.MethodPost, q.table, q.encode(), rows, []string{"return=representation"}, out)
	return err
}

// Upsert inserts or merges on the given conflict columns.
func (q *Query) Upsert(ctx context.Context, onConflict string, rows any, out any) error {
	if onConflict != "" {
		q.add("on_conflict", onConflict)
	}
	prefer := []string{"resolution=merge-duplicates", "return=representation"}
	_, err := q.c.do(ctx, http.MethodPost, q.table, q.encode(), rows, prefer, out)
	return err
}

// Update patches matching rows. Filters are required; PostgREST refuses an
// unfiltered PATCH when safe-update is on, and so does this client.
func (q *Query) Update(ctx context.Context, patch any, out any) error {
	if q.params == nil {
		return fmt.Errorf("postgrest: update on %s without filters", q.table)
	}
	_, err := q.c.do(ctx, http.MethodPatch, q.table, q.encode(), patch, []string{"return=representation"}, out)
	return err
}

// Delete removes matching rows and decodes them into out.
func (q *Query) Delete(ctx context.Context, out any) error {
	if q.params == nil {
		return fmt.Errorf("postgrest: delete on %s without filters", q.table)
	}
	_, err := q.c.do(ctx, http.MethodDelete, q.table, q.encode(), nil, []string{"return=representation"}, out)
	return err
}

// Count returns the exact number of matching rows.
func (q *Query) Count(ctx context.Context) (int, error) {
	resp, err := q.c.do(ctx, http.MethodHead, q.table, q.encode(), nil, []string{"count=exact"}, nil)
	if err != nil {
		return 0, err
	}
	return parseContentRange(resp.Header.Get("Content-Range"))
}
