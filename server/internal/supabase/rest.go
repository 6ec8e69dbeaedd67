package supabase

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// Query selects rows from a table.
type Query struct {
	Columns string            // defaults to "*"
	Order   string            // column to order by
	Desc    bool              // descending order
	Limit   int               // zero means no limit
	Offset  int               // rows to skip, for paging
	Eq      map[string]string // column = value filters
	Gte     map[string]string // column >= value filters
}

func (q Query) values() url.Values {
	v := url.Values{}
	cols := q.Columns
	if cols == "" {
		cols = "*"
	}
	v.Set("select", cols)
	if q.Order != "" {
		dir := "asc"
		if q.Desc {
			dir = "desc"
		}
		v.Set("order", q.Order+"."+dir)
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		v.Set("offset", strconv.Itoa(q.Offset))
	}
	addFilters(v, "eq", q.Eq)
	addFilters(v, "gte", q.Gte)
	return v
}

func addFilters(v url.Values, op string, f map[string]string) {
	for col, val := range f {
		v.Add(col, op+"."+val)
	}
}

func tablePath(table string) string {
	return "/rest/v1/" + url.PathEscape(table)
}

// Select reads rows of table into dest, which must be a pointer to a slice.
func (c *Client) Select(ctx context.Context, table string, q Query, dest any) error {
	return c.doJSON(ctx, request{
		op:     "select",
		method: http.MethodGet,
		path:   tablePath(table),
		query:  q.values(),
		attrs:  []attribute.KeyValue{attribute.String("db.table", table)},
	}, dest)
}

// Insert adds row to table.
func (c *Client) Insert(ctx context.Context, table string, row any) error {
	body, err := jsonBody(row)
	if err != nil {
		return err
	}
	return c.doJSON(ctx, request{
		op:     "insert",
		method: http.MethodPost,
		path:   tablePath(table),
		body:   body,
		header: http.Header{"Prefer": {"return=minimal"}},
		attrs:  []attribute.KeyValue{attribute.String("db.table", table)},
	}, nil)
}

// Update applies patch to the rows of table matching eq. An empty eq is
// rejected so a typo cannot rewrite the whole table.
func (c *Client) Update(ctx context.Context, table string, patch any, eq map[string]string) error {
	if len(eq) == 0 {
		return fmt.Errorf("supabase: update %s: no filter", table)
	}
	body, err := jsonBody(patch)
	if err != nil {
		return err
	}
	q := url.Values{}
	addFilters(q, "eq", eq)
	return c.doJSON(ctx, request{
		op:     "update",
		method: http.MethodPatch,
		path:   tablePath(table),
		query:  q,
		body:   body,
		header: http.Header{"Prefer": {"return=minimal"}},
		attrs:  []attribute.KeyValue{attribute.String("db.table", table)},
	}, nil)
}

// Count returns the exact number of rows in table matching eq.
func (c *Client) Count(ctx context.Context, table string, eq map[string]string) (int64, error) {
	q := url.Values{}
	q.Set("select", "*")
	addFilters(q, "eq", eq)
	resp, err := c.do(ctx, request{
		op:     "count",
		method: http.MethodHead,
		path:   tablePath(table),
		query:  q,
		header: http.Header{"Prefer": {"count=exact"}},
		attrs:  []attribute.KeyValue{attribute.String("db.table", table)},
	})
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	n, err := parseContentRange(resp.Header.Get("Content-Range"))
	if err != nil {
		return 0, fmt.Errorf("supabase: count %s: %w", table, err)
	}
	return n, nil
}

// parseContentRange extracts the total from "0-24/3573" or "*/0".
func parseContentRange(h string) (int64, error) {
	i := strings.LastIndexByte(h, '/')
	if i < 0 || i == len(h)-1 {
		return 0, fmt.Errorf("bad content-range %q", h)
	}
	total := h[i+1:]
	if total == "*" {
		return 0, fmt.Errorf("content-range %q has no exact count", h)
	}
	n, err := strconv.ParseInt(total, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad content-range %q: %w", h, err)
	}
	return n, nil
}

// RPC calls a database function with args and decodes its result into dest.
func (c *Client) RPC(ctx context.Context, fn string, args, dest any) error {
	if args == nil {
		args = struct{}{}
	}
	body, err := jsonBody(args)
	if err != nil {
		return err
	}
	return c.doJSON(ctx, request{
		op:     "rpc",
		method: http.MethodPost,
		path:   "/rest/v1/rpc/" + url.PathEscape(fn),
		body:   body,
		attrs:  []attribute.KeyValue{attribute.String("db.function", fn)},
	}, dest)
}
