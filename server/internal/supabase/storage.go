package supabase

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/skyway/adminboard/pkg/types"
)

func objectPath(parts ...string) string {
	esc := make([]string, len(parts))
	for i, p := range parts {
		segs := strings.Split(p, "/")
		for j, s := range segs {
			segs[j] = url.PathEscape(s)
		}
		esc[i] = strings.Join(segs, "/")
	}
	return "/storage/v1/object/" + strings.Join(esc, "/")
}

// Upload writes body to bucket/path. With upsert false an existing object
// makes the call fail.
func (c *Client) Upload(ctx context.Context, bucket, path string, body io.Reader, contentType string, upsert bool) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return c.doJSON(ctx, request{
		op:          "storage.upload",
		method:      http.MethodPost,
		path:        objectPath(bucket, path),
		body:        body,
		contentType: contentType,
		header:      http.Header{"X-Upsert": {strconv.FormatBool(upsert)}, "Cache-Control": {"max-age=3600"}},
		attrs:       []attribute.KeyValue{attribute.String("storage.bucket", bucket)},
	}, nil)
}

type listRequest struct {
	Prefix string     `json:"prefix"`
	Limit  int        `json:"limit"`
	Offset int        `json:"offset"`
	SortBy listSortBy `json:"sortBy"`
}

type listSortBy struct {
	Column string `json:"column"`
	Order  string `json:"order"`
}

// List returns up to limit objects under prefix, newest first.
func (c *Client) List(ctx context.Context, bucket, prefix string, limit int) ([]types.StorageObject, error) {
	body, err := jsonBody(listRequest{
		Prefix: prefix,
		Limit:  limit,
		SortBy: listSortBy{Column: "created_at", Order: "desc"},
	})
	if err != nil {
		return nil, err
	}
	var out []types.StorageObject
	err = c.doJSON(ctx, request{
		op:     "storage.list",
		method: http.MethodPost,
		path:   "/storage/v1/object/list/" + url.PathEscape(bucket),
		body:   body,
		attrs:  []attribute.KeyValue{attribute.String("storage.bucket", bucket)},
	}, &out)
	return out, err
}

// Move renames an object inside bucket.
func (c *Client) Move(ctx context.Context, bucket, from, to string) error {
	body, err := jsonBody(map[string]string{
		"bucketId":       bucket,
		"sourceKey":      from,
		"destinationKey": to,
	})
	if err != nil {
		return err
	}
	return c.doJSON(ctx, request{
		op:     "storage.move",
		method: http.MethodPost,
		path:   "/storage/v1/object/move",
		body:   body,
		attrs:  []attribute.KeyValue{attribute.String("storage.bucket", bucket)},
	}, nil)
}

// Remove deletes the named objects from bucket.
func (c *Client) Remove(ctx context.Context, bucket string, names ...string) error {
	body, err := jsonBody(map[string][]string{"prefixes": names})
	if err != nil {
		return err
	}
	return c.doJSON(ctx, request{
		op:     "storage.remove",
		method: http.MethodDelete,
		path:   "/storage/v1/object/" + url.PathEscape(bucket),
		body:   body,
		attrs:  []attribute.KeyValue{attribute.String("storage.bucket", bucket)},
	}, nil)
}

// PublicURL returns the public download URL of bucket/path. It makes no request.
func (c *Client) PublicURL(bucket, path string) string {
	return c.endpoint(strings.Replace(objectPath(bucket, path), "/object/", "/object/public/", 1), nil)
}
