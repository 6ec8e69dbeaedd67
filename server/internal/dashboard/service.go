package dashboard

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/skyway/adminboard/pkg/types"
	"github.com/skyway/adminboard/server/internal/cache"
	"github.com/skyway/adminboard/server/internal/supabase"
)

// ErrInvalid marks input rejected before any remote call.
var ErrInvalid = errors.New("invalid input")

// Storage buckets.
const (
	BucketCars = "cars"
	BucketJets = "jets"
)

// Remote is the slice of the backend client the dashboard uses.
// *supabase.Client implements it.
type Remote interface {
	Select(ctx context.Context, table string, q supabase.Query, dest any) error
	Insert(ctx context.Context, table string, row any) error
	Update(ctx context.Context, table string, patch any, eq map[string]string) error
	Count(ctx context.Context, table string, eq map[string]string) (int64, error)
	RPC(ctx context.Context, fn string, args, dest any) error
	Upload(ctx context.Context, bucket, path string, body io.Reader, contentType string, upsert bool) error
	List(ctx context.Context, bucket, prefix string, limit int) ([]types.StorageObject, error)
	Move(ctx context.Context, bucket, from, to string) error
	Remove(ctx context.Context, bucket string, names ...string) error
	PublicURL(bucket, path string) string
}

var _ Remote = (*supabase.Client)(nil)

// Service runs dashboard operations. It is safe for concurrent use.
type Service struct {
	remote Remote
	cache  *cache.Client
	now    func() time.Time
	newID  func() string

	mu       sync.RWMutex
	settings types.Settings
}

// New creates a Service.
func New(remote Remote, c *cache.Client, settings types.Settings) *Service {
	s := &Service{
		remote: remote,
		cache:  c,
		now:    time.Now,
		newID:  newObjectID,
	}
	s.SetSettings(settings)
	return s
}

// Cache returns the query client reads go through.
func (s *Service) Cache() *cache.Client { return s.cache }
