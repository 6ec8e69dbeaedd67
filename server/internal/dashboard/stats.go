package dashboard

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/skyway/adminboard/pkg/types"
	"github.com/skyway/adminboard/server/internal/cache"
	"github.com/skyway/adminboard/server/internal/supabase"
)

// SeriesDays is the length of the daily series, today included.
const SeriesDays = 30

// KeySummary caches the landing view's headline counters.
var KeySummary = cache.Key{"summary"}

// usersTable is the pseudo table served by the admin_list_auth_users RPC.
const usersTable = "auth_users"

var countable = map[string]bool{
	"drivers":      true,
	"cars":         true,
	"jets":         true,
	"trips":        true,
	"jet_bookings": true,
	"payouts":      true,
	"tickets":      true,
	"events":       true,
	usersTable:     true,
}

// Countable reports whether table can be passed to Count and Series.
func Countable(table string) bool { return countable[table] }

// CountKey returns the cache key of table's row count.
func CountKey(table string) cache.Key { return cache.Key{"count", table} }

// SeriesKey returns the cache key of table's daily series.
func SeriesKey(table string) cache.Key { return cache.Key{"series", table} }

// Count returns the exact number of rows in table.
func (s *Service) Count(ctx context.Context, table string) (int64, error) {
	if !countable[table] {
		return 0, invalidf("unknown table %q", table)
	}
	return cache.Fetch(ctx, s.cache, CountKey(table), func(ctx context.Context) (int64, error) {
		if table == usersTable {
			var rows []types.AuthUserRow
			if err := s.remote.RPC(ctx, "admin_list_auth_users", nil, &rows); err != nil {
				return 0, fmt.Errorf("count %s: %w", table, err)
			}
			return int64(len(rows)), nil
		}
		n, err := s.remote.Count(ctx, table, nil)
		if err != nil {
			return 0, fmt.Errorf("count %s: %w", table, err)
		}
		return n, nil
	})
}

type createdRow struct {
	CreatedAt *time.Time `json:"created_at"`
}

// seriesPage is the page size used when reading created_at values. It stays
// under PostgREST's default max-rows so pages are never silently capped.
const seriesPage = 1000

// Series returns how many rows of table were created on each of the last
// SeriesDays UTC days, oldest first. Days without rows count zero. A cached
// series from an earlier UTC day is refetched.
func (s *Service) Series(ctx context.Context, table string) ([]types.SeriesPoint, error) {
	if !countable[table] {
		return nil, invalidf("unknown table %q", table)
	}
	key := SeriesKey(table)
	points, err := cache.Fetch(ctx, s.cache, key, s.fetchSeries(table))
	if err != nil {
		return nil, err
	}
	today := s.now().UTC().Format(time.DateOnly)
	if len(points) > 0 && points[len(points)-1].Day != today {
		s.cache.Invalidate(ctx, key)
		return cache.Fetch(ctx, s.cache, key, s.fetchSeries(table))
	}
	return points, nil
}

func (s *Service) fetchSeries(table string) func(context.Context) ([]types.SeriesPoint, error) {
	return func(ctx context.Context) ([]types.SeriesPoint, error) {
		today := s.now().UTC().Truncate(24 * time.Hour)
		since := today.AddDate(0, 0, -(SeriesDays - 1))

		var rows []createdRow
		var err error
		if table == usersTable {
			err = s.remote.RPC(ctx, "admin_list_auth_users", nil, &rows)
		} else {
			rows, err = s.createdSince(ctx, table, since)
		}
		if err != nil {
			return nil, fmt.Errorf("series %s: %w", table, err)
		}
		return bucketDaily(rows, since, SeriesDays), nil
	}
}

// createdSince pages through table's created_at values at or after since.
func (s *Service) createdSince(ctx context.Context, table string, since time.Time) ([]createdRow, error) {
	var rows []createdRow
	for offset := 0; ; offset += seriesPage {
		var page []createdRow
		err := s.remote.Select(ctx, table, supabase.Query{
			Columns: "created_at",
			Order:   "created_at",
			Limit:   seriesPage,
			Offset:  offset,
			Gte:     map[string]string{"created_at": since.Format(time.RFC3339)},
		}, &page)
		if err != nil {
			return nil, err
		}
		rows = append(rows, page...)
		if len(page) < seriesPage {
			return rows, nil
		}
	}
}

// bucketDaily counts rows per UTC day starting at since.
func bucketDaily(rows []createdRow, since time.Time, days int) []types.SeriesPoint {
	out := make([]types.SeriesPoint, days)
	index := make(map[string]int, days)
	for i := range out {
		day := since.AddDate(0, 0, i).Format(time.DateOnly)
		out[i].Day = day
		index[day] = i
	}
	for _, r := range rows {
		if r.CreatedAt == nil {
			continue
		}
		if i, ok := index[r.CreatedAt.UTC().Format(time.DateOnly)]; ok {
			out[i].Count++
		}
	}
	return out
}

// Summary returns the landing view counters, fetched concurrently.
func (s *Service) Summary(ctx context.Context) (types.Summary, error) {
	return cache.Fetch(ctx, s.cache, KeySummary, func(ctx context.Context) (types.Summary, error) {
		var sum types.Summary
		g, ctx := errgroup.WithContext(ctx)
		count := func(dst *int64, table string, eq map[string]string) {
			g.Go(func() error {
				n, err := s.remote.Count(ctx, table, eq)
				if err != nil {
					return fmt.Errorf("summary %s: %w", table, err)
				}
				*dst = n
				return nil
			})
		}
		count(&sum.TotalTrips, "trips", nil)
		count(&sum.ActiveDrivers, "drivers", map[string]string{"status": "active"})
		count(&sum.PendingPayouts, "payouts", map[string]string{"status": "pending"})
		count(&sum.OpenTickets, "tickets", map[string]string{"status": "open"})
		if err := g.Wait(); err != nil {
			return types.Summary{}, err
		}
		return sum, nil
	})
}
