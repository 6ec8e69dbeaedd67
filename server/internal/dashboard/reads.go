package dashboard

import (
	"context"
	"fmt"
	"strings"

	"github.com/skyway/adminboard/pkg/types"
	"github.com/skyway/adminboard/server/internal/cache"
	"github.com/skyway/adminboard/server/internal/supabase"
)

// Cache keys of the list views.
var (
	KeyDrivers     = cache.Key{"drivers"}
	KeyCars        = cache.Key{"cars"}
	KeyJets        = cache.Key{"jets"}
	KeyJetsBasic   = cache.Key{"jets", "basic"}
	KeyJetBookings = cache.Key{"jet_bookings"}
	KeyTrips       = cache.Key{"trips"}
	KeyPayouts     = cache.Key{"payouts"}
	KeyTickets     = cache.Key{"tickets"}
	KeyUsers       = cache.Key{"users"}
	KeyEvents      = cache.Key{"events"}
	KeyJetImages   = cache.Key{"storage", BucketJets}
)

const (
	eventsLimit    = 200
	jetImagesLimit = 100
)

var newestFirst = supabase.Query{Order: "created_at", Desc: true}

func selectAll[T any](s *Service, table string, q supabase.Query) func(context.Context) ([]T, error) {
	return func(ctx context.Context) ([]T, error) {
		out := []T{}
		if err := s.remote.Select(ctx, table, q, &out); err != nil {
			return nil, fmt.Errorf("list %s: %w", table, err)
		}
		return out, nil
	}
}

func rpcList[T any](s *Service, fn string) func(context.Context) ([]T, error) {
	return func(ctx context.Context) ([]T, error) {
		out := []T{}
		if err := s.remote.RPC(ctx, fn, nil, &out); err != nil {
			return nil, fmt.Errorf("%s: %w", fn, err)
		}
		return out, nil
	}
}

// ListDrivers returns drivers newest first. A non-empty query keeps the
// drivers whose name, email, phone or vehicle contains it, ignoring case.
// The filter runs on the cached list.
func (s *Service) ListDrivers(ctx context.Context, query string) ([]types.Driver, error) {
	all, err := cache.Fetch(ctx, s.cache, KeyDrivers, selectAll[types.Driver](s, "drivers", newestFirst))
	if err != nil {
		return nil, err
	}
	return filterDrivers(all, query), nil
}

func filterDrivers(all []types.Driver, query string) []types.Driver {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return all
	}
	out := make([]types.Driver, 0, len(all))
	for _, d := range all {
		for _, f := range []string{d.Name, d.Email, d.Phone, d.Vehicle} {
			if strings.Contains(strings.ToLower(f), q) {
				out = append(out, d)
				break
			}
		}
	}
	return out
}

// ListCars returns cars newest first.
func (s *Service) ListCars(ctx context.Context) ([]types.Car, error) {
	return cache.Fetch(ctx, s.cache, KeyCars, selectAll[types.Car](s, "cars", newestFirst))
}

// ListJets returns jets newest first.
func (s *Service) ListJets(ctx context.Context) ([]types.Jet, error) {
	return cache.Fetch(ctx, s.cache, KeyJets, selectAll[types.Jet](s, "jets", newestFirst))
}

// ListJetsBasic returns the jet projection used by the image picker.
func (s *Service) ListJetsBasic(ctx context.Context) ([]types.JetBasic, error) {
	q := newestFirst
	q.Columns = "id,make,model,image_url"
	return cache.Fetch(ctx, s.cache, KeyJetsBasic, selectAll[types.JetBasic](s, "jets", q))
}

// ListJetBookings returns jet bookings joined with user and jet details.
func (s *Service) ListJetBookings(ctx context.Context) ([]types.JetBookingRow, error) {
	return cache.Fetch(ctx, s.cache, KeyJetBookings, rpcList[types.JetBookingRow](s, "admin_list_jet_bookings"))
}

// ListTrips returns trips joined with rider, driver and car details.
func (s *Service) ListTrips(ctx context.Context) ([]types.TripRow, error) {
	return cache.Fetch(ctx, s.cache, KeyTrips, rpcList[types.TripRow](s, "admin_list_trips"))
}

// ListPayouts returns driver payouts.
func (s *Service) ListPayouts(ctx context.Context) ([]types.PayoutRow, error) {
	return cache.Fetch(ctx, s.cache, KeyPayouts, rpcList[types.PayoutRow](s, "admin_list_payouts"))
}

// ListTickets returns support tickets.
func (s *Service) ListTickets(ctx context.Context) ([]types.TicketRow, error) {
	return cache.Fetch(ctx, s.cache, KeyTickets, rpcList[types.TicketRow](s, "admin_list_tickets"))
}

// ListUsers returns auth accounts.
func (s *Service) ListUsers(ctx context.Context) ([]types.AuthUserRow, error) {
	return cache.Fetch(ctx, s.cache, KeyUsers, rpcList[types.AuthUserRow](s, "admin_list_auth_users"))
}

// ListEvents returns the newest notification events.
func (s *Service) ListEvents(ctx context.Context) ([]types.EventRow, error) {
	q := newestFirst
	q.Limit = eventsLimit
	return cache.Fetch(ctx, s.cache, KeyEvents, selectAll[types.EventRow](s, "events", q))
}

// ListJetImages returns the newest objects in the jets bucket with their public URLs.
func (s *Service) ListJetImages(ctx context.Context) ([]types.StorageObject, error) {
	return cache.Fetch(ctx, s.cache, KeyJetImages, func(ctx context.Context) ([]types.StorageObject, error) {
		objs, err := s.remote.List(ctx, BucketJets, "", jetImagesLimit)
		if err != nil {
			return nil, fmt.Errorf("list bucket %s: %w", BucketJets, err)
		}
		out := make([]types.StorageObject, 0, len(objs))
		for _, o := range objs {
			if strings.HasPrefix(o.Name, ".") {
				continue // folder placeholders
			}
			o.PublicURL = s.remote.PublicURL(BucketJets, o.Name)
			out = append(out, o)
		}
		return out, nil
	})
}
