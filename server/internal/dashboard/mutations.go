package dashboard

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/skyway/adminboard/server/internal/cache"
)

// Image is an uploaded file.
type Image struct {
	Name        string
	ContentType string
	Body        io.Reader
}

// CarForm is the create-car form as submitted. Numeric fields are parsed here.
type CarForm struct {
	Make   string
	Model  string
	Year   string
	Plate  string
	Seats  string
	Rate   string
	Status string
}

// JetForm is the create-jet form as submitted. Empty numeric fields become null.
type JetForm struct {
	Make       string
	Model      string
	Capacity   string
	RangeNM    string
	HourlyRate string
	Status     string
}

var vehicleStatuses = map[string]bool{"available": true, "maintenance": true, "inactive": true}

func newObjectID() string { return uuid.NewString() }

// objectName returns a fresh "<uuid>.<ext>" name keeping the upload's extension.
func (s *Service) objectName(original string) string {
	ext := strings.TrimPrefix(path.Ext(original), ".")
	if ext == "" {
		ext = "bin"
	}
	return s.newID() + "." + strings.ToLower(ext)
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

func required(field, v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", invalidf("%s is required", field)
	}
	return v, nil
}

func vehicleStatus(v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "available", nil
	}
	if !vehicleStatuses[v] {
		return "", invalidf("status %q must be available, maintenance or inactive", v)
	}
	return v, nil
}

func optInt(field, v string) (*int, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil, invalidf("%s must be a whole number", field)
	}
	return &n, nil
}

func optFloat(field, v string) (*float64, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil, invalidf("%s must be a number", field)
	}
	return &f, nil
}

func (s *Service) invalidate(ctx context.Context, prefixes ...cache.Key) {
	for _, p := range prefixes {
		n := s.cache.InvalidatePrefix(ctx, p)
		slog.Debug("dashboard: invalidated", "prefix", p.String(), "count", n)
	}
}

// uploadImage stores img in bucket under a fresh name and returns its public URL.
func (s *Service) uploadImage(ctx context.Context, bucket string, img *Image) (*string, error) {
	if img == nil || img.Body == nil {
		return nil, nil
	}
	name := s.objectName(img.Name)
	if err := s.remote.Upload(ctx, bucket, name, img.Body, img.ContentType, true); err != nil {
		return nil, fmt.Errorf("upload %s/%s: %w", bucket, name, err)
	}
	u := s.remote.PublicURL(bucket, name)
	return &u, nil
}

// SetDriverVerified sets the verified flag of one driver.
func (s *Service) SetDriverVerified(ctx context.Context, id string, verified bool) error {
	id, err := required("id", id)
	if err != nil {
		return err
	}
	if err := s.remote.Update(ctx, "drivers", map[string]bool{"verified": verified}, map[string]string{"id": id}); err != nil {
		return fmt.Errorf("verify driver %s: %w", id, err)
	}
	s.invalidate(ctx, KeyDrivers)
	return nil
}

type carRow struct {
	Make     string  `json:"make"`
	Model    string  `json:"model"`
	Year     int     `json:"year"`
	Plate    string  `json:"plate"`
	Seats    int     `json:"seats"`
	Rate     float64 `json:"rate"`
	Status   string  `json:"status"`
	ImageURL *string `json:"image_url,omitempty"`
}

// CreateCar validates f, uploads img when given and inserts the car.
func (s *Service) CreateCar(ctx context.Context, f CarForm, img *Image) error {
	var (
		row carRow
		err error
	)
	if row.Make, err = required("make", f.Make); err != nil {
		return err
	}
	if row.Model, err = required("model", f.Model); err != nil {
		return err
	}
	if row.Year, err = strconv.Atoi(strings.TrimSpace(f.Year)); err != nil {
		return invalidf("year must be a whole number")
	}
	if row.Seats, err = strconv.Atoi(strings.TrimSpace(f.Seats)); err != nil {
		return invalidf("seats must be a whole number")
	}
	if row.Rate, err = strconv.ParseFloat(strings.TrimSpace(f.Rate), 64); err != nil {
		return invalidf("rate must be a number")
	}
	if row.Status, err = vehicleStatus(f.Status); err != nil {
		return err
	}
	row.Plate = strings.TrimSpace(f.Plate)

	if row.ImageURL, err = s.uploadImage(ctx, BucketCars, img); err != nil {
		return err
	}
	if err := s.remote.Insert(ctx, "cars", row); err != nil {
		return fmt.Errorf("insert car: %w", err)
	}
	s.invalidate(ctx, KeyCars)
	return nil
}

type jetRow struct {
	Make       string   `json:"make"`
	Model      string   `json:"model"`
	Capacity   *int     `json:"capacity"`
	RangeNM    *int     `json:"range_nm"`
	HourlyRate *float64 `json:"hourly_rate"`
	Status     string   `json:"status"`
	ImageURL   *string  `json:"image_url,omitempty"`
}

// CreateJet validates f, uploads img when given and inserts the jet.
func (s *Service) CreateJet(ctx context.Context, f JetForm, img *Image) error {
	var (
		row jetRow
		err error
	)
	if row.Make, err = required("make", f.Make); err != nil {
		return err
	}
	if row.Model, err = required("model", f.Model); err != nil {
		return err
	}
	if row.Capacity, err = optInt("capacity", f.Capacity); err != nil {
		return err
	}
	if row.RangeNM, err = optInt("range_nm", f.RangeNM); err != nil {
		return err
	}
	if row.HourlyRate, err = optFloat("hourly_rate", f.HourlyRate); err != nil {
		return err
	}
	if row.Status, err = vehicleStatus(f.Status); err != nil {
		return err
	}

	if row.ImageURL, err = s.uploadImage(ctx, BucketJets, img); err != nil {
		return err
	}
	if err := s.remote.Insert(ctx, "jets", row); err != nil {
		return fmt.Errorf("insert jet: %w", err)
	}
	s.invalidate(ctx, KeyJets)
	return nil
}

// validObjectName rejects names that would escape the bucket root.
func validObjectName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", invalidf("file name is required")
	}
	if strings.Contains(name, "/") || name == "." || name == ".." {
		return "", invalidf("file name %q must not contain a path", name)
	}
	return name, nil
}

// UploadJetImage stores img in the jets bucket under its own name, replacing
// any object with that name.
func (s *Service) UploadJetImage(ctx context.Context, img *Image) error {
	if img == nil || img.Body == nil {
		return invalidf("file is required")
	}
	name, err := validObjectName(path.Base(img.Name))
	if err != nil {
		return err
	}
	if err := s.remote.Upload(ctx, BucketJets, name, img.Body, img.ContentType, true); err != nil {
		return fmt.Errorf("upload %s: %w", name, err)
	}
	s.invalidate(ctx, KeyJetImages)
	return nil
}

// DeleteJetImage removes one object from the jets bucket.
func (s *Service) DeleteJetImage(ctx context.Context, name string) error {
	name, err := validObjectName(name)
	if err != nil {
		return err
	}
	if err := s.remote.Remove(ctx, BucketJets, name); err != nil {
		return fmt.Errorf("remove %s: %w", name, err)
	}
	s.invalidate(ctx, KeyJetImages)
	return nil
}

// RenameJetImage renames an object. An empty target or the same name is a no-op.
func (s *Service) RenameJetImage(ctx context.Context, from, to string) error {
	to = strings.TrimSpace(to)
	if to == "" || to == from {
		return nil
	}
	from, err := validObjectName(from)
	if err != nil {
		return err
	}
	if to, err = validObjectName(to); err != nil {
		return err
	}
	if err := s.remote.Move(ctx, BucketJets, from, to); err != nil {
		return fmt.Errorf("move %s to %s: %w", from, to, err)
	}
	s.invalidate(ctx, KeyJetImages)
	return nil
}

// AssignJetImage points a jet's image_url at an object in the jets bucket.
func (s *Service) AssignJetImage(ctx context.Context, jetID, name string) error {
	jetID, err := required("jet_id", jetID)
	if err != nil {
		return err
	}
	if name, err = validObjectName(name); err != nil {
		return err
	}
	u := s.remote.PublicURL(BucketJets, name)
	if err := s.remote.Update(ctx, "jets", map[string]string{"image_url": u}, map[string]string{"id": jetID}); err != nil {
		return fmt.Errorf("assign image to jet %s: %w", jetID, err)
	}
	s.invalidate(ctx, KeyJetsBasic, KeyJets)
	return nil
}
