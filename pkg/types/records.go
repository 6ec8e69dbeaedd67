package types

import "time"

// Driver is one row of the drivers table.
type Driver struct {
	ID        string     `json:"id"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	Email     string     `json:"email,omitempty"`
	Name      string     `json:"name,omitempty"`
	Phone     string     `json:"phone,omitempty"`
	Vehicle   string     `json:"vehicle,omitempty"`
	Verified  bool       `json:"verified"`
	Status    string     `json:"status,omitempty"`
	KYCStatus string     `json:"kyc_status,omitempty"`
}

// Car is one row of the cars table.
type Car struct {
	ID        string     `json:"id,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	Make      string     `json:"make"`
	Model     string     `json:"model"`
	Year      int        `json:"year"`
	Plate     string     `json:"plate,omitempty"`
	Seats     int        `json:"seats,omitempty"`
	Rate      float64    `json:"rate,omitempty"`
	Status    string     `json:"status,omitempty"`
	ImageURL  string     `json:"image_url,omitempty"`
}

// Jet is one row of the jets table.
type Jet struct {
	ID         string     `json:"id,omitempty"`
	CreatedAt  *time.Time `json:"created_at,omitempty"`
	Make       string     `json:"make"`
	Model      string     `json:"model"`
	Capacity   *int       `json:"capacity"`
	RangeNM    *int       `json:"range_nm"`
	HourlyRate *float64   `json:"hourly_rate"`
	Status     *string    `json:"status"`
	ImageURL   *string    `json:"image_url,omitempty"`
}

// JetBasic is the reduced jet projection used by the image assignment picker.
type JetBasic struct {
	ID       string  `json:"id"`
	Make     string  `json:"make"`
	Model    *string `json:"model"`
	ImageURL *string `json:"image_url"`
}

// TripRow is one result row of the admin_list_trips RPC.
type TripRow struct {
	ID          string     `json:"id"`
	CreatedAt   *time.Time `json:"created_at"`
	Status      *string    `json:"status"`
	Price       *float64   `json:"price"`
	Pickup      *string    `json:"pickup"`
	Dropoff     *string    `json:"dropoff"`
	ScheduledAt *time.Time `json:"scheduled_at"`
	UserID      *string    `json:"user_id"`
	UserEmail   *string    `json:"user_email"`
	UserName    *string    `json:"user_name"`
	DriverID    *string    `json:"driver_id"`
	DriverEmail *string    `json:"driver_email"`
	DriverName  *string    `json:"driver_name"`
	CarID       *string    `json:"car_id"`
	CarMake     *string    `json:"car_make"`
	CarModel    *string    `json:"car_model"`
	CarPlate    *string    `json:"car_plate"`
}

// JetBookingRow is one result row of the admin_list_jet_bookings RPC.
type JetBookingRow struct {
	ID            string     `json:"id"`
	UserID        *string    `json:"user_id"`
	UserEmail     *string    `json:"user_email"`
	JetID         *string    `json:"jet_id"`
	JetMake       *string    `json:"jet_make"`
	JetModel      *string    `json:"jet_model"`
	FromAirport   *string    `json:"from_airport"`
	ToAirport     *string    `json:"to_airport"`
	DepTime       *time.Time `json:"dep_time"`
	PaxCount      *int       `json:"pax_count"`
	Notes         *string    `json:"notes"`
	Status        *string    `json:"status"`
	PriceEstimate *float64   `json:"price_estimate"`
	CreatedAt     *time.Time `json:"created_at"`
}

// PayoutRow is one result row of the admin_list_payouts RPC.
type PayoutRow struct {
	ID          string     `json:"id"`
	CreatedAt   *time.Time `json:"created_at"`
	DriverID    *string    `json:"driver_id"`
	DriverEmail *string    `json:"driver_email"`
	DriverName  *string    `json:"driver_name"`
	Amount      *float64   `json:"amount"`
	Currency    *string    `json:"currency"`
	Status      *string    `json:"status"`
	PeriodStart *string    `json:"period_start"`
	PeriodEnd   *string    `json:"period_end"`
}

// TicketRow is one result row of the admin_list_tickets RPC.
type TicketRow struct {
	ID          string     `json:"id"`
	CreatedAt   *time.Time `json:"created_at"`
	UserID      *string    `json:"user_id"`
	UserEmail   *string    `json:"user_email"`
	UserName    *string    `json:"user_name"`
	DriverID    *string    `json:"driver_id"`
	DriverEmail *string    `json:"driver_email"`
	DriverName  *string    `json:"driver_name"`
	Subject     *string    `json:"subject"`
	Priority    *string    `json:"priority"`
	Status      *string    `json:"status"`
}

// AuthUserRow is one result row of the admin_list_auth_users RPC.
type AuthUserRow struct {
	ID           string         `json:"id"`
	Email        *string        `json:"email"`
	Phone        *string        `json:"phone"`
	CreatedAt    *time.Time     `json:"created_at"`
	LastSignInAt *time.Time     `json:"last_sign_in_at"`
	UserMetadata map[string]any `json:"raw_user_meta_data,omitempty"`
	AppMetadata  map[string]any `json:"app_metadata,omitempty"`
}

// EventRow is one row of the events table shown on the notifications view.
type EventRow struct {
	ID         string         `json:"id"`
	Type       *string        `json:"type"`
	EntityType *string        `json:"entity_type"`
	EntityID   *string        `json:"entity_id"`
	Payload    map[string]any `json:"payload"`
	CreatedAt  *time.Time     `json:"created_at"`
}

// StorageObject is one entry of a storage bucket listing.
type StorageObject struct {
	Name           string          `json:"name"`
	ID             string          `json:"id,omitempty"`
	CreatedAt      *time.Time      `json:"created_at,omitempty"`
	UpdatedAt      *time.Time      `json:"updated_at,omitempty"`
	LastAccessedAt *time.Time      `json:"last_accessed_at,omitempty"`
	Metadata       *ObjectMetadata `json:"metadata,omitempty"`
	PublicURL      string          `json:"public_url,omitempty"`
}

// ObjectMetadata carries the size and content type reported by storage.
type ObjectMetadata struct {
	Size     int64  `json:"size,omitempty"`
	MimeType string `json:"mimetype,omitempty"`
}

// SeriesPoint is one day of a daily count series.
type SeriesPoint struct {
	Day   string `json:"day"` // YYYY-MM-DD, UTC
	Count int    `json:"count"`
}

// Summary holds the headline counters shown on the dashboard landing view.
type Summary struct {
	TotalTrips     int64 `json:"total_trips"`
	ActiveDrivers  int64 `json:"active_drivers"`
	PendingPayouts int64 `json:"pending_payouts"`
	OpenTickets    int64 `json:"open_tickets"`
}

// Settings is the static business contact information plus branding assets.
type Settings struct {
	OfficeAddress string `json:"office_address"`
	WhatsApp      string `json:"whatsapp"`
	WhatsAppURL   string `json:"whatsapp_url"`
	LogoURL       string `json:"logo_url,omitempty"`
	WatermarkURL  string `json:"watermark_url,omitempty"`
}
