// Channelsync - Channel Manager Synchronization Engine
// Copyright 2026 Stayward
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stayward/channelsync

/*
beds24.go - Beds24 Channel Manager Client

Implements the Upstream capability set against the Beds24 V2 REST API.

API characteristics handled here:
  - Long-lived refresh token exchanged for a short-lived access token via
    GET /authentication/token (credential sent as a header).
  - Responses are usually wrapped in {success, data, error}; a few endpoints
    return bare arrays. Client.Request normalizes both.
  - Rate-limit signal via X-FiveMinCreditLimit* headers plus HTTP 429.
*/

package channel

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/stayward/channelsync/internal/models"
)

// Beds24Config holds the upstream-specific settings; resilience settings come
// from the embedded client Config.
type Beds24Config struct {
	Client Config

	// RefreshToken is the long-lived credential exchanged for access tokens.
	RefreshToken string
}

// Beds24Client implements Upstream for Beds24.
type Beds24Client struct {
	client *Client
	cfg    Beds24Config
}

var _ Upstream = (*Beds24Client)(nil)

// NewBeds24Client creates a Beds24 upstream client.
func NewBeds24Client(cfg Beds24Config) *Beds24Client {
	if cfg.Client.Name == "" {
		cfg.Client.Name = "beds24"
	}
	if cfg.Client.RateHeaders.Limit == "" {
		cfg.Client.RateHeaders = RateHeaderNames{
			Limit:     "X-FiveMinCreditLimit",
			Remaining: "X-FiveMinCreditLimit-Remaining",
			ResetsIn:  "X-FiveMinCreditLimit-ResetsIn",
			Cost:      "X-RequestCost",
		}
	}

	b := &Beds24Client{cfg: cfg}
	b.client = NewClient(cfg.Client, b.fetchToken)
	return b
}

// Name returns the upstream identifier used in mappings and routing keys.
func (b *Beds24Client) Name() string { return b.client.Name() }

// Client exposes the underlying resilient client for health reporting.
func (b *Beds24Client) Client() *Client { return b.client }

// fetchToken exchanges the refresh token for a short-lived access token.
// The auth endpoint is not wrapped by the circuit breaker: an auth failure is
// an operator problem, not an upstream outage.
func (b *Beds24Client) fetchToken(ctx context.Context) (string, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.cfg.Client.BaseURL+"/authentication/token", nil)
	if err != nil {
		return "", 0, fmt.Errorf("beds24: build auth request: %w", err)
	}
	req.Header.Set("refreshToken", b.cfg.RefreshToken)

	resp, err := b.client.httpClient.Do(req)
	if err != nil {
		return "", 0, &NetworkError{Upstream: b.Name(), Op: "auth", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", 0, &AuthenticationError{
			Upstream: b.Name(),
			Message:  fmt.Sprintf("token endpoint returned status %d", resp.StatusCode),
		}
	}

	var payload struct {
		Token     string `json:"token"`
		ExpiresIn int    `json:"expiresIn"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", 0, fmt.Errorf("beds24: decode auth response: %w", err)
	}
	if payload.Token == "" {
		return "", 0, &AuthenticationError{Upstream: b.Name(), Message: "token endpoint returned empty token"}
	}

	expiresIn := time.Duration(payload.ExpiresIn) * time.Second
	if expiresIn <= 0 {
		expiresIn = 24 * time.Hour
	}
	return payload.Token, expiresIn, nil
}

// TestConnection verifies credentials and reachability.
func (b *Beds24Client) TestConnection(ctx context.Context) error {
	_, err := b.client.Request(ctx, RequestOptions{
		Method:        http.MethodGet,
		Path:          "/account",
		Endpoint:      "account",
		Authenticated: true,
	})
	return err
}

// beds24Room is the wire shape of a Beds24 room (product) listing entry.
type beds24Room struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	MaxPeople int     `json:"maxPeople"`
	MinPrice  float64 `json:"minPrice"`
	Units     []struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	} `json:"units"`
}

// FetchRoomTypes lists bookable products.
func (b *Beds24Client) FetchRoomTypes(ctx context.Context) ([]models.UpstreamRoomType, error) {
	data, err := b.client.Request(ctx, RequestOptions{
		Method:        http.MethodGet,
		Path:          "/properties/rooms",
		Endpoint:      "rooms",
		Authenticated: true,
	})
	if err != nil {
		return nil, err
	}

	var rooms []beds24Room
	if err := json.Unmarshal(data, &rooms); err != nil {
		return nil, fmt.Errorf("beds24: decode rooms: %w", err)
	}

	out := make([]models.UpstreamRoomType, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, models.UpstreamRoomType{
			ID:        strconv.FormatInt(r.ID, 10),
			Name:      r.Name,
			MaxGuests: r.MaxPeople,
			BasePrice: r.MinPrice,
		})
	}
	return out, nil
}

// FetchRooms lists physical units per product.
func (b *Beds24Client) FetchRooms(ctx context.Context) ([]models.UpstreamRoom, error) {
	data, err := b.client.Request(ctx, RequestOptions{
		Method:        http.MethodGet,
		Path:          "/properties/rooms",
		Endpoint:      "rooms",
		Authenticated: true,
		Query:         url.Values{"includeUnits": {"true"}},
	})
	if err != nil {
		return nil, err
	}

	var rooms []beds24Room
	if err := json.Unmarshal(data, &rooms); err != nil {
		return nil, fmt.Errorf("beds24: decode rooms: %w", err)
	}

	var out []models.UpstreamRoom
	for _, r := range rooms {
		roomTypeID := strconv.FormatInt(r.ID, 10)
		for _, u := range r.Units {
			out = append(out, models.UpstreamRoom{
				ID:         strconv.FormatInt(u.ID, 10),
				RoomTypeID: roomTypeID,
				Name:       u.Name,
			})
		}
	}
	return out, nil
}

// beds24Guest is the wire shape of a Beds24 guest profile.
type beds24Guest struct {
	ID        int64  `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Address   string `json:"address"`
	City      string `json:"city"`
	Country   string `json:"country"`
}

func (g beds24Guest) toModel() models.UpstreamCustomer {
	return models.UpstreamCustomer{
		ID:        strconv.FormatInt(g.ID, 10),
		FirstName: g.FirstName,
		LastName:  g.LastName,
		Email:     g.Email,
		Phone:     g.Phone,
		Address:   g.Address,
		City:      g.City,
		Country:   g.Country,
	}
}

// FetchCustomers lists guest profiles modified since the cursor.
func (b *Beds24Client) FetchCustomers(ctx context.Context, since time.Time) ([]models.UpstreamCustomer, error) {
	query := url.Values{}
	if !since.IsZero() {
		query.Set("modifiedFrom", since.UTC().Format(time.RFC3339))
	}

	data, err := b.client.Request(ctx, RequestOptions{
		Method:        http.MethodGet,
		Path:          "/guests",
		Endpoint:      "guests",
		Query:         query,
		Authenticated: true,
	})
	if err != nil {
		return nil, err
	}

	var guests []beds24Guest
	if err := json.Unmarshal(data, &guests); err != nil {
		return nil, fmt.Errorf("beds24: decode guests: %w", err)
	}

	out := make([]models.UpstreamCustomer, 0, len(guests))
	for _, g := range guests {
		out = append(out, g.toModel())
	}
	return out, nil
}

// LookupCustomerByEmail returns the first guest matching the email, or nil.
func (b *Beds24Client) LookupCustomerByEmail(ctx context.Context, email string) (*models.UpstreamCustomer, error) {
	data, err := b.client.Request(ctx, RequestOptions{
		Method:        http.MethodGet,
		Path:          "/guests",
		Endpoint:      "guests",
		Query:         url.Values{"email": {email}},
		Authenticated: true,
	})
	if err != nil {
		return nil, err
	}

	var guests []beds24Guest
	if err := json.Unmarshal(data, &guests); err != nil {
		return nil, fmt.Errorf("beds24: decode guests: %w", err)
	}
	if len(guests) == 0 {
		return nil, nil
	}

	customer := guests[0].toModel()
	return &customer, nil
}

// beds24Booking is the wire shape of a Beds24 booking.
type beds24Booking struct {
	ID           int64   `json:"id"`
	RoomID       int64   `json:"roomId"`
	UnitID       int64   `json:"unitId"`
	GuestID      int64   `json:"guestId"`
	Status       string  `json:"status"`
	Arrival      string  `json:"arrival"`   // 2006-01-02
	Departure    string  `json:"departure"` // 2006-01-02
	NumAdult     int     `json:"numAdult"`
	NumChild     int     `json:"numChild"`
	Price        float64 `json:"price"`
	Currency     string  `json:"currency"`
	Comments     string  `json:"comments"`
	GuestFirst   string  `json:"guestFirstName"`
	GuestName    string  `json:"guestName"`
	GuestEmail   string  `json:"guestEmail"`
	GuestPhone   string  `json:"guestPhone"`
	GuestAddress string  `json:"guestAddress"`
	GuestCity    string  `json:"guestCity"`
	GuestCountry string  `json:"guestCountry"`
	BookingTime  string  `json:"bookingTime"`  // RFC 3339
	ModifiedTime string  `json:"modifiedTime"` // RFC 3339
}

// bookingStatusToModel maps Beds24 booking statuses onto PMS statuses.
func bookingStatusToModel(status string) string {
	switch status {
	case "confirmed", "new":
		return string(models.ReservationConfirmed)
	case "cancelled", "black":
		return string(models.ReservationCancelled)
	case "checkedIn":
		return string(models.ReservationCheckedIn)
	case "noShow":
		return string(models.ReservationNoShow)
	default:
		return string(models.ReservationConfirmed)
	}
}

func (bk beds24Booking) toModel() models.UpstreamBooking {
	booking := models.UpstreamBooking{
		ID:         strconv.FormatInt(bk.ID, 10),
		RoomTypeID: strconv.FormatInt(bk.RoomID, 10),
		Status:     bookingStatusToModel(bk.Status),
		Adults:     bk.NumAdult,
		Children:   bk.NumChild,
		TotalPrice: bk.Price,
		Currency:   bk.Currency,
		Notes:      bk.Comments,
		CheckIn:    parseBeds24Date(bk.Arrival),
		CheckOut:   parseBeds24Date(bk.Departure),
		CreatedAt:  parseBeds24Time(bk.BookingTime),
		ModifiedAt: parseBeds24Time(bk.ModifiedTime),
	}
	if bk.UnitID != 0 {
		booking.RoomID = strconv.FormatInt(bk.UnitID, 10)
	}
	if bk.GuestID != 0 {
		booking.CustomerID = strconv.FormatInt(bk.GuestID, 10)
	}

	// Bookings embed guest details rather than a full profile; carry them as
	// an inline customer so the matching service can work with them.
	if bk.GuestFirst != "" || bk.GuestName != "" || bk.GuestEmail != "" || bk.GuestPhone != "" {
		booking.Customer = &models.UpstreamCustomer{
			ID:        booking.CustomerID,
			FirstName: bk.GuestFirst,
			LastName:  bk.GuestName,
			Email:     bk.GuestEmail,
			Phone:     bk.GuestPhone,
			Address:   bk.GuestAddress,
			City:      bk.GuestCity,
			Country:   bk.GuestCountry,
		}
	}
	return booking
}

// FetchBookingsSince lists bookings modified since the cursor.
func (b *Beds24Client) FetchBookingsSince(ctx context.Context, since time.Time) ([]models.UpstreamBooking, error) {
	query := url.Values{}
	if !since.IsZero() {
		query.Set("modifiedFrom", since.UTC().Format(time.RFC3339))
	}

	data, err := b.client.Request(ctx, RequestOptions{
		Method:        http.MethodGet,
		Path:          "/bookings",
		Endpoint:      "bookings",
		Query:         query,
		Authenticated: true,
	})
	if err != nil {
		return nil, err
	}

	var bookings []beds24Booking
	if err := json.Unmarshal(data, &bookings); err != nil {
		return nil, fmt.Errorf("beds24: decode bookings: %w", err)
	}

	out := make([]models.UpstreamBooking, 0, len(bookings))
	for _, bk := range bookings {
		out = append(out, bk.toModel())
	}
	return out, nil
}

// PushReservation creates or updates a booking upstream. Returns the upstream
// booking ID so the caller can record the mapping.
func (b *Beds24Client) PushReservation(ctx context.Context, res *models.Reservation, refs ExternalRefs, idempotencyKey string) (string, error) {
	roomID, _ := strconv.ParseInt(refs.RoomTypeID, 10, 64)
	body := map[string]interface{}{
		"roomId":    roomID,
		"status":    bookingStatusToBeds24(res.Status),
		"arrival":   res.CheckIn.Format("2006-01-02"),
		"departure": res.CheckOut.Format("2006-01-02"),
		"numAdult":  res.Adults,
		"numChild":  res.Children,
		"price":     res.TotalPrice,
		"currency":  res.Currency,
		"comments":  res.Notes,
	}
	if refs.BookingID != "" {
		id, _ := strconv.ParseInt(refs.BookingID, 10, 64)
		body["id"] = id
	}
	if refs.CustomerID != "" {
		id, _ := strconv.ParseInt(refs.CustomerID, 10, 64)
		body["guestId"] = id
	}

	data, err := b.client.Request(ctx, RequestOptions{
		Method:         http.MethodPost,
		Path:           "/bookings",
		Endpoint:       "bookings",
		Body:           []interface{}{body},
		IdempotencyKey: idempotencyKey,
		Authenticated:  true,
	})
	if err != nil {
		return "", err
	}

	var results []struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(data, &results); err != nil {
		return "", fmt.Errorf("beds24: decode booking response: %w", err)
	}
	if len(results) == 0 || results[0].ID == 0 {
		if refs.BookingID != "" {
			// Update responses may omit the echo; fall back to the known ID.
			return refs.BookingID, nil
		}
		// A create must yield a booking ID or the mapping can never be
		// recorded and the next push would duplicate the booking.
		return "", fmt.Errorf("beds24: create booking response carried no booking ID")
	}
	return strconv.FormatInt(results[0].ID, 10), nil
}

func bookingStatusToBeds24(status models.ReservationStatus) string {
	switch status {
	case models.ReservationCancelled:
		return "cancelled"
	case models.ReservationCheckedIn:
		return "checkedIn"
	case models.ReservationNoShow:
		return "noShow"
	default:
		return "confirmed"
	}
}

// PushAvailability updates room availability upstream.
func (b *Beds24Client) PushAvailability(ctx context.Context, updates []models.AvailabilityUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	body := make([]map[string]interface{}, 0, len(updates))
	for _, u := range updates {
		roomID, _ := strconv.ParseInt(u.RoomTypeExternalID, 10, 64)
		body = append(body, map[string]interface{}{
			"roomId":       roomID,
			"date":         u.Date.Format("2006-01-02"),
			"numAvailable": u.Available,
		})
	}

	_, err := b.client.Request(ctx, RequestOptions{
		Method:        http.MethodPost,
		Path:          "/inventory/rooms/availability",
		Endpoint:      "availability",
		Body:          body,
		Authenticated: true,
	})
	return err
}

// PushRates updates room prices upstream.
func (b *Beds24Client) PushRates(ctx context.Context, updates []models.RateUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	body := make([]map[string]interface{}, 0, len(updates))
	for _, u := range updates {
		roomID, _ := strconv.ParseInt(u.RoomTypeExternalID, 10, 64)
		body = append(body, map[string]interface{}{
			"roomId":   roomID,
			"date":     u.Date.Format("2006-01-02"),
			"price":    u.Price,
			"currency": u.Currency,
		})
	}

	_, err := b.client.Request(ctx, RequestOptions{
		Method:        http.MethodPost,
		Path:          "/inventory/rooms/rates",
		Endpoint:      "rates",
		Body:          body,
		Authenticated: true,
	})
	return err
}

// parseBeds24Date parses a date-only field; zero time on failure.
func parseBeds24Date(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// parseBeds24Time parses a timestamp field; tolerates both RFC 3339 and the
// older space-separated format.
func parseBeds24Time(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t
	}
	return time.Time{}
}
