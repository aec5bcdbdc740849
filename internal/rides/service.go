// Package rides is the catalog glue around ride records: creation and
// listing. Seat and status transitions are owned by the coordinator and are
// deliberately not reachable from here.
package rides

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/example/unirides/internal/models"
	"github.com/example/unirides/internal/storage"
)

var ErrInvalid = errors.New("invalid ride")

type Service struct {
	Store storage.Store
}

type CreateInput struct {
	Departure      string   `json:"departure"`
	Destination    string   `json:"destination"`
	RideDate       string   `json:"rideDate"` // RFC 3339 or YYYY-MM-DD
	RideTime       string   `json:"rideTime"`
	AvailableSeats int      `json:"availableSeats"`
	Price          *float64 `json:"price"`
	TripType       string   `json:"tripType"`
	IsRecurring    bool     `json:"isRecurring"`
	VehicleModel   string   `json:"vehicleModel"`
	VehicleColor   string   `json:"vehicleColor"`
	LicensePlate   string   `json:"licensePlate"`
	Features       []string `json:"features"`
	Notes          string   `json:"notes"`
}

func (s *Service) Create(ctx context.Context, driverID string, in CreateInput) (*models.Ride, error) {
	if in.Departure == "" || in.Destination == "" || in.RideDate == "" || in.RideTime == "" ||
		in.AvailableSeats == 0 || in.Price == nil || in.VehicleModel == "" {
		return nil, fmt.Errorf("%w: please fill out all required fields", ErrInvalid)
	}
	if in.AvailableSeats < 1 {
		return nil, fmt.Errorf("%w: availableSeats must be at least 1", ErrInvalid)
	}
	if *in.Price < 0 {
		return nil, fmt.Errorf("%w: price cannot be negative", ErrInvalid)
	}
	date, err := parseRideDate(in.RideDate)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid ride date", ErrInvalid)
	}
	tripType := in.TripType
	if tripType == "" {
		tripType = "one-way"
	}
	features := in.Features
	if features == nil {
		features = []string{}
	}
	now := time.Now()
	ride := &models.Ride{
		ID:             uuid.NewString(),
		DriverID:       driverID,
		Departure:      in.Departure,
		Destination:    in.Destination,
		RideDate:       date,
		RideTime:       in.RideTime,
		AvailableSeats: in.AvailableSeats,
		Price:          *in.Price,
		TripType:       tripType,
		IsRecurring:    in.IsRecurring,
		VehicleModel:   in.VehicleModel,
		VehicleColor:   in.VehicleColor,
		LicensePlate:   in.LicensePlate,
		Features:       features,
		Notes:          in.Notes,
		Status:         models.RideOffered,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.Store.CreateRide(ctx, ride); err != nil {
		return nil, err
	}
	return ride, nil
}

// ListOffered returns upcoming rides still taking passengers.
func (s *Service) ListOffered(ctx context.Context) ([]models.Ride, error) {
	return s.Store.OfferedRides(ctx, time.Now())
}

func (s *Service) ListMine(ctx context.Context, driverID string) ([]models.Ride, error) {
	return s.Store.RidesByDriver(ctx, driverID)
}

func parseRideDate(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", v)
}
