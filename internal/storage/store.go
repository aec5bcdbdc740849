package storage

import (
	"context"
	"errors"
	"time"

	"github.com/example/unirides/internal/models"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateRequest is returned when a passenger already has a
	// pending or accepted request on the ride. Enforced by the store
	// itself (a partial unique index in postgres) so the check-then-insert
	// race is closed at the constraint level.
	ErrDuplicateRequest = errors.New("duplicate active request")
	// ErrTxConflict is returned by InTx after the retry budget for
	// serialization conflicts is exhausted. Safe to retry from scratch.
	ErrTxConflict = errors.New("transaction conflict")
)

// Store is the persistence boundary: identity records, the ride catalog and
// the request ledger, plus a transactional view for the coordinator.
type Store interface {
	CreateUser(ctx context.Context, u *models.User) error
	UserByID(ctx context.Context, id string) (*models.User, error)
	UserByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateUser(ctx context.Context, u *models.User) error

	CreateRide(ctx context.Context, r *models.Ride) error
	RideByID(ctx context.Context, id string) (*models.Ride, error)
	OfferedRides(ctx context.Context, from time.Time) ([]models.Ride, error)
	RidesByDriver(ctx context.Context, driverID string) ([]models.Ride, error)

	RequestByID(ctx context.Context, id string) (*models.RideRequest, error)
	RequestsByDriver(ctx context.Context, driverID string) ([]models.RideRequest, error)
	RequestsByPassenger(ctx context.Context, passengerID string) ([]models.RideRequest, error)
	SetPaymentRef(ctx context.Context, requestID, ref string) error

	// InTx runs fn against an isolated transactional view. All writes made
	// through tx commit together or not at all. Serialization conflicts are
	// retried a bounded number of times; past the budget InTx returns
	// ErrTxConflict. Any error from fn aborts the transaction unchanged.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the view the coordinator works with inside a transaction. ForUpdate
// reads take row locks so two concurrent decisions on the same ride
// serialize instead of double-spending a seat.
type Tx interface {
	RideForUpdate(id string) (*models.Ride, error)
	RequestForUpdate(id string) (*models.RideRequest, error)
	InsertRequest(req *models.RideRequest) error
	UpdateRide(r *models.Ride) error
	UpdateRequest(req *models.RideRequest) error
	// CancelPendingRequests bulk-moves every pending request on the ride to
	// cancelled and returns the moved requests. Accepted requests are left
	// alone.
	CancelPendingRequests(rideID string) ([]models.RideRequest, error)
}
