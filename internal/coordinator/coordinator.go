// Package coordinator owns the seat inventory of rides and the state machine
// of requests against it. Every mutation of availableSeats or a request
// status goes through here, inside a single storage transaction; anything
// that talks to the network (events, websockets, payment holds) happens
// strictly after commit, best-effort.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/unirides/internal/events"
	"github.com/example/unirides/internal/models"
	"github.com/example/unirides/internal/observability"
	"github.com/example/unirides/internal/storage"
)

// Publisher pushes ride events onto the notification stream.
type Publisher interface {
	Publish(ctx context.Context, ev events.Event) error
}

// Alerter delivers a live alert to a connected driver, if any.
type Alerter interface {
	Alert(driverID string, alert models.RequestAlert) error
}

// FareHolder places a manual-capture hold for the seat fare.
type FareHolder interface {
	Hold(ctx context.Context, amountCents int64, currency, customerID string) (string, error)
}

type Coordinator struct {
	Store  storage.Store
	Logger *slog.Logger

	// Optional collaborators, all invoked post-commit only.
	Events Publisher
	Alerts Alerter
	Fares  FareHolder
}

func New(store storage.Store, logger *slog.Logger) *Coordinator {
	return &Coordinator{Store: store, Logger: logger}
}

// Decision is what DecideRequest hands back. RequestStatus is the status the
// request actually ended in, which may be rejected even when the driver asked
// for accepted (stale ride, seat race lost). Callers must branch on it.
type Decision struct {
	RequestStatus  models.RequestStatus `json:"requestStatus"`
	RideStatus     models.RideStatus    `json:"rideStatus"`
	AvailableSeats int                  `json:"availableSeats"`
}

// CreateRequest records a pending seat request. No seat is consumed here;
// seats are only committed at acceptance time.
func (c *Coordinator) CreateRequest(ctx context.Context, rideID, passengerID, message string) (string, error) {
	now := time.Now()
	req := &models.RideRequest{
		ID:          uuid.NewString(),
		RideID:      rideID,
		PassengerID: passengerID,
		Message:     message,
		Status:      models.RequestPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := c.Store.InTx(ctx, func(tx storage.Tx) error {
		ride, err := tx.RideForUpdate(rideID)
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: ride", ErrNotFound)
		}
		if err != nil {
			return err
		}
		if ride.Status != models.RideOffered {
			return fmt.Errorf("%w: this ride is no longer available", ErrInvalidState)
		}
		if ride.AvailableSeats <= 0 {
			return fmt.Errorf("%w: this ride is full", ErrInvalidState)
		}
		if ride.DriverID == passengerID {
			return fmt.Errorf("%w: you cannot request your own ride", ErrInvalidState)
		}
		req.DriverID = ride.DriverID
		if err := tx.InsertRequest(req); err != nil {
			if errors.Is(err, storage.ErrDuplicateRequest) {
				return fmt.Errorf("%w: you have already requested this ride", ErrConflict)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return "", mapStoreErr(err)
	}

	observability.RequestsCreated.Inc()
	c.notifyRequestCreated(ctx, req)
	return req.ID, nil
}

// DecideRequest applies a driver's accept/reject decision atomically against
// the request and its ride. Stale rides and lost seat races resolve the
// request to rejected and still return success; the caller reads the actual
// outcome from the Decision.
func (c *Coordinator) DecideRequest(ctx context.Context, requestID, deciderID string, decision models.RequestStatus) (Decision, error) {
	if decision != models.RequestAccepted && decision != models.RequestRejected {
		return Decision{}, fmt.Errorf("%w: decision must be accepted or rejected", ErrInvalidState)
	}

	var (
		out  Decision
		req  models.RideRequest
		ride models.Ride
	)
	err := c.Store.InTx(ctx, func(tx storage.Tx) error {
		r, err := tx.RequestForUpdate(requestID)
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: ride request", ErrNotFound)
		}
		if err != nil {
			return err
		}
		if r.DriverID != deciderID {
			return fmt.Errorf("%w: you can only update requests for your rides", ErrForbidden)
		}
		if r.Status != models.RequestPending {
			return fmt.Errorf("%w: this request has already been processed", ErrConflict)
		}

		rd, err := tx.RideForUpdate(r.RideID)
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: associated ride", ErrNotFound)
		}
		if err != nil {
			return err
		}

		final := decision
		switch {
		case rd.Status.Terminal():
			// The ride's fate was decided independently of this call;
			// heal the stale request instead of erroring.
			final = models.RequestRejected
		case decision == models.RequestAccepted:
			if rd.AvailableSeats <= 0 {
				// Lost the race to another acceptance.
				final = models.RequestRejected
			} else {
				rd.AvailableSeats--
				if rd.AvailableSeats == 0 {
					rd.Status = models.RideFull
				}
				if err := tx.UpdateRide(rd); err != nil {
					return err
				}
			}
		}

		r.Status = final
		r.UpdatedAt = time.Now()
		if err := tx.UpdateRequest(r); err != nil {
			return err
		}
		req, ride = *r, *rd
		out = Decision{RequestStatus: final, RideStatus: rd.Status, AvailableSeats: rd.AvailableSeats}
		return nil
	})
	if err != nil {
		return Decision{}, mapStoreErr(err)
	}

	if out.RequestStatus == models.RequestAccepted {
		observability.RequestsAccepted.Inc()
		c.holdFare(ctx, &req, &ride)
	} else {
		if decision == models.RequestAccepted {
			observability.RequestsAutoRejected.Inc()
		}
		observability.RequestsRejected.Inc()
	}
	c.notifyDecision(ctx, &req, &ride, out.RequestStatus)
	return out, nil
}

// CancelRide withdraws a ride: the ride goes to Cancelled and every pending
// request moves to cancelled with it. Accepted requests stay untouched; a
// granted seat is history, not something cancellation claws back.
func (c *Coordinator) CancelRide(ctx context.Context, rideID, driverID string) error {
	var cancelled []models.RideRequest
	var ride models.Ride
	err := c.Store.InTx(ctx, func(tx storage.Tx) error {
		rd, err := tx.RideForUpdate(rideID)
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: ride", ErrNotFound)
		}
		if err != nil {
			return err
		}
		if rd.DriverID != driverID {
			return fmt.Errorf("%w: you can only cancel your own rides", ErrForbidden)
		}
		if rd.Status == models.RideCancelled {
			return nil // already cancelled, nothing to do
		}
		if rd.Status == models.RideCompleted {
			return fmt.Errorf("%w: ride already completed", ErrConflict)
		}
		rd.Status = models.RideCancelled
		if err := tx.UpdateRide(rd); err != nil {
			return err
		}
		moved, err := tx.CancelPendingRequests(rideID)
		if err != nil {
			return err
		}
		cancelled, ride = moved, *rd
		return nil
	})
	if err != nil {
		return mapStoreErr(err)
	}

	observability.RidesCancelled.Inc()
	c.notifyRideCancelled(ctx, &ride, cancelled)
	return nil
}

func mapStoreErr(err error) error {
	if errors.Is(err, storage.ErrTxConflict) {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return err
}

// --- post-commit side effects, all best-effort ---

func (c *Coordinator) notifyRequestCreated(ctx context.Context, req *models.RideRequest) {
	if c.Alerts == nil && c.Events == nil {
		return
	}
	passenger, err := c.Store.UserByID(ctx, req.PassengerID)
	if err != nil {
		c.Logger.Warn("passenger lookup for alert failed", "request_id", req.ID, "error", err)
		return
	}
	if c.Alerts != nil {
		if err := c.Alerts.Alert(req.DriverID, models.RequestAlert{
			RequestID:     req.ID,
			RideID:        req.RideID,
			PassengerName: passenger.FullName,
			Message:       req.Message,
		}); err != nil {
			c.Logger.Debug("driver not connected for alert", "driver_id", req.DriverID, "error", err)
		}
	}
	if c.Events != nil {
		driver, err := c.Store.UserByID(ctx, req.DriverID)
		if err != nil {
			return
		}
		ride, err := c.Store.RideByID(ctx, req.RideID)
		if err != nil {
			return
		}
		c.publish(ctx, events.Event{
			Type:           events.TypeRequestCreated,
			RideID:         req.RideID,
			RequestID:      req.ID,
			RecipientEmail: driver.Email,
			RecipientName:  driver.FullName,
			Departure:      ride.Departure,
			Destination:    ride.Destination,
			RideDate:       ride.RideDate,
		})
	}
}

func (c *Coordinator) notifyDecision(ctx context.Context, req *models.RideRequest, ride *models.Ride, final models.RequestStatus) {
	if c.Events == nil {
		return
	}
	passenger, err := c.Store.UserByID(ctx, req.PassengerID)
	if err != nil {
		return
	}
	evType := events.TypeRequestRejected
	if final == models.RequestAccepted {
		evType = events.TypeRequestAccepted
	}
	c.publish(ctx, events.Event{
		Type:           evType,
		RideID:         ride.ID,
		RequestID:      req.ID,
		RecipientEmail: passenger.Email,
		RecipientName:  passenger.FullName,
		Departure:      ride.Departure,
		Destination:    ride.Destination,
		RideDate:       ride.RideDate,
	})
}

func (c *Coordinator) notifyRideCancelled(ctx context.Context, ride *models.Ride, cancelled []models.RideRequest) {
	if c.Events == nil {
		return
	}
	for _, req := range cancelled {
		passenger, err := c.Store.UserByID(ctx, req.PassengerID)
		if err != nil {
			continue
		}
		c.publish(ctx, events.Event{
			Type:           events.TypeRideCancelled,
			RideID:         ride.ID,
			RequestID:      req.ID,
			RecipientEmail: passenger.Email,
			RecipientName:  passenger.FullName,
			Departure:      ride.Departure,
			Destination:    ride.Destination,
			RideDate:       ride.RideDate,
		})
	}
}

func (c *Coordinator) publish(ctx context.Context, ev events.Event) {
	if err := c.Events.Publish(ctx, ev); err != nil {
		c.Logger.Warn("event publish failed", "type", ev.Type, "ride_id", ev.RideID, "error", err)
	}
}

// holdFare places a manual-capture hold for the seat price once a request is
// accepted. The hold runs outside the seat transaction; a failed hold is
// logged and the acceptance stands.
func (c *Coordinator) holdFare(ctx context.Context, req *models.RideRequest, ride *models.Ride) {
	if c.Fares == nil || ride.Price <= 0 {
		return
	}
	amountCents := int64(ride.Price * 100)
	ref, err := c.Fares.Hold(ctx, amountCents, "usd", "")
	if err != nil {
		c.Logger.Warn("fare hold failed", "request_id", req.ID, "error", err)
		return
	}
	if err := c.Store.SetPaymentRef(ctx, req.ID, ref); err != nil {
		c.Logger.Warn("saving payment ref failed", "request_id", req.ID, "error", err)
	}
}
