package models

import "time"

// RideStatus is the lifecycle state of a ride's seat inventory.
// Offered -> Full when acceptances exhaust seats; Completed and Cancelled
// are terminal and freeze the seat count.
type RideStatus string

const (
	RideOffered   RideStatus = "Offered"
	RideFull      RideStatus = "Full"
	RideCompleted RideStatus = "Completed"
	RideCancelled RideStatus = "Cancelled"
)

func (s RideStatus) Terminal() bool {
	return s == RideCompleted || s == RideCancelled
}

// RequestStatus is the state of a passenger's seat request. pending is the
// only non-terminal state; every transition out of it is final.
type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestAccepted  RequestStatus = "accepted"
	RequestRejected  RequestStatus = "rejected"
	RequestCancelled RequestStatus = "cancelled"
)

type User struct {
	ID                string    `json:"id"`
	FullName          string    `json:"fullName"`
	Email             string    `json:"email"`
	PasswordHash      string    `json:"-"`
	StudentID         string    `json:"studentId"`
	PhoneNumber       string    `json:"phoneNumber"`
	College           string    `json:"college"`
	CollegeDomain     string    `json:"collegeDomain"`
	GradYear          int       `json:"gradYear"`
	ProfilePictureURL string    `json:"profilePictureUrl"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

type Ride struct {
	ID             string     `json:"id"`
	DriverID       string     `json:"driverId"`
	Departure      string     `json:"departure"`
	Destination    string     `json:"destination"`
	RideDate       time.Time  `json:"rideDate"`
	RideTime       string     `json:"rideTime"` // "14:30"
	AvailableSeats int        `json:"availableSeats"`
	Price          float64    `json:"price"`
	TripType       string     `json:"tripType"` // one-way, round-trip
	IsRecurring    bool       `json:"isRecurring"`
	VehicleModel   string     `json:"vehicleModel"`
	VehicleColor   string     `json:"vehicleColor"`
	LicensePlate   string     `json:"licensePlate"`
	Features       []string   `json:"features"`
	Notes          string     `json:"notes"`
	Status         RideStatus `json:"status"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// RideRequest is a passenger's claim on one seat of a ride. DriverID is
// denormalized from the ride so inbox queries need no join.
type RideRequest struct {
	ID          string        `json:"id"`
	RideID      string        `json:"rideId"`
	PassengerID string        `json:"passengerId"`
	DriverID    string        `json:"driverId"`
	Message     string        `json:"message"`
	Status      RequestStatus `json:"status"`
	PaymentRef  string        `json:"-"` // stripe PaymentIntent holding the fare, set after acceptance
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// RequestAlert is pushed over a driver's websocket when a passenger asks for
// a seat on one of their rides.
type RequestAlert struct {
	RequestID     string `json:"request_id"`
	RideID        string `json:"ride_id"`
	PassengerName string `json:"passenger_name"`
	Message       string `json:"message"`
}
