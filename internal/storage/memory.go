package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/example/unirides/internal/models"
)

// MemoryStore keeps everything in maps behind one mutex. Used for tests and
// for running the binary without PG_DSN.
type MemoryStore struct {
	mu       sync.Mutex
	users    map[string]models.User
	rides    map[string]models.Ride
	requests map[string]models.RideRequest
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]models.User),
		rides:    make(map[string]models.Ride),
		requests: make(map[string]models.RideRequest),
	}
}

func (m *MemoryStore) CreateUser(ctx context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return ErrDuplicateRequest
		}
	}
	m.users[u.ID] = *u
	return nil
}

func (m *MemoryStore) UserByID(ctx context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (m *MemoryStore) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			out := u
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) UpdateUser(ctx context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ID]; !ok {
		return ErrNotFound
	}
	m.users[u.ID] = *u
	return nil
}

func (m *MemoryStore) CreateRide(ctx context.Context, r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rides[r.ID] = *r
	return nil
}

func (m *MemoryStore) RideByID(ctx context.Context, id string) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (m *MemoryStore) OfferedRides(ctx context.Context, from time.Time) ([]models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Ride, 0)
	for _, r := range m.rides {
		if r.Status == models.RideOffered && !r.RideDate.Before(from) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RideDate.Before(out[j].RideDate) })
	return out, nil
}

func (m *MemoryStore) RidesByDriver(ctx context.Context, driverID string) ([]models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Ride, 0)
	for _, r := range m.rides {
		if r.DriverID == driverID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RideDate.Before(out[j].RideDate) })
	return out, nil
}

func (m *MemoryStore) RequestByID(ctx context.Context, id string) (*models.RideRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &req, nil
}

func (m *MemoryStore) RequestsByDriver(ctx context.Context, driverID string) ([]models.RideRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requestsWhere(func(r models.RideRequest) bool { return r.DriverID == driverID }), nil
}

func (m *MemoryStore) RequestsByPassenger(ctx context.Context, passengerID string) ([]models.RideRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requestsWhere(func(r models.RideRequest) bool { return r.PassengerID == passengerID }), nil
}

func (m *MemoryStore) requestsWhere(keep func(models.RideRequest) bool) []models.RideRequest {
	out := make([]models.RideRequest, 0)
	for _, r := range m.requests {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (m *MemoryStore) SetPaymentRef(ctx context.Context, requestID, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[requestID]
	if !ok {
		return ErrNotFound
	}
	req.PaymentRef = ref
	m.requests[requestID] = req
	return nil
}

// InTx holds the store mutex for the duration of fn, staging writes and
// applying them only when fn succeeds. One mutex gives the same all-or-nothing
// and serialization guarantees the postgres store gets from SERIALIZABLE.
func (m *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memTx{store: m, rides: make(map[string]models.Ride), requests: make(map[string]models.RideRequest)}
	if err := fn(tx); err != nil {
		return err
	}
	for id, r := range tx.rides {
		m.rides[id] = r
	}
	for id, r := range tx.requests {
		m.requests[id] = r
	}
	return nil
}

type memTx struct {
	store    *MemoryStore
	rides    map[string]models.Ride       // staged writes
	requests map[string]models.RideRequest
}

func (t *memTx) RideForUpdate(id string) (*models.Ride, error) {
	if r, ok := t.rides[id]; ok {
		return &r, nil
	}
	r, ok := t.store.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (t *memTx) RequestForUpdate(id string) (*models.RideRequest, error) {
	if r, ok := t.requests[id]; ok {
		return &r, nil
	}
	r, ok := t.store.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (t *memTx) InsertRequest(req *models.RideRequest) error {
	check := func(r models.RideRequest) bool {
		return r.RideID == req.RideID && r.PassengerID == req.PassengerID &&
			(r.Status == models.RequestPending || r.Status == models.RequestAccepted)
	}
	for _, r := range t.store.requests {
		if staged, ok := t.requests[r.ID]; ok {
			r = staged
		}
		if check(r) {
			return ErrDuplicateRequest
		}
	}
	for _, r := range t.requests {
		if check(r) {
			return ErrDuplicateRequest
		}
	}
	t.requests[req.ID] = *req
	return nil
}

func (t *memTx) UpdateRide(r *models.Ride) error {
	if _, err := t.RideForUpdate(r.ID); err != nil {
		return err
	}
	t.rides[r.ID] = *r
	return nil
}

func (t *memTx) UpdateRequest(req *models.RideRequest) error {
	if _, err := t.RequestForUpdate(req.ID); err != nil {
		return err
	}
	t.requests[req.ID] = *req
	return nil
}

func (t *memTx) CancelPendingRequests(rideID string) ([]models.RideRequest, error) {
	moved := make([]models.RideRequest, 0)
	for id, r := range t.store.requests {
		if staged, ok := t.requests[id]; ok {
			r = staged
		}
		if r.RideID == rideID && r.Status == models.RequestPending {
			r.Status = models.RequestCancelled
			r.UpdatedAt = time.Now()
			t.requests[id] = r
			moved = append(moved, r)
		}
	}
	return moved, nil
}
