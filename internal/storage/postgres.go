package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/example/unirides/internal/models"
)

// PostgresStore backs the store with lib/pq. Coordinator transactions run
// SERIALIZABLE with FOR UPDATE row locks; serialization aborts are retried
// with backoff before surfacing as ErrTxConflict.
type PostgresStore struct {
	db *sql.DB

	txAttempts int
	txBackoff  time.Duration
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db, txAttempts: 3, txBackoff: 25 * time.Millisecond}, nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) CreateUser(ctx context.Context, u *models.User) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO users(id, full_name, email, password_hash, student_id, phone_number, college, college_domain, grad_year, profile_picture_url, created_at, updated_at)
		VALUES($1,$2,lower($3),$4,$5,$6,$7,lower($8),$9,$10,$11,$12)`,
		u.ID, u.FullName, u.Email, u.PasswordHash, u.StudentID, u.PhoneNumber, u.College, u.CollegeDomain, u.GradYear, u.ProfilePictureURL, u.CreatedAt, u.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateRequest
	}
	return err
}

const userCols = `id, full_name, email, password_hash, student_id, phone_number, college, college_domain, grad_year, profile_picture_url, created_at, updated_at`

func (p *PostgresStore) UserByID(ctx context.Context, id string) (*models.User, error) {
	return scanUser(p.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE id=$1`, id))
}

func (p *PostgresStore) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	return scanUser(p.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE email=lower($1)`, email))
}

func scanUser(row *sql.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.FullName, &u.Email, &u.PasswordHash, &u.StudentID, &u.PhoneNumber, &u.College, &u.CollegeDomain, &u.GradYear, &u.ProfilePictureURL, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (p *PostgresStore) UpdateUser(ctx context.Context, u *models.User) error {
	res, err := p.db.ExecContext(ctx, `UPDATE users SET full_name=$1, phone_number=$2, profile_picture_url=$3, password_hash=$4, updated_at=$5 WHERE id=$6`,
		u.FullName, u.PhoneNumber, u.ProfilePictureURL, u.PasswordHash, time.Now(), u.ID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (p *PostgresStore) CreateRide(ctx context.Context, r *models.Ride) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO rides(id, driver_id, departure, destination, ride_date, ride_time, available_seats, price, trip_type, is_recurring, vehicle_model, vehicle_color, license_plate, features, notes, status, created_at, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		r.ID, r.DriverID, r.Departure, r.Destination, r.RideDate, r.RideTime, r.AvailableSeats, r.Price, r.TripType, r.IsRecurring, r.VehicleModel, r.VehicleColor, r.LicensePlate, pq.Array(r.Features), r.Notes, r.Status, r.CreatedAt, r.UpdatedAt)
	return err
}

const rideCols = `id, driver_id, departure, destination, ride_date, ride_time, available_seats, price, trip_type, is_recurring, vehicle_model, vehicle_color, license_plate, features, notes, status, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRide(row rowScanner) (*models.Ride, error) {
	var r models.Ride
	err := row.Scan(&r.ID, &r.DriverID, &r.Departure, &r.Destination, &r.RideDate, &r.RideTime, &r.AvailableSeats, &r.Price, &r.TripType, &r.IsRecurring, &r.VehicleModel, &r.VehicleColor, &r.LicensePlate, pq.Array(&r.Features), &r.Notes, &r.Status, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (p *PostgresStore) RideByID(ctx context.Context, id string) (*models.Ride, error) {
	return scanRide(p.db.QueryRowContext(ctx, `SELECT `+rideCols+` FROM rides WHERE id=$1`, id))
}

func (p *PostgresStore) OfferedRides(ctx context.Context, from time.Time) ([]models.Ride, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+rideCols+` FROM rides WHERE status='Offered' AND ride_date >= $1 ORDER BY ride_date ASC`, from)
	if err != nil {
		return nil, err
	}
	return collectRides(rows)
}

func (p *PostgresStore) RidesByDriver(ctx context.Context, driverID string) ([]models.Ride, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+rideCols+` FROM rides WHERE driver_id=$1 ORDER BY ride_date ASC`, driverID)
	if err != nil {
		return nil, err
	}
	return collectRides(rows)
}

func collectRides(rows *sql.Rows) ([]models.Ride, error) {
	defer rows.Close()
	out := make([]models.Ride, 0)
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

const requestCols = `id, ride_id, passenger_id, driver_id, message, status, payment_ref, created_at, updated_at`

func scanRequest(row rowScanner) (*models.RideRequest, error) {
	var r models.RideRequest
	err := row.Scan(&r.ID, &r.RideID, &r.PassengerID, &r.DriverID, &r.Message, &r.Status, &r.PaymentRef, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (p *PostgresStore) RequestByID(ctx context.Context, id string) (*models.RideRequest, error) {
	return scanRequest(p.db.QueryRowContext(ctx, `SELECT `+requestCols+` FROM ride_requests WHERE id=$1`, id))
}

func (p *PostgresStore) RequestsByDriver(ctx context.Context, driverID string) ([]models.RideRequest, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+requestCols+` FROM ride_requests WHERE driver_id=$1 ORDER BY created_at DESC`, driverID)
	if err != nil {
		return nil, err
	}
	return collectRequests(rows)
}

func (p *PostgresStore) RequestsByPassenger(ctx context.Context, passengerID string) ([]models.RideRequest, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+requestCols+` FROM ride_requests WHERE passenger_id=$1 ORDER BY created_at DESC`, passengerID)
	if err != nil {
		return nil, err
	}
	return collectRequests(rows)
}

func collectRequests(rows *sql.Rows) ([]models.RideRequest, error) {
	defer rows.Close()
	out := make([]models.RideRequest, 0)
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) SetPaymentRef(ctx context.Context, requestID, ref string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE ride_requests SET payment_ref=$1, updated_at=$2 WHERE id=$3`, ref, time.Now(), requestID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// InTx runs fn in a SERIALIZABLE transaction, retrying serialization and
// deadlock aborts up to the attempt budget. fn must only touch state through
// the Tx so a retried attempt starts from scratch.
func (p *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	backoff := p.txBackoff
	var lastErr error
	for attempt := 0; attempt < p.txAttempts; attempt++ {
		err := p.runTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return errors.Join(ErrTxConflict, lastErr)
}

func (p *PostgresStore) runTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	ptx := &pgTx{ctx: ctx, tx: tx}
	if err := fn(ptx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

type pgTx struct {
	ctx context.Context
	tx  *sql.Tx
}

func (t *pgTx) RideForUpdate(id string) (*models.Ride, error) {
	return scanRide(t.tx.QueryRowContext(t.ctx, `SELECT `+rideCols+` FROM rides WHERE id=$1 FOR UPDATE`, id))
}

func (t *pgTx) RequestForUpdate(id string) (*models.RideRequest, error) {
	return scanRequest(t.tx.QueryRowContext(t.ctx, `SELECT `+requestCols+` FROM ride_requests WHERE id=$1 FOR UPDATE`, id))
}

func (t *pgTx) InsertRequest(req *models.RideRequest) error {
	_, err := t.tx.ExecContext(t.ctx, `INSERT INTO ride_requests(id, ride_id, passenger_id, driver_id, message, status, payment_ref, created_at, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		req.ID, req.RideID, req.PassengerID, req.DriverID, req.Message, req.Status, req.PaymentRef, req.CreatedAt, req.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateRequest
	}
	return err
}

func (t *pgTx) UpdateRide(r *models.Ride) error {
	res, err := t.tx.ExecContext(t.ctx, `UPDATE rides SET available_seats=$1, status=$2, updated_at=$3 WHERE id=$4`,
		r.AvailableSeats, r.Status, time.Now(), r.ID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (t *pgTx) UpdateRequest(req *models.RideRequest) error {
	res, err := t.tx.ExecContext(t.ctx, `UPDATE ride_requests SET status=$1, updated_at=$2 WHERE id=$3`,
		req.Status, time.Now(), req.ID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (t *pgTx) CancelPendingRequests(rideID string) ([]models.RideRequest, error) {
	rows, err := t.tx.QueryContext(t.ctx, `UPDATE ride_requests SET status='cancelled', updated_at=$1 WHERE ride_id=$2 AND status='pending' RETURNING `+requestCols,
		time.Now(), rideID)
	if err != nil {
		return nil, err
	}
	return collectRequests(rows)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func isRetryable(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	// serialization_failure, deadlock_detected
	return pqErr.Code == "40001" || pqErr.Code == "40P01"
}
