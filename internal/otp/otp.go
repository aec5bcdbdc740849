// Package otp stores short-lived verification codes: the signup OTP (with
// the pending user data riding along) and the password-reset code. Codes are
// single-use and expire after a TTL.
package otp

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/example/unirides/internal/models"
)

const (
	PurposeSignup = "signup"
	PurposeReset  = "reset"
)

// Record is what hangs off a code. For signup it carries the full pending
// user (password already hashed) so account creation needs nothing else.
type Record struct {
	Code    string       `json:"code"`
	Email   string       `json:"email"`
	UserID  string       `json:"user_id,omitempty"` // reset only
	Pending *models.User `json:"pending,omitempty"` // signup only
}

// Codes is the store contract. Put replaces any existing record for the
// (purpose, email) pair, matching the original delete-then-insert behavior.
type Codes interface {
	Put(ctx context.Context, purpose, email string, rec Record, ttl time.Duration) error
	Get(ctx context.Context, purpose, email string) (Record, error)
	Delete(ctx context.Context, purpose, email string) error
}

// NewCode returns a 6-digit numeric code from crypto/rand.
func NewCode() string {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		// crypto/rand failing means the platform is broken; surface loudly.
		panic(fmt.Sprintf("otp: rand failed: %v", err))
	}
	return fmt.Sprintf("%06d", n.Int64()+100000)
}

func key(purpose, email string) string { return "otp:" + purpose + ":" + email }
