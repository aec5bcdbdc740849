// Package auth implements signup with email OTP verification, login and the
// password-reset flows. No user row exists until the signup OTP is verified;
// the pending account rides along with the code in the otp store.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/example/unirides/internal/mailer"
	"github.com/example/unirides/internal/models"
	"github.com/example/unirides/internal/otp"
	"github.com/example/unirides/internal/storage"
)

var (
	ErrInvalid      = errors.New("invalid input")
	ErrUnauthorized = errors.New("unauthorized")
	ErrConflict     = errors.New("conflict")
	ErrNotFound     = errors.New("not found")
)

var eduEmailRe = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.edu$`)

const (
	codeTTL        = 10 * time.Minute
	bcryptCost     = 10
	minPasswordLen = 6
)

type Service struct {
	Store  storage.Store
	Codes  otp.Codes
	Mail   mailer.Sender
	Tokens *TokenIssuer
	Logger *slog.Logger
}

type SignupInput struct {
	FullName      string `json:"fullName"`
	Email         string `json:"email"`
	Password      string `json:"password"`
	GradYear      int    `json:"gradYear"`
	StudentID     string `json:"studentId"`
	PhoneNumber   string `json:"phoneNumber"`
	CollegeDomain string `json:"collegeDomain"`
}

// SendSignupOTP validates the signup, parks the hashed account data under a
// fresh code and emails the code. A failed send removes the parked record so
// the user can start over cleanly.
func (s *Service) SendSignupOTP(ctx context.Context, in SignupInput) error {
	if in.FullName == "" || in.Email == "" || in.Password == "" || in.GradYear == 0 || in.StudentID == "" || in.PhoneNumber == "" {
		return fmt.Errorf("%w: all fields are required", ErrInvalid)
	}
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if !eduEmailRe.MatchString(email) {
		return fmt.Errorf("%w: please use a valid .edu email address", ErrInvalid)
	}
	if _, err := s.Store.UserByEmail(ctx, email); err == nil {
		return fmt.Errorf("%w: email already registered", ErrConflict)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcryptCost)
	if err != nil {
		return err
	}
	domain := strings.ToLower(in.CollegeDomain)
	if domain == "" {
		domain = "vit.edu"
	}
	now := time.Now()
	pending := &models.User{
		ID:            uuid.NewString(),
		FullName:      in.FullName,
		Email:         email,
		PasswordHash:  string(hash),
		StudentID:     in.StudentID,
		PhoneNumber:   in.PhoneNumber,
		College:       "VIT University",
		CollegeDomain: domain,
		GradYear:      in.GradYear,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	code := otp.NewCode()
	rec := otp.Record{Code: code, Email: email, Pending: pending}
	if err := s.Codes.Put(ctx, otp.PurposeSignup, email, rec, codeTTL); err != nil {
		return err
	}
	subject, body := mailer.SignupOTP(in.FullName, code)
	if err := s.Mail.Send(mailer.Message{To: email, Subject: subject, Body: body}); err != nil {
		_ = s.Codes.Delete(ctx, otp.PurposeSignup, email)
		s.Logger.Error("sending signup OTP failed", "email", email, "error", err)
		return fmt.Errorf("failed to send verification email: %w", err)
	}
	return nil
}

// VerifySignupOTP consumes the code and creates the account.
func (s *Service) VerifySignupOTP(ctx context.Context, email, code string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || len(code) != 6 {
		return fmt.Errorf("%w: email and a 6-digit OTP are required", ErrInvalid)
	}
	rec, err := s.Codes.Get(ctx, otp.PurposeSignup, email)
	if errors.Is(err, otp.ErrNoCode) || (err == nil && rec.Code != code) {
		return fmt.Errorf("%w: invalid or expired OTP", ErrInvalid)
	}
	if err != nil {
		return err
	}
	if rec.Pending == nil {
		return fmt.Errorf("%w: invalid or expired OTP", ErrInvalid)
	}
	if err := s.Store.CreateUser(ctx, rec.Pending); err != nil {
		if errors.Is(err, storage.ErrDuplicateRequest) {
			_ = s.Codes.Delete(ctx, otp.PurposeSignup, email)
			return fmt.Errorf("%w: email already registered", ErrConflict)
		}
		return err
	}
	_ = s.Codes.Delete(ctx, otp.PurposeSignup, email)
	s.Logger.Info("user signed up", "user_id", rec.Pending.ID, "email", email)
	return nil
}

// ResendSignupOTP rotates the code on an existing pending signup.
func (s *Service) ResendSignupOTP(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return fmt.Errorf("%w: email is required", ErrInvalid)
	}
	rec, err := s.Codes.Get(ctx, otp.PurposeSignup, email)
	if errors.Is(err, otp.ErrNoCode) {
		return fmt.Errorf("%w: no pending signup found for this email", ErrNotFound)
	}
	if err != nil {
		return err
	}
	rec.Code = otp.NewCode()
	if err := s.Codes.Put(ctx, otp.PurposeSignup, email, rec, codeTTL); err != nil {
		return err
	}
	name := email
	if rec.Pending != nil {
		name = rec.Pending.FullName
	}
	subject, body := mailer.SignupOTP(name, rec.Code)
	if err := s.Mail.Send(mailer.Message{To: email, Subject: subject, Body: body}); err != nil {
		return fmt.Errorf("failed to send verification email: %w", err)
	}
	return nil
}

// Login checks the password and issues the signed credential.
func (s *Service) Login(ctx context.Context, email, password string) (string, *models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return "", nil, fmt.Errorf("%w: email and password are required", ErrInvalid)
	}
	u, err := s.Store.UserByEmail(ctx, email)
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil, fmt.Errorf("%w: invalid email or password", ErrUnauthorized)
	}
	if err != nil {
		return "", nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return "", nil, fmt.Errorf("%w: invalid email or password", ErrUnauthorized)
	}
	token, err := s.Tokens.Issue(u)
	if err != nil {
		return "", nil, err
	}
	s.Logger.Info("user logged in", "user_id", u.ID, "email", u.Email)
	return token, u, nil
}

// ForgotPassword stores a reset code and mails it. The code is also returned
// so a log-only mail setup can surface it; handlers decide whether to echo.
func (s *Service) ForgotPassword(ctx context.Context, email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", fmt.Errorf("%w: email is required", ErrInvalid)
	}
	u, err := s.Store.UserByEmail(ctx, email)
	if errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("%w: no account found with this email address", ErrNotFound)
	}
	if err != nil {
		return "", err
	}
	code := otp.NewCode()
	rec := otp.Record{Code: code, Email: email, UserID: u.ID}
	if err := s.Codes.Put(ctx, otp.PurposeReset, email, rec, codeTTL); err != nil {
		return "", err
	}
	subject, body := mailer.PasswordReset(u.FullName, code)
	if err := s.Mail.Send(mailer.Message{To: email, Subject: subject, Body: body}); err != nil {
		s.Logger.Error("sending reset code failed", "email", email, "error", err)
		return "", fmt.Errorf("failed to send reset email: %w", err)
	}
	return code, nil
}

// VerifyResetCode checks a code without consuming it (the UI verifies before
// collecting the new password).
func (s *Service) VerifyResetCode(ctx context.Context, email, code string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || code == "" {
		return "", fmt.Errorf("%w: email and reset code are required", ErrInvalid)
	}
	rec, err := s.Codes.Get(ctx, otp.PurposeReset, email)
	if errors.Is(err, otp.ErrNoCode) || (err == nil && rec.Code != code) {
		return "", fmt.Errorf("%w: invalid or expired reset code", ErrInvalid)
	}
	if err != nil {
		return "", err
	}
	return rec.UserID, nil
}

// ResetPassword consumes the code and sets the new password.
func (s *Service) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	if len(newPassword) < minPasswordLen {
		return fmt.Errorf("%w: password must be at least 6 characters long", ErrInvalid)
	}
	userID, err := s.VerifyResetCode(ctx, email, code)
	if err != nil {
		return err
	}
	u, err := s.Store.UserByID(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: user not found", ErrNotFound)
	}
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcryptCost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hash)
	u.UpdatedAt = time.Now()
	if err := s.Store.UpdateUser(ctx, u); err != nil {
		return err
	}
	_ = s.Codes.Delete(ctx, otp.PurposeReset, strings.ToLower(strings.TrimSpace(email)))
	s.Logger.Info("password reset", "user_id", u.ID)
	return nil
}

// ChangePassword swaps the password for a logged-in user.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) error {
	if current == "" || next == "" {
		return fmt.Errorf("%w: current password and new password are required", ErrInvalid)
	}
	if len(next) < minPasswordLen {
		return fmt.Errorf("%w: password must be at least 6 characters long", ErrInvalid)
	}
	u, err := s.Store.UserByID(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: user not found", ErrNotFound)
	}
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(current)) != nil {
		return fmt.Errorf("%w: current password is incorrect", ErrInvalid)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(next), bcryptCost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hash)
	u.UpdatedAt = time.Now()
	return s.Store.UpdateUser(ctx, u)
}

func (s *Service) Profile(ctx context.Context, userID string) (*models.User, error) {
	u, err := s.Store.UserByID(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: user profile not found", ErrNotFound)
	}
	return u, err
}

type ProfileUpdate struct {
	FullName          *string `json:"fullName"`
	PhoneNumber       *string `json:"phone"`
	ProfilePictureURL *string `json:"profilePictureUrl"`
}

func (s *Service) UpdateProfile(ctx context.Context, userID string, upd ProfileUpdate) (*models.User, error) {
	u, err := s.Store.UserByID(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: user not found", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if upd.FullName != nil && *upd.FullName != "" {
		u.FullName = *upd.FullName
	}
	if upd.PhoneNumber != nil {
		u.PhoneNumber = *upd.PhoneNumber
	}
	if upd.ProfilePictureURL != nil && *upd.ProfilePictureURL != "" {
		u.ProfilePictureURL = *upd.ProfilePictureURL
	}
	u.UpdatedAt = time.Now()
	if err := s.Store.UpdateUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}
