package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/example/unirides/internal/mailer"
	"github.com/example/unirides/internal/otp"
	"github.com/example/unirides/internal/storage"
)

type captureSender struct {
	msgs []mailer.Message
	fail bool
}

func (c *captureSender) Send(msg mailer.Message) error {
	if c.fail {
		return errors.New("smtp down")
	}
	c.msgs = append(c.msgs, msg)
	return nil
}

var codeRe = regexp.MustCompile(`\b\d{6}\b`)

func (c *captureSender) lastCode(t *testing.T) string {
	t.Helper()
	if len(c.msgs) == 0 {
		t.Fatal("no mail captured")
	}
	code := codeRe.FindString(c.msgs[len(c.msgs)-1].Body)
	if code == "" {
		t.Fatalf("no code in mail body: %q", c.msgs[len(c.msgs)-1].Body)
	}
	return code
}

func testService(t *testing.T) (*Service, *captureSender) {
	t.Helper()
	mail := &captureSender{}
	svc := &Service{
		Store:  storage.NewMemoryStore(),
		Codes:  otp.NewMemoryCodes(),
		Mail:   mail,
		Tokens: NewTokenIssuer("test-secret", time.Hour),
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	return svc, mail
}

func signupInput() SignupInput {
	return SignupInput{
		FullName:    "Pat Passenger",
		Email:       "pat@vit.edu",
		Password:    "hunter22",
		GradYear:    2027,
		StudentID:   "21BCE0001",
		PhoneNumber: "+911234567890",
	}
}

func TestSignupFlow(t *testing.T) {
	svc, mail := testService(t)
	ctx := context.Background()

	if err := svc.SendSignupOTP(ctx, signupInput()); err != nil {
		t.Fatalf("send otp: %v", err)
	}
	code := mail.lastCode(t)

	if err := svc.VerifySignupOTP(ctx, "pat@vit.edu", "000000"); !errors.Is(err, ErrInvalid) {
		t.Fatalf("wrong code: got %v, want ErrInvalid", err)
	}
	if err := svc.VerifySignupOTP(ctx, "pat@vit.edu", code); err != nil {
		t.Fatalf("verify: %v", err)
	}
	// code is single-use
	if err := svc.VerifySignupOTP(ctx, "pat@vit.edu", code); !errors.Is(err, ErrInvalid) {
		t.Fatalf("reuse: got %v, want ErrInvalid", err)
	}

	token, u, err := svc.Login(ctx, "Pat@VIT.edu", "hunter22")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if token == "" || u.FullName != "Pat Passenger" {
		t.Fatalf("login result: token=%q user=%+v", token, u)
	}
	claims, err := svc.Tokens.Verify(token)
	if err != nil || claims.Subject != u.ID {
		t.Fatalf("token verify: claims=%+v err=%v", claims, err)
	}
}

func TestSignupValidation(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	in := signupInput()
	in.Email = "pat@gmail.com"
	if err := svc.SendSignupOTP(ctx, in); !errors.Is(err, ErrInvalid) {
		t.Fatalf("non-edu email: got %v", err)
	}
	in = signupInput()
	in.PhoneNumber = ""
	if err := svc.SendSignupOTP(ctx, in); !errors.Is(err, ErrInvalid) {
		t.Fatalf("missing field: got %v", err)
	}
}

func TestSignupDuplicateEmail(t *testing.T) {
	svc, mail := testService(t)
	ctx := context.Background()
	if err := svc.SendSignupOTP(ctx, signupInput()); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := svc.VerifySignupOTP(ctx, "pat@vit.edu", mail.lastCode(t)); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := svc.SendSignupOTP(ctx, signupInput()); !errors.Is(err, ErrConflict) {
		t.Fatalf("re-signup: got %v, want ErrConflict", err)
	}
}

func TestSignupMailFailureCleansUp(t *testing.T) {
	svc, mail := testService(t)
	ctx := context.Background()
	mail.fail = true
	if err := svc.SendSignupOTP(ctx, signupInput()); err == nil {
		t.Fatal("expected send error")
	}
	mail.fail = false
	// no pending signup should remain
	if err := svc.ResendSignupOTP(ctx, "pat@vit.edu"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound after cleanup", err)
	}
}

func TestResendRotatesCode(t *testing.T) {
	svc, mail := testService(t)
	ctx := context.Background()
	if err := svc.SendSignupOTP(ctx, signupInput()); err != nil {
		t.Fatalf("send: %v", err)
	}
	first := mail.lastCode(t)
	if err := svc.ResendSignupOTP(ctx, "pat@vit.edu"); err != nil {
		t.Fatalf("resend: %v", err)
	}
	second := mail.lastCode(t)
	if err := svc.VerifySignupOTP(ctx, "pat@vit.edu", second); err != nil {
		t.Fatalf("verify rotated code: %v", err)
	}
	_ = first // the old code may collide by chance; only the new one is authoritative
}

func TestPasswordResetFlow(t *testing.T) {
	svc, mail := testService(t)
	ctx := context.Background()
	if err := svc.SendSignupOTP(ctx, signupInput()); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := svc.VerifySignupOTP(ctx, "pat@vit.edu", mail.lastCode(t)); err != nil {
		t.Fatalf("verify: %v", err)
	}

	if _, err := svc.ForgotPassword(ctx, "nobody@vit.edu"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown email: got %v", err)
	}
	code, err := svc.ForgotPassword(ctx, "pat@vit.edu")
	if err != nil {
		t.Fatalf("forgot: %v", err)
	}
	if code != mail.lastCode(t) {
		t.Fatalf("returned code %q != mailed code %q", code, mail.lastCode(t))
	}

	if _, err := svc.VerifyResetCode(ctx, "pat@vit.edu", "999999"); !errors.Is(err, ErrInvalid) {
		t.Fatalf("bad code: got %v", err)
	}
	if err := svc.ResetPassword(ctx, "pat@vit.edu", code, "short"); !errors.Is(err, ErrInvalid) {
		t.Fatalf("short password: got %v", err)
	}
	if err := svc.ResetPassword(ctx, "pat@vit.edu", code, "newpassword"); err != nil {
		t.Fatalf("reset: %v", err)
	}

	if _, _, err := svc.Login(ctx, "pat@vit.edu", "hunter22"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("old password must stop working, got %v", err)
	}
	if _, _, err := svc.Login(ctx, "pat@vit.edu", "newpassword"); err != nil {
		t.Fatalf("new password login: %v", err)
	}
}

func TestChangePassword(t *testing.T) {
	svc, mail := testService(t)
	ctx := context.Background()
	if err := svc.SendSignupOTP(ctx, signupInput()); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := svc.VerifySignupOTP(ctx, "pat@vit.edu", mail.lastCode(t)); err != nil {
		t.Fatalf("verify: %v", err)
	}
	_, u, err := svc.Login(ctx, "pat@vit.edu", "hunter22")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if err := svc.ChangePassword(ctx, u.ID, "wrong", "newpassword"); !errors.Is(err, ErrInvalid) {
		t.Fatalf("wrong current password: got %v", err)
	}
	if err := svc.ChangePassword(ctx, u.ID, "hunter22", "newpassword"); err != nil {
		t.Fatalf("change: %v", err)
	}
	if _, _, err := svc.Login(ctx, "pat@vit.edu", "newpassword"); err != nil {
		t.Fatalf("login after change: %v", err)
	}
}

func TestTokenRejectsForgedSecret(t *testing.T) {
	svc, mail := testService(t)
	ctx := context.Background()
	if err := svc.SendSignupOTP(ctx, signupInput()); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := svc.VerifySignupOTP(ctx, "pat@vit.edu", mail.lastCode(t)); err != nil {
		t.Fatalf("verify: %v", err)
	}
	token, _, err := svc.Login(ctx, "pat@vit.edu", "hunter22")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	other := NewTokenIssuer("different-secret", time.Hour)
	if _, err := other.Verify(token); err == nil {
		t.Fatal("token verified under wrong secret")
	}
}
