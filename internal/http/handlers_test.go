package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/example/unirides/internal/auth"
	"github.com/example/unirides/internal/coordinator"
	"github.com/example/unirides/internal/dispatch"
	"github.com/example/unirides/internal/mailer"
	"github.com/example/unirides/internal/otp"
	"github.com/example/unirides/internal/rides"
	"github.com/example/unirides/internal/storage"
)

var codeRe = regexp.MustCompile(`\b(\d{6})\b`)

// captureSender records outgoing mail so tests can read the codes.
type captureSender struct {
	msgs []mailer.Message
}

func (c *captureSender) Send(msg mailer.Message) error {
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *captureSender) lastCode(t *testing.T) string {
	t.Helper()
	if len(c.msgs) == 0 {
		t.Fatal("no mail captured")
	}
	m := codeRe.FindStringSubmatch(c.msgs[len(c.msgs)-1].Body)
	if m == nil {
		t.Fatalf("no code in mail body: %q", c.msgs[len(c.msgs)-1].Body)
	}
	return m[1]
}

type testEnv struct {
	srv    *Server
	store  storage.Store
	sender *captureSender
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := storage.NewMemoryStore()
	sender := &captureSender{}
	tokens := auth.NewTokenIssuer("test-secret", time.Hour)
	coord := coordinator.New(store, logger)
	srv := NewServer(Options{
		Logger:        logger,
		Auth:          &auth.Service{Store: store, Codes: otp.NewMemoryCodes(), Mail: sender, Tokens: tokens, Logger: logger},
		Rides:         &rides.Service{Store: store},
		Coordinator:   coord,
		Store:         store,
		Tokens:        tokens,
		WS:            dispatch.NewWSRegistry(),
		EchoResetCode: false,
	})
	return &testEnv{srv: srv, store: store, sender: sender}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		buf = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	out := map[string]any{}
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("bad response body %q: %v", rec.Body.String(), err)
		}
	}
	return rec, out
}

// signupAndLogin runs the whole OTP signup and returns a usable token.
func (e *testEnv) signupAndLogin(t *testing.T, email string) string {
	t.Helper()
	rec, _ := e.do(t, http.MethodPost, "/api/signup/send-otp", "", map[string]any{
		"fullName": "Test Student", "email": email, "password": "secret1",
		"gradYear": 2026, "studentId": "21BCE0001", "phoneNumber": "5551234567",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("send-otp: got %d: %s", rec.Code, rec.Body.String())
	}
	code := e.sender.lastCode(t)
	rec, _ = e.do(t, http.MethodPost, "/api/signup/verify-otp", "", map[string]any{"email": email, "otp": code})
	if rec.Code != http.StatusCreated {
		t.Fatalf("verify-otp: got %d: %s", rec.Code, rec.Body.String())
	}
	rec, out := e.do(t, http.MethodPost, "/api/login", "", map[string]any{"email": email, "password": "secret1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: got %d: %s", rec.Code, rec.Body.String())
	}
	token, _ := out["token"].(string)
	if token == "" {
		t.Fatal("login returned no token")
	}
	return token
}

func (e *testEnv) postRide(t *testing.T, token string) string {
	t.Helper()
	rec, out := e.do(t, http.MethodPost, "/api/rides", token, map[string]any{
		"departure": "Campus", "destination": "Airport",
		"rideDate": "2030-05-01", "rideTime": "09:00",
		"availableSeats": 2, "price": 12.5, "vehicleModel": "Civic",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("post ride: got %d: %s", rec.Code, rec.Body.String())
	}
	ride, _ := out["ride"].(map[string]any)
	id, _ := ride["id"].(string)
	if id == "" {
		t.Fatal("ride response missing id")
	}
	return id
}

func TestSignupLoginAndProfile(t *testing.T) {
	e := newTestEnv(t)
	token := e.signupAndLogin(t, "alice@vit.edu")

	rec, out := e.do(t, http.MethodGet, "/api/user-profile", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("profile: got %d", rec.Code)
	}
	user, _ := out["user"].(map[string]any)
	if user["email"] != "alice@vit.edu" {
		t.Fatalf("unexpected profile: %v", out)
	}
	if _, ok := user["passwordHash"]; ok {
		t.Fatal("password hash leaked in profile response")
	}
}

func TestAuthMiddleware(t *testing.T) {
	e := newTestEnv(t)
	rec, _ := e.do(t, http.MethodGet, "/api/user-profile", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: got %d, want 401", rec.Code)
	}
	rec, _ = e.do(t, http.MethodGet, "/api/user-profile", "not-a-token", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("garbage token: got %d, want 403", rec.Code)
	}
}

func TestRideRequestLifecycle(t *testing.T) {
	e := newTestEnv(t)
	driverTok := e.signupAndLogin(t, "driver@vit.edu")
	paxTok := e.signupAndLogin(t, "pax@vit.edu")

	rideID := e.postRide(t, driverTok)

	rec, out := e.do(t, http.MethodPost, "/api/ride-requests", paxTok, map[string]any{
		"rideId": rideID, "message": "room for a suitcase?",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create request: got %d: %s", rec.Code, rec.Body.String())
	}
	reqID, _ := out["requestId"].(string)
	if reqID == "" {
		t.Fatal("missing requestId")
	}

	// duplicate active request is a conflict
	rec, _ = e.do(t, http.MethodPost, "/api/ride-requests", paxTok, map[string]any{"rideId": rideID})
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate request: got %d, want 409", rec.Code)
	}

	// the passenger cannot decide the driver's request
	rec, _ = e.do(t, http.MethodPut, "/api/ride-requests/"+reqID, paxTok, map[string]any{"status": "accepted"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("foreign decide: got %d, want 403", rec.Code)
	}

	rec, out = e.do(t, http.MethodPut, "/api/ride-requests/"+reqID, driverTok, map[string]any{"status": "accepted"})
	if rec.Code != http.StatusOK {
		t.Fatalf("decide: got %d: %s", rec.Code, rec.Body.String())
	}
	if out["requestStatus"] != "accepted" {
		t.Fatalf("unexpected decision: %v", out)
	}
	if out["availableSeats"] != float64(1) {
		t.Fatalf("expected 1 seat left, got %v", out["availableSeats"])
	}

	// deciding twice is a conflict
	rec, _ = e.do(t, http.MethodPut, "/api/ride-requests/"+reqID, driverTok, map[string]any{"status": "rejected"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("second decide: got %d, want 409", rec.Code)
	}

	rec, out = e.do(t, http.MethodGet, "/api/ride-requests/sent", paxTok, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("sent list: got %d", rec.Code)
	}
	reqs, _ := out["requests"].([]any)
	if len(reqs) != 1 {
		t.Fatalf("expected 1 sent request, got %d", len(reqs))
	}
}

func TestDecideUnknownRequestIs404(t *testing.T) {
	e := newTestEnv(t)
	tok := e.signupAndLogin(t, "driver@vit.edu")
	rec, _ := e.do(t, http.MethodPut, "/api/ride-requests/nope", tok, map[string]any{"status": "accepted"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("got %d, want 404", rec.Code)
	}
}

func TestDecideInvalidStatusIs400(t *testing.T) {
	e := newTestEnv(t)
	tok := e.signupAndLogin(t, "driver@vit.edu")
	rec, _ := e.do(t, http.MethodPut, "/api/ride-requests/whatever", tok, map[string]any{"status": "maybe"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400", rec.Code)
	}
}

func TestCancelRide(t *testing.T) {
	e := newTestEnv(t)
	driverTok := e.signupAndLogin(t, "driver@vit.edu")
	otherTok := e.signupAndLogin(t, "other@vit.edu")
	rideID := e.postRide(t, driverTok)

	rec, _ := e.do(t, http.MethodDelete, "/api/rides/"+rideID, otherTok, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("foreign cancel: got %d, want 403", rec.Code)
	}
	rec, _ = e.do(t, http.MethodDelete, "/api/rides/"+rideID, driverTok, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel: got %d: %s", rec.Code, rec.Body.String())
	}

	// requesting a cancelled ride is rejected up front
	rec, _ = e.do(t, http.MethodPost, "/api/ride-requests", otherTok, map[string]any{"rideId": rideID})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("request on cancelled ride: got %d, want 400", rec.Code)
	}
}

func TestPasswordResetOverHTTP(t *testing.T) {
	e := newTestEnv(t)
	e.signupAndLogin(t, "alice@vit.edu")

	rec, _ := e.do(t, http.MethodPost, "/api/forgot-password", "", map[string]any{"email": "alice@vit.edu"})
	if rec.Code != http.StatusOK {
		t.Fatalf("forgot: got %d: %s", rec.Code, rec.Body.String())
	}
	code := e.sender.lastCode(t)

	rec, _ = e.do(t, http.MethodPost, "/api/verify-reset-code", "", map[string]any{"email": "alice@vit.edu", "resetCode": code})
	if rec.Code != http.StatusOK {
		t.Fatalf("verify code: got %d", rec.Code)
	}

	rec, _ = e.do(t, http.MethodPost, "/api/reset-password", "", map[string]any{
		"email": "alice@vit.edu", "resetCode": code, "newPassword": "newsecret",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("reset: got %d: %s", rec.Code, rec.Body.String())
	}

	rec, _ = e.do(t, http.MethodPost, "/api/login", "", map[string]any{"email": "alice@vit.edu", "password": "newsecret"})
	if rec.Code != http.StatusOK {
		t.Fatalf("login after reset: got %d", rec.Code)
	}
	rec, _ = e.do(t, http.MethodPost, "/api/login", "", map[string]any{"email": "alice@vit.edu", "password": "secret1"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("old password still works: got %d", rec.Code)
	}
}

func TestUnknownEmailSignupIsRejected(t *testing.T) {
	e := newTestEnv(t)
	rec, out := e.do(t, http.MethodPost, "/api/signup/send-otp", "", map[string]any{
		"fullName": "Bob", "email": "bob@gmail.com", "password": "secret1",
		"gradYear": 2026, "studentId": "X", "phoneNumber": "555",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400", rec.Code)
	}
	if msg, _ := out["message"].(string); msg != "please use a valid .edu email address" {
		t.Fatalf("unexpected message %q", msg)
	}
}

func TestListRides(t *testing.T) {
	e := newTestEnv(t)
	driverTok := e.signupAndLogin(t, "driver@vit.edu")
	for i := 0; i < 3; i++ {
		e.postRide(t, driverTok)
	}
	rec, out := e.do(t, http.MethodGet, "/api/rides", driverTok, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: got %d", rec.Code)
	}
	list, _ := out["rides"].([]any)
	if len(list) != 3 {
		t.Fatalf("expected 3 rides, got %d", len(list))
	}
	rec, out = e.do(t, http.MethodGet, "/api/my-rides", driverTok, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("my-rides: got %d", rec.Code)
	}
	list, _ = out["rides"].([]any)
	if len(list) != 3 {
		t.Fatalf("expected 3 own rides, got %d", len(list))
	}
}
