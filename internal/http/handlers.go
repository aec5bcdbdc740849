// Package httpapi is the HTTP gateway: routing, auth middleware, request
// decoding and the mapping from service errors to status codes. All business
// rules live in the services it fronts.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/unirides/internal/auth"
	"github.com/example/unirides/internal/coordinator"
	"github.com/example/unirides/internal/dispatch"
	"github.com/example/unirides/internal/models"
	"github.com/example/unirides/internal/rides"
	"github.com/example/unirides/internal/storage"
)

type Server struct {
	logger *slog.Logger
	mux    *mux.Router

	auth   *auth.Service
	rides  *rides.Service
	coord  *coordinator.Coordinator
	store  storage.Store
	tokens *auth.TokenIssuer
	ws     *dispatch.WSRegistry

	upgrader websocket.Upgrader

	// echoResetCode is only turned on when mail goes to the log instead of
	// a real mailbox, so local setups can complete the reset flow.
	echoResetCode bool
}

type Options struct {
	Logger        *slog.Logger
	Auth          *auth.Service
	Rides         *rides.Service
	Coordinator   *coordinator.Coordinator
	Store         storage.Store
	Tokens        *auth.TokenIssuer
	WS            *dispatch.WSRegistry
	EchoResetCode bool
}

func NewServer(opts Options) *Server {
	s := &Server{
		logger:        opts.Logger,
		mux:           mux.NewRouter(),
		auth:          opts.Auth,
		rides:         opts.Rides,
		coord:         opts.Coordinator,
		store:         opts.Store,
		tokens:        opts.Tokens,
		ws:            opts.WS,
		echoResetCode: opts.EchoResetCode,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.registerMiddleware()
	s.registerRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := s.mux.PathPrefix("/api").Subrouter()

	api.HandleFunc("/signup/send-otp", s.handleSendSignupOTP).Methods(http.MethodPost)
	api.HandleFunc("/signup/verify-otp", s.handleVerifySignupOTP).Methods(http.MethodPost)
	api.HandleFunc("/signup/resend-otp", s.handleResendSignupOTP).Methods(http.MethodPost)
	api.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	api.HandleFunc("/forgot-password", s.handleForgotPassword).Methods(http.MethodPost)
	api.HandleFunc("/verify-reset-code", s.handleVerifyResetCode).Methods(http.MethodPost)
	api.HandleFunc("/reset-password", s.handleResetPassword).Methods(http.MethodPost)

	authed := api.NewRoute().Subrouter()
	authed.Use(s.authMiddleware)
	authed.HandleFunc("/user-profile", s.handleGetProfile).Methods(http.MethodGet)
	authed.HandleFunc("/user-profile", s.handleUpdateProfile).Methods(http.MethodPut)
	authed.HandleFunc("/change-password", s.handleChangePassword).Methods(http.MethodPut)

	authed.HandleFunc("/rides", s.handleCreateRide).Methods(http.MethodPost)
	authed.HandleFunc("/rides", s.handleListRides).Methods(http.MethodGet)
	authed.HandleFunc("/my-rides", s.handleMyRides).Methods(http.MethodGet)
	authed.HandleFunc("/rides/{rideID}", s.handleCancelRide).Methods(http.MethodDelete)

	authed.HandleFunc("/ride-requests", s.handleCreateRequest).Methods(http.MethodPost)
	authed.HandleFunc("/ride-requests/received", s.handleReceivedRequests).Methods(http.MethodGet)
	authed.HandleFunc("/ride-requests/sent", s.handleSentRequests).Methods(http.MethodGet)
	authed.HandleFunc("/ride-requests/{requestID}", s.handleDecideRequest).Methods(http.MethodPut)

	ws := s.mux.PathPrefix("/ws").Subrouter()
	ws.Use(s.authMiddleware)
	ws.HandleFunc("/drivers/{driverID}", s.handleDriverWS).Methods(http.MethodGet)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// --- signup and login ---

func (s *Server) handleSendSignupOTP(w http.ResponseWriter, r *http.Request) {
	var in auth.SignupInput
	if !decodeBody(w, r, &in) {
		return
	}
	if err := s.auth.SendSignupOTP(r.Context(), in); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "OTP sent to your email address. Please verify to complete registration.",
	})
}

func (s *Server) handleVerifySignupOTP(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email string `json:"email"`
		OTP   string `json:"otp"`
	}
	if !decodeBody(w, r, &in) {
		return
	}
	if err := s.auth.VerifySignupOTP(r.Context(), in.Email, in.OTP); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "Account created successfully! You can now login with your credentials.",
	})
}

func (s *Server) handleResendSignupOTP(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email string `json:"email"`
	}
	if !decodeBody(w, r, &in) {
		return
	}
	if err := s.auth.ResendSignupOTP(r.Context(), in.Email); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "New OTP sent to your email address."})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &in) {
		return
	}
	token, user, err := s.auth.Login(r.Context(), in.Email, in.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":  "Login successful!",
		"token":    token,
		"userName": user.FullName,
	})
}

// --- password reset ---

func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email string `json:"email"`
	}
	if !decodeBody(w, r, &in) {
		return
	}
	code, err := s.auth.ForgotPassword(r.Context(), in.Email)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := map[string]any{"message": "Password reset code sent to your email address."}
	if s.echoResetCode {
		resp["resetCode"] = code
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVerifyResetCode(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email     string `json:"email"`
		ResetCode string `json:"resetCode"`
	}
	if !decodeBody(w, r, &in) {
		return
	}
	userID, err := s.auth.VerifyResetCode(r.Context(), in.Email, in.ResetCode)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Reset code verified successfully.",
		"userId":  userID,
	})
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email       string `json:"email"`
		ResetCode   string `json:"resetCode"`
		NewPassword string `json:"newPassword"`
	}
	if !decodeBody(w, r, &in) {
		return
	}
	if err := s.auth.ResetPassword(r.Context(), in.Email, in.ResetCode, in.NewPassword); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Password reset successfully! You can now login with your new password.",
	})
}

// --- profile ---

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	user, err := s.auth.Profile(r.Context(), claims.Subject)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	var in auth.ProfileUpdate
	if !decodeBody(w, r, &in) {
		return
	}
	user, err := s.auth.UpdateProfile(r.Context(), claims.Subject, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Profile updated successfully.",
		"user":    user,
	})
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	var in struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if !decodeBody(w, r, &in) {
		return
	}
	if err := s.auth.ChangePassword(r.Context(), claims.Subject, in.CurrentPassword, in.NewPassword); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Password changed successfully."})
}

// --- rides ---

func (s *Server) handleCreateRide(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	var in rides.CreateInput
	if !decodeBody(w, r, &in) {
		return
	}
	ride, err := s.rides.Create(r.Context(), claims.Subject, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "Ride posted successfully!",
		"ride":    ride,
	})
}

func (s *Server) handleListRides(w http.ResponseWriter, r *http.Request) {
	list, err := s.rides.ListOffered(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rides": list})
}

func (s *Server) handleMyRides(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	list, err := s.rides.ListMine(r.Context(), claims.Subject)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rides": list})
}

func (s *Server) handleCancelRide(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	rideID := mux.Vars(r)["rideID"]
	if err := s.coord.CancelRide(r.Context(), rideID, claims.Subject); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Ride cancelled successfully!"})
}

// --- ride requests ---

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	var in struct {
		RideID  string `json:"rideId"`
		Message string `json:"message"`
	}
	if !decodeBody(w, r, &in) {
		return
	}
	if in.RideID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "rideId is required."})
		return
	}
	requestID, err := s.coord.CreateRequest(r.Context(), in.RideID, claims.Subject, in.Message)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message":   "Ride request sent successfully!",
		"requestId": requestID,
	})
}

func (s *Server) handleReceivedRequests(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	list, err := s.store.RequestsByDriver(r.Context(), claims.Subject)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": list})
}

func (s *Server) handleSentRequests(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	list, err := s.store.RequestsByPassenger(r.Context(), claims.Subject)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": list})
}

func (s *Server) handleDecideRequest(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	requestID := mux.Vars(r)["requestID"]
	var in struct {
		Status string `json:"status"`
	}
	if !decodeBody(w, r, &in) {
		return
	}
	decision, err := s.coord.DecideRequest(r.Context(), requestID, claims.Subject, models.RequestStatus(in.Status))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	msg := "Request " + string(decision.RequestStatus) + " successfully."
	if decision.RequestStatus != models.RequestStatus(in.Status) {
		msg = "Request could not be accepted and was rejected."
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":        msg,
		"requestStatus":  decision.RequestStatus,
		"rideStatus":     decision.RideStatus,
		"availableSeats": decision.AvailableSeats,
	})
}

// --- driver websocket ---

func (s *Server) handleDriverWS(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	driverID := mux.Vars(r)["driverID"]
	if driverID != claims.Subject {
		writeJSON(w, http.StatusForbidden, map[string]any{"message": "You can only subscribe to your own alerts."})
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "driver_id", driverID, "error", err)
		return
	}
	s.ws.Add(driverID, conn)
	s.logger.Info("driver connected", "driver_id", driverID)

	// Drain the read side so close frames are processed; drop the session
	// when the peer goes away.
	go func() {
		defer func() {
			s.ws.Remove(driverID)
			_ = conn.Close()
			s.logger.Info("driver disconnected", "driver_id", driverID)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// --- plumbing ---

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "Invalid request body."})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, auth.ErrInvalid), errors.Is(err, rides.ErrInvalid), errors.Is(err, coordinator.ErrInvalidState):
		status = http.StatusBadRequest
	case errors.Is(err, auth.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, coordinator.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, auth.ErrNotFound), errors.Is(err, coordinator.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, auth.ErrConflict), errors.Is(err, coordinator.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, coordinator.ErrTransient):
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"message": "The system is busy, please retry your request.",
		})
		return
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "route", routeTemplate(r), "error", err)
		writeJSON(w, status, map[string]any{"message": "Server error. Please try again later."})
		return
	}
	writeJSON(w, status, map[string]any{"message": userMessage(err)})
}

// userMessage strips the sentinel prefix so clients see the human part of a
// wrapped error ("invalid input: email is required" -> "email is required").
func userMessage(err error) string {
	msg := err.Error()
	if i := strings.Index(msg, ": "); i >= 0 {
		return msg[i+2:]
	}
	return msg
}
