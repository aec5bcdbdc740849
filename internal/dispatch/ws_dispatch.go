package dispatch

import (
	"errors"
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/example/unirides/internal/models"
)

// ErrNoSession means the driver has no live websocket. Callers treat this as
// "not connected right now", not a failure; email delivery still happens
// through the event stream.
var ErrNoSession = errors.New("no ws session")

// WSSession is one connected driver.
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(alert models.RequestAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(alert)
}

// WSRegistry holds driver sessions keyed by driver ID.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
}

func NewWSRegistry() *WSRegistry { return &WSRegistry{sessions: make(map[string]*WSSession)} }

func (r *WSRegistry) Add(driverID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.sessions[driverID]; ok {
		_ = old.conn.Close()
	}
	r.sessions[driverID] = &WSSession{conn: conn}
}

func (r *WSRegistry) Remove(driverID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, driverID)
}

// Alert pushes a request alert to the driver if they are connected.
func (r *WSRegistry) Alert(driverID string, alert models.RequestAlert) error {
	r.mu.RLock()
	s, ok := r.sessions[driverID]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	if err := s.Send(alert); err != nil {
		log.Printf("ws send error: %v", err)
		return err
	}
	return nil
}
