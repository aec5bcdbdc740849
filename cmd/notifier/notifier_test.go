package main

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/example/unirides/internal/events"
	"github.com/example/unirides/internal/mailer"
)

// fakeSender implements mailer.Sender for tests
type fakeSender struct {
	fail  int // number of times to fail before succeeding
	calls int
	last  mailer.Message
}

func (f *fakeSender) Send(msg mailer.Message) error {
	f.calls++
	f.last = msg
	if f.calls <= f.fail {
		return errors.New("smtp fail")
	}
	return nil
}

func TestSendWithRetry_SucceedsAfterRetries(t *testing.T) {
	f := &fakeSender{fail: 2}
	start := time.Now()
	msg := mailer.Message{To: "a@b.edu", Subject: "s", Body: "b"}
	if err := sendWithRetry(f, msg, 3, 10*time.Millisecond); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if f.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", f.calls)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatalf("expected at least one backoff")
	}
}

func TestSendWithRetry_FailsWhenExhausted(t *testing.T) {
	f := &fakeSender{fail: 5}
	if err := sendWithRetry(f, mailer.Message{To: "a@b.edu"}, 3, 5*time.Millisecond); err == nil {
		t.Fatalf("expected error after retries")
	}
	if f.calls != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", f.calls)
	}
}

func TestComposeMail_AllTypes(t *testing.T) {
	base := events.Event{
		RecipientEmail: "pax@uni.edu",
		RecipientName:  "Pat",
		Departure:      "Campus",
		Destination:    "Airport",
		RideDate:       time.Date(2025, 11, 20, 0, 0, 0, 0, time.UTC),
	}
	cases := []struct {
		evType  string
		wantSub string
	}{
		{events.TypeRequestCreated, "New ride request"},
		{events.TypeRequestAccepted, "accepted"},
		{events.TypeRequestRejected, "Update on your ride request"},
		{events.TypeRideCancelled, "cancelled"},
	}
	for _, tc := range cases {
		ev := base
		ev.Type = tc.evType
		msg, ok := composeMail(ev)
		if !ok {
			t.Fatalf("%s: expected a mail", tc.evType)
		}
		if msg.To != "pax@uni.edu" {
			t.Fatalf("%s: wrong recipient %q", tc.evType, msg.To)
		}
		if !strings.Contains(msg.Subject, tc.wantSub) {
			t.Fatalf("%s: subject %q missing %q", tc.evType, msg.Subject, tc.wantSub)
		}
		if !strings.Contains(msg.Body, "Campus to Airport on Nov 20, 2025") {
			t.Fatalf("%s: body missing route summary: %q", tc.evType, msg.Body)
		}
	}
}

func TestComposeMail_UnknownType(t *testing.T) {
	if _, ok := composeMail(events.Event{Type: "ride.completed"}); ok {
		t.Fatalf("expected unknown type to be skipped")
	}
}
