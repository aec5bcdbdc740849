// The notifier consumes ride events from Kafka and turns them into emails.
// It is deliberately database-free: every event carries the recipient and the
// ride summary it needs.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"github.com/example/unirides/internal/config"
	"github.com/example/unirides/internal/events"
	"github.com/example/unirides/internal/logging"
	"github.com/example/unirides/internal/mailer"
)

var (
	eventsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifier_events_consumed_total",
		Help: "Total ride events consumed",
	})
	eventsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifier_events_invalid_total",
		Help: "Total undecodable or unknown events",
	})
	mailsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifier_mails_sent_total",
		Help: "Total notification mails sent",
	})
	mailErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifier_mail_errors_total",
		Help: "Total mails that failed after retries",
	})
)

func init() {
	prometheus.MustRegister(eventsConsumed, eventsInvalid, mailsSent, mailErrors)
}

func main() {
	cfg := config.LoadNotifierConfig()
	logger := logging.NewLogger("info")

	var sender mailer.Sender
	if cfg.SMTPAddr != "" {
		sender = &mailer.SMTPSender{
			Addr:     cfg.SMTPAddr,
			From:     cfg.SMTPFrom,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
		}
	} else {
		sender = &mailer.LogSender{Logger: logger}
		logger.Warn("SMTP_ADDR not set, notification mails go to the log")
	}

	// metrics and health server
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ok"))
		})
		logger.Info("metrics/health listening", "addr", cfg.MetricsAddr)
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		Topic:    cfg.KafkaTopic,
		GroupID:  cfg.KafkaGroup,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
	defer r.Close()

	logger.Info("notifier listening", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers, "group", cfg.KafkaGroup)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down notifier")
				return
			}
			logger.Warn("kafka read error", "error", err, "backoff", backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second

		eventsConsumed.Inc()

		var ev events.Event
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			eventsInvalid.Inc()
			logger.Warn("invalid event payload", "error", err)
			continue
		}

		msg, ok := composeMail(ev)
		if !ok {
			eventsInvalid.Inc()
			logger.Warn("unknown event type", "type", ev.Type)
			continue
		}

		if err := sendWithRetry(sender, msg, 3, 200*time.Millisecond); err != nil {
			mailErrors.Inc()
			logger.Error("mail delivery failed", "type", ev.Type, "to", msg.To, "error", err)
			continue
		}
		mailsSent.Inc()
	}
}

// composeMail renders the notification for one event. Returns ok=false for
// event types this worker does not handle.
func composeMail(ev events.Event) (mailer.Message, bool) {
	route := fmt.Sprintf("%s to %s on %s", ev.Departure, ev.Destination, ev.RideDate.Format("Jan 2, 2006"))
	var subject, body string
	switch ev.Type {
	case events.TypeRequestCreated:
		subject = "New ride request for your ride"
		body = fmt.Sprintf(
			"Hi %s,\n\nYou have a new passenger request for your ride from %s.\n\nOpen Uni-Rides to accept or reject it.\n\nBest regards,\nThe Uni-Rides Team\n",
			ev.RecipientName, route)
	case events.TypeRequestAccepted:
		subject = "Your ride request was accepted!"
		body = fmt.Sprintf(
			"Hi %s,\n\nGood news! The driver accepted your request for the ride from %s.\n\nBest regards,\nThe Uni-Rides Team\n",
			ev.RecipientName, route)
	case events.TypeRequestRejected:
		subject = "Update on your ride request"
		body = fmt.Sprintf(
			"Hi %s,\n\nUnfortunately your request for the ride from %s was not accepted. Other rides are waiting on Uni-Rides.\n\nBest regards,\nThe Uni-Rides Team\n",
			ev.RecipientName, route)
	case events.TypeRideCancelled:
		subject = "A ride you requested was cancelled"
		body = fmt.Sprintf(
			"Hi %s,\n\nThe ride from %s has been cancelled by the driver. Your request was withdrawn automatically.\n\nBest regards,\nThe Uni-Rides Team\n",
			ev.RecipientName, route)
	default:
		return mailer.Message{}, false
	}
	return mailer.Message{To: ev.RecipientEmail, Subject: subject, Body: body}, true
}

// sendWithRetry delivers a mail with retry and doubling backoff.
func sendWithRetry(sender mailer.Sender, msg mailer.Message, attempts int, delay time.Duration) error {
	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := sender.Send(msg); err != nil {
			lastErr = err
			if i == attempts-1 {
				break
			}
			time.Sleep(delay)
			delay *= 2
			continue
		}
		return nil
	}
	return lastErr
}
