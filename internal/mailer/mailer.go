// Package mailer is the outbound email boundary. The coordinator and auth
// flows only see the Sender interface; delivery mechanics stay here.
package mailer

import (
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
)

type Message struct {
	To      string
	Subject string
	Body    string
}

type Sender interface {
	Send(msg Message) error
}

// SMTPSender delivers through a plain SMTP relay with AUTH.
type SMTPSender struct {
	Addr     string // host:port
	From     string
	Username string
	Password string
}

func (s *SMTPSender) Send(msg Message) error {
	host := s.Addr
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	var auth smtp.Auth
	if s.Username != "" {
		auth = smtp.PlainAuth("", s.Username, s.Password, host)
	}
	raw := fmt.Sprintf("From: Uni-Rides <%s>\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n",
		s.From, msg.To, msg.Subject, msg.Body)
	return smtp.SendMail(s.Addr, auth, s.From, []string{msg.To}, []byte(raw))
}

// LogSender writes mails to the log instead of the network. Used when no
// SMTP relay is configured so local runs still show what would be sent.
type LogSender struct {
	Logger *slog.Logger
}

func (l *LogSender) Send(msg Message) error {
	l.Logger.Info("mail (not sent, no SMTP configured)", "to", msg.To, "subject", msg.Subject, "body", msg.Body)
	return nil
}

// SignupOTP is the verification mail for a new account.
func SignupOTP(fullName, code string) (subject, body string) {
	subject = "Your Uni-Rides Signup Verification Code"
	body = fmt.Sprintf(
		"Hi %s,\n\nWelcome to Uni-Rides! Your verification code is: %s\n\nThis code will expire in 10 minutes. If you didn't request this code, please ignore this email.\n\nBest regards,\nThe Uni-Rides Team\n",
		fullName, code)
	return subject, body
}

// PasswordReset is the mail carrying a password-reset code.
func PasswordReset(fullName, code string) (subject, body string) {
	subject = "Your Uni-Rides Password Reset Code"
	body = fmt.Sprintf(
		"Hi %s,\n\nYour password reset code is: %s\n\nThis code will expire in 10 minutes. If you didn't request a reset, please ignore this email.\n\nBest regards,\nThe Uni-Rides Team\n",
		fullName, code)
	return subject, body
}
