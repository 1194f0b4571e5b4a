package delivery

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"time"
)

// Sender transmits a composed message.
type Sender interface {
	Send(ctx context.Context, from string, to []string, msg []byte) error
}

// SMTPError records the SMTP step that failed.
type SMTPError struct {
	Step string
	Err  error
}

func (e *SMTPError) Error() string {
	return fmt.Sprintf("smtp %s: %v", e.Step, e.Err)
}

func (e *SMTPError) Unwrap() error {
	return e.Err
}

const (
	StepConnect  = "connect"
	StepStartTLS = "starttls"
	StepAuth     = "auth"
	StepEnvelope = "envelope"
	StepData     = "data"
)

// SMTPSender delivers mail through an SMTP submission server.
type SMTPSender struct {
	Host     string
	Port     int
	Username string
	Password string
	StartTLS bool
	Timeout  time.Duration
	// TLSConfig overrides the STARTTLS configuration.
	TLSConfig *tls.Config
}

// Send opens a connection, optionally upgrades it with STARTTLS, authenticates
// with PLAIN when credentials are set, and transmits msg. The whole exchange
// is bounded by ctx and Timeout.
func (s *SMTPSender) Send(ctx context.Context, from string, to []string, msg []byte) error {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	addr := net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
	dialer := &net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return &SMTPError{Step: StepConnect, Err: err}
	}
	defer func() { _ = conn.Close() }()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	client, err := smtp.NewClient(conn, s.Host)
	if err != nil {
		return &SMTPError{Step: StepConnect, Err: err}
	}
	defer func() { _ = client.Close() }()

	if s.StartTLS {
		tlsConfig := s.TLSConfig
		if tlsConfig == nil {
			tlsConfig = &tls.Config{ServerName: s.Host, MinVersion: tls.VersionTLS12}
		}
		if err := client.StartTLS(tlsConfig); err != nil {
			return &SMTPError{Step: StepStartTLS, Err: err}
		}
	}

	if s.Username != "" && s.Password != "" {
		auth := smtp.PlainAuth("", s.Username, s.Password, s.Host)
		if err := client.Auth(auth); err != nil {
			return &SMTPError{Step: StepAuth, Err: err}
		}
	}

	if err := client.Mail(from); err != nil {
		return &SMTPError{Step: StepEnvelope, Err: err}
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return &SMTPError{Step: StepEnvelope, Err: err}
		}
	}

	writer, err := client.Data()
	if err != nil {
		return &SMTPError{Step: StepData, Err: err}
	}
	if _, err := writer.Write(msg); err != nil {
		return &SMTPError{Step: StepData, Err: err}
	}
	if err := writer.Close(); err != nil {
		return &SMTPError{Step: StepData, Err: err}
	}

	// The message is accepted once DATA closes; a failed QUIT is not a
	// delivery failure.
	_ = client.Quit()
	return nil
}
