package delivery

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// Sender delivers a single message
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// DeliveryError describes a failed delivery
type DeliveryError struct {
	Temporary bool
	Stage     string
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// IsTemporaryError reports whether err may succeed on retry. Unknown
// errors count as temporary.
func IsTemporaryError(err error) bool {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Temporary
	}
	return true
}

// SMTPOptions configures the relay
type SMTPOptions struct {
	Host       string
	Port       int
	Username   string
	Password   string
	Hostname   string
	Timeout    time.Duration
	RequireTLS bool
	TLSConfig  *tls.Config
}

// SMTPSender relays messages through a smarthost
type SMTPSender struct {
	opts   SMTPOptions
	signer *Signer
	logger *slog.Logger
}

// NewSMTPSender creates a relay sender. signer may be nil.
func NewSMTPSender(opts SMTPOptions, signer *Signer, logger *slog.Logger) *SMTPSender {
	if opts.Port == 0 {
		opts.Port = 587
	}
	if opts.Hostname == "" {
		opts.Hostname = "localhost"
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SMTPSender{opts: opts, signer: signer, logger: logger}
}

// Send builds, optionally signs and relays msg
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	data, err := Build(msg)
	if err != nil {
		return &DeliveryError{Stage: "build", Err: err}
	}

	if s.signer != nil {
		signed, err := s.signer.Sign(data)
		if err != nil {
			s.logger.Warn("DKIM signing failed, sending unsigned",
				"domain", s.signer.Domain(),
				"error", err,
			)
		} else {
			data = signed
		}
	}

	from := ExtractAddress(msg.From)
	to := ExtractAddress(msg.To)

	client, release, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer release()
	defer client.Close()

	if s.opts.Username != "" {
		if err := client.Auth(sasl.NewPlainClient("", s.opts.Username, s.opts.Password)); err != nil {
			return categorize(err, "AUTH")
		}
	}

	if err := client.Mail(from, nil); err != nil {
		return categorize(err, "MAIL FROM")
	}
	if err := client.Rcpt(to, nil); err != nil {
		return categorize(err, "RCPT TO")
	}

	wc, err := client.Data()
	if err != nil {
		return categorize(err, "DATA")
	}
	if _, err := wc.Write(data); err != nil {
		wc.Close()
		return &DeliveryError{Temporary: true, Stage: "DATA", Err: err}
	}
	if err := wc.Close(); err != nil {
		return categorize(err, "DATA close")
	}

	client.Quit()

	s.logger.Info("message relayed", "host", s.opts.Host, "from", from, "to", to)
	return nil
}

// connect opens a greeted session, upgrading with STARTTLS when the relay
// offers it. Without RequireTLS a failed upgrade or handshake falls back
// to a plain session on a fresh connection. release detaches the
// connection from ctx.
func (s *SMTPSender) connect(ctx context.Context) (client *smtp.Client, release func(), err error) {
	tlsConfig := s.opts.TLSConfig
	if tlsConfig == nil {
		tlsConfig = &tls.Config{ServerName: s.opts.Host, MinVersion: tls.VersionTLS12}
	}

	conn, stop, err := s.dial(ctx)
	if err != nil {
		return nil, nil, err
	}
	client, err = smtp.NewClientStartTLS(conn, tlsConfig)
	if err == nil {
		s.applyTimeouts(client)
		// the TLS handshake runs with the first command after STARTTLS
		if err = client.Hello(s.opts.Hostname); err == nil {
			return client, stop, nil
		}
		client.Close()
	}
	stop()
	if s.opts.RequireTLS {
		return nil, nil, categorize(err, "STARTTLS")
	}
	s.logger.Warn("STARTTLS unavailable, continuing without encryption", "host", s.opts.Host, "error", err)

	conn, stop, err = s.dial(ctx)
	if err != nil {
		return nil, nil, err
	}
	client = smtp.NewClient(conn)
	s.applyTimeouts(client)
	if err := client.Hello(s.opts.Hostname); err != nil {
		client.Close()
		stop()
		return nil, nil, categorize(err, "HELO")
	}
	return client, stop, nil
}

// dial connects to the relay. The connection is closed if ctx ends
// before the returned stop is called.
func (s *SMTPSender) dial(ctx context.Context) (net.Conn, func(), error) {
	addr := net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))
	dialer := &net.Dialer{Timeout: s.opts.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, nil, &DeliveryError{Temporary: true, Stage: "connect", Err: err}
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	return conn, func() { stop() }, nil
}

// applyTimeouts bounds each command and the DATA transfer
func (s *SMTPSender) applyTimeouts(client *smtp.Client) {
	client.CommandTimeout = s.opts.Timeout
	client.SubmissionTimeout = s.opts.Timeout
}

// categorize marks 5xx replies permanent and everything else temporary
func categorize(err error, stage string) *DeliveryError {
	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		return &DeliveryError{Temporary: smtpErr.Code < 500, Stage: stage, Err: err}
	}
	return &DeliveryError{Temporary: true, Stage: stage, Err: err}
}

// LogSender logs messages instead of sending them
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a dry-run sender
func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	if _, err := Build(msg); err != nil {
		return &DeliveryError{Stage: "build", Err: err}
	}
	s.logger.Info("dry-run message",
		"from", msg.From,
		"to", msg.To,
		"subject", msg.Subject,
		"body_bytes", len(msg.Body),
	)
	return nil
}
