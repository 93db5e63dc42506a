package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"mime/quotedprintable"
	"net"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"
)

// ErrInvalidMessage is returned for messages that cannot be delivered.
var ErrInvalidMessage = errors.New("invalid message")

// Message is a rendered notification mail.
type Message struct {
	To       string
	Subject  string
	HTMLBody string
}

// Mailer delivers messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPConfig holds the SMTP relay settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Hello    string
	Timeout  time.Duration

	// TLSConfig is the base configuration for STARTTLS. ServerName defaults
	// to Host.
	TLSConfig *tls.Config
}

// SMTPMailer sends messages through an SMTP relay. STARTTLS is used when the
// relay offers it; PLAIN authentication when a username is configured.
type SMTPMailer struct {
	cfg    SMTPConfig
	from   *mail.Address
	logger *slog.Logger
	now    func() time.Time
}

// NewSMTPMailer creates an SMTPMailer.
func NewSMTPMailer(cfg SMTPConfig, logger *slog.Logger) (*SMTPMailer, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("smtp host cannot be empty")
	}
	from, err := mail.ParseAddress(cfg.From)
	if err != nil {
		return nil, fmt.Errorf("invalid sender address: %w", err)
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Hello == "" {
		cfg.Hello = "localhost"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SMTPMailer{
		cfg:    cfg,
		from:   from,
		logger: logger.With("component", "smtp_mailer"),
		now:    time.Now,
	}, nil
}

// Send delivers msg. Connecting is bound to ctx and every SMTP command to the
// configured timeout.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	to, err := mail.ParseAddress(msg.To)
	if err != nil {
		return fmt.Errorf("%w: bad recipient: %v", ErrInvalidMessage, err)
	}
	data, err := m.compose(to, msg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	c, err := m.connect(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	if m.cfg.Username != "" {
		if err := c.Auth(sasl.NewPlainClient("", m.cfg.Username, m.cfg.Password)); err != nil {
			return fmt.Errorf("smtp authentication failed: %w", err)
		}
	}
	if err := c.SendMail(m.from.Address, []string{to.Address}, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to send mail: %w", err)
	}
	if err := c.Quit(); err != nil {
		m.logger.Debug("smtp quit failed", "error", err)
	}
	return nil
}

// connect opens an SMTP session. The capabilities are read on a first
// session; when the relay offers STARTTLS a second session is opened and
// upgraded before any other command.
func (m *SMTPMailer) connect(ctx context.Context) (*smtp.Client, error) {
	conn, err := m.dial(ctx)
	if err != nil {
		return nil, err
	}
	c := m.newClient(smtp.NewClient(conn))
	if err := c.Hello(m.cfg.Hello); err != nil {
		c.Close()
		return nil, fmt.Errorf("smtp hello failed: %w", err)
	}
	if ok, _ := c.Extension("STARTTLS"); !ok {
		return c, nil
	}
	if err := c.Quit(); err != nil {
		c.Close()
	}

	conn, err = m.dial(ctx)
	if err != nil {
		return nil, err
	}
	tc, err := smtp.NewClientStartTLS(conn, m.tlsConfig())
	if err != nil {
		return nil, fmt.Errorf("smtp starttls failed: %w", err)
	}
	return m.newClient(tc), nil
}

func (m *SMTPMailer) dial(ctx context.Context) (net.Conn, error) {
	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to smtp relay: %w", err)
	}
	return conn, nil
}

func (m *SMTPMailer) newClient(c *smtp.Client) *smtp.Client {
	c.CommandTimeout = m.cfg.Timeout
	c.SubmissionTimeout = m.cfg.Timeout
	return c
}

func (m *SMTPMailer) tlsConfig() *tls.Config {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if m.cfg.TLSConfig != nil {
		cfg = m.cfg.TLSConfig.Clone()
	}
	if cfg.ServerName == "" {
		cfg.ServerName = m.cfg.Host
	}
	return cfg
}

// compose builds the RFC 5322 message with a quoted-printable HTML body.
func (m *SMTPMailer) compose(to *mail.Address, msg Message) ([]byte, error) {
	if strings.ContainsAny(msg.Subject, "\r\n") {
		return nil, fmt.Errorf("%w: subject contains a line break", ErrInvalidMessage)
	}

	var buf bytes.Buffer
	headers := [][2]string{
		{"From", m.from.String()},
		{"To", to.String()},
		{"Subject", mime.QEncoding.Encode("utf-8", msg.Subject)},
		{"Date", m.now().Format(time.RFC1123Z)},
		{"Message-ID", "<" + uuid.NewString() + "@" + m.cfg.Hello + ">"},
		{"MIME-Version", "1.0"},
		{"Content-Type", "text/html; charset=utf-8"},
		{"Content-Transfer-Encoding", "quoted-printable"},
	}
	for _, h := range headers {
		fmt.Fprintf(&buf, "%s: %s\r\n", h[0], h[1])
	}
	buf.WriteString("\r\n")

	qp := quotedprintable.NewWriter(&buf)
	if _, err := qp.Write([]byte(msg.HTMLBody)); err != nil {
		return nil, fmt.Errorf("failed to encode body: %w", err)
	}
	if err := qp.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode body: %w", err)
	}
	buf.WriteString("\r\n")
	return buf.Bytes(), nil
}

// NopMailer drops messages. It is used when mail delivery is disabled.
type NopMailer struct {
	logger *slog.Logger
}

// NewNopMailer creates a NopMailer.
func NewNopMailer(logger *slog.Logger) *NopMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &NopMailer{logger: logger}
}

// Send logs and drops msg.
func (m *NopMailer) Send(_ context.Context, msg Message) error {
	m.logger.Info("mail delivery disabled, message dropped", "subject", msg.Subject)
	return nil
}
