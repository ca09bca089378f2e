package mail_smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/davarch/ci-reconciler/internal/domain"
	"github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

const DefaultPort = 587

var ErrNoTransport = errors.New("smtp: no working transport")

type Settings struct {
	Server  string
	User    string
	Pass    string
	From    string
	To      string
	Timeout time.Duration
}

// transport is one connection strategy tried during autoconfiguration.
type transport struct {
	name string
	opts []mail.Option
}

type Mailer struct {
	log  *zap.Logger
	from string
	to   []string
	host string
	port int
	auth []mail.Option
	via  transport
}

// New validates s and probes the server until one transport connects, in order:
// implicit TLS, STARTTLS, STARTTLS without certificate checks, plaintext.
func New(ctx context.Context, s Settings, log *zap.Logger) (*Mailer, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}

	host, port, err := splitServerPort(s.Server)
	if err != nil {
		return nil, err
	}

	m := &Mailer{
		log:  log,
		from: strings.TrimSpace(s.From),
		to:   splitList(s.To),
		host: host,
		port: port,
	}

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	m.auth = []mail.Option{mail.WithPort(port), mail.WithTimeout(timeout)}

	for _, t := range m.transports(s) {
		c, err := mail.NewClient(host, append(append([]mail.Option{}, m.auth...), t.opts...)...)
		if err != nil {
			log.Debug("smtp transport rejected", zap.String("transport", t.name), zap.Error(err))
			continue
		}
		if err := c.DialWithContext(ctx); err != nil {
			log.Debug("smtp transport failed", zap.String("transport", t.name), zap.Error(err))
			continue
		}
		_ = c.Close()

		m.via = t
		log.Info("smtp transport selected", zap.String("server", s.Server), zap.String("transport", t.name))
		return m, nil
	}

	return nil, fmt.Errorf("%w for %s", ErrNoTransport, s.Server)
}

func (m *Mailer) Transport() string { return m.via.name }

func (m *Mailer) transports(s Settings) []transport {
	creds := func(auth mail.SMTPAuthType) []mail.Option {
		if s.User == "" {
			return nil
		}
		return []mail.Option{mail.WithSMTPAuth(auth), mail.WithUsername(s.User), mail.WithPassword(s.Pass)}
	}

	return []transport{
		{name: "ssl", opts: append([]mail.Option{mail.WithSSL(), mail.WithTLSConfig(&tls.Config{ServerName: m.host})}, creds(mail.SMTPAuthPlain)...)},
		{name: "starttls", opts: append([]mail.Option{mail.WithTLSPolicy(mail.TLSOpportunistic), mail.WithTLSConfig(&tls.Config{ServerName: m.host})}, creds(mail.SMTPAuthPlain)...)},
		{name: "starttls-insecure", opts: append([]mail.Option{mail.WithTLSPolicy(mail.TLSOpportunistic), mail.WithTLSConfig(&tls.Config{ServerName: m.host, InsecureSkipVerify: true})}, creds(mail.SMTPAuthPlain)...)},
		{name: "plain", opts: append([]mail.Option{mail.WithTLSPolicy(mail.NoTLS)}, creds(mail.SMTPAuthPlainNoEnc)...)},
	}
}

func (m *Mailer) Send(ctx context.Context, msg domain.Message) error {
	out, err := m.build(msg)
	if err != nil {
		return err
	}

	c, err := mail.NewClient(m.host, append(append([]mail.Option{}, m.auth...), m.via.opts...)...)
	if err != nil {
		return err
	}
	if err := c.DialAndSendWithContext(ctx, out); err != nil {
		return fmt.Errorf("send %q: %w", msg.Subject, err)
	}
	return nil
}

func (m *Mailer) build(msg domain.Message) (*mail.Msg, error) {
	out := mail.NewMsg()
	if err := out.From(m.from); err != nil {
		return nil, err
	}

	to := msg.To
	if len(to) == 0 {
		to = m.to
	}
	if err := out.To(to...); err != nil {
		m.log.Warn("invalid recipient, using configured list", zap.Strings("to", to), zap.Error(err))
		if err := out.To(m.to...); err != nil {
			return nil, err
		}
	}

	out.Subject(msg.Subject)
	out.SetBodyString(mail.TypeTextHTML, msg.HTML)
	return out, nil
}

func (s Settings) validate() error {
	var errs []error

	if strings.TrimSpace(s.Server) == "" {
		errs = append(errs, errors.New("smtp server is empty"))
	}
	if (s.User == "") != (s.Pass == "") {
		errs = append(errs, errors.New("smtp user and pass must be set together"))
	}

	probe := mail.NewMsg()
	if err := probe.From(strings.TrimSpace(s.From)); err != nil {
		errs = append(errs, fmt.Errorf("smtp from: %w", err))
	}
	to := splitList(s.To)
	if len(to) == 0 {
		errs = append(errs, errors.New("smtp to is empty"))
	} else if err := probe.To(to...); err != nil {
		errs = append(errs, fmt.Errorf("smtp to: %w", err))
	}

	return errors.Join(errs...)
}

func splitServerPort(server string) (string, int, error) {
	server = strings.TrimSpace(server)
	if !strings.Contains(server, ":") {
		return server, DefaultPort, nil
	}

	host, p, err := net.SplitHostPort(server)
	if err != nil {
		return "", 0, fmt.Errorf("smtp server %q: %w", server, err)
	}
	port, err := strconv.Atoi(p)
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, fmt.Errorf("smtp server %q: invalid port", server)
	}
	return host, port, nil
}

func splitList(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
