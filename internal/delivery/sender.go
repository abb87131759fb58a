package delivery

import (
	"context"
	"errors"
	"fmt"
	"html"
	"math/rand/v2"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	gomail "github.com/wneessen/go-mail"

	"github.com/Mutter0815/SegmentMailer/pkg/logx"
)

// NameToken is replaced with the recipient's name in message templates.
const NameToken = "{customer.name}"

type Recipient struct {
	Email string
	Name  string
}

// Sender delivers one message. The body is a template; implementations
// personalize it for the recipient.
type Sender interface {
	Send(ctx context.Context, to Recipient, template, subject string) error
}

func Personalize(template, name string) string {
	return strings.ReplaceAll(template, NameToken, name)
}

// DefaultSMTPTimeout bounds one Send when the sender has no Timeout set.
const DefaultSMTPTimeout = 30 * time.Second

type SMTPSender struct {
	Host     string
	Port     int
	User     string
	Pass     string
	From     string
	FromName string
	// Timeout bounds a whole Send, greeting and DATA included.
	Timeout time.Duration

	dialer net.Dialer
}

func NewSMTPSender(host, port, user, pass, from, fromName string, timeout time.Duration) *SMTPSender {
	p, err := strconv.Atoi(port)
	if err != nil || p <= 0 {
		p = 587
	}
	if from == "" {
		from = user
	}
	if timeout <= 0 {
		timeout = DefaultSMTPTimeout
	}
	return &SMTPSender{
		Host:     host,
		Port:     p,
		User:     user,
		Pass:     pass,
		From:     from,
		FromName: fromName,
		Timeout:  timeout,
	}
}

func (s *SMTPSender) Send(ctx context.Context, to Recipient, template, subject string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultSMTPTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msg, err := s.buildMessage(to, subject, Personalize(template, to.Name))
	if err != nil {
		return err
	}

	var (
		mu    sync.Mutex
		conns []net.Conn
		stops []func() bool
	)
	defer func() {
		mu.Lock()
		defer mu.Unlock()
		for _, stop := range stops {
			stop()
		}
		for _, c := range conns {
			_ = c.Close()
		}
	}()
	// The client reads the greeting without a deadline, so every connection
	// is tied to ctx: the deadline covers slow servers and cancellation
	// closes the socket.
	dial := func(dctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := s.dialer.DialContext(dctx, network, addr)
		if err != nil {
			return nil, err
		}
		if dl, ok := ctx.Deadline(); ok {
			_ = conn.SetDeadline(dl)
		}
		mu.Lock()
		conns = append(conns, conn)
		stops = append(stops, context.AfterFunc(ctx, func() { _ = conn.Close() }))
		mu.Unlock()
		return conn, nil
	}

	opts := []gomail.Option{
		gomail.WithPort(s.Port),
		gomail.WithTLSPolicy(gomail.TLSOpportunistic),
		gomail.WithTimeout(timeout),
		gomail.WithDialContextFunc(dial),
	}
	if s.User != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(s.User),
			gomail.WithPassword(s.Pass),
		)
	}
	client, err := gomail.NewClient(s.Host, opts...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return fmt.Errorf("smtp send to %s: %w", to.Email, cerr)
		}
		return fmt.Errorf("smtp send to %s: %w", to.Email, err)
	}
	return nil
}

func (s *SMTPSender) buildMessage(to Recipient, subject, body string) (*gomail.Msg, error) {
	m := gomail.NewMsg()
	var err error
	if s.FromName != "" {
		err = m.FromFormat(s.FromName, s.From)
	} else {
		err = m.From(s.From)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", s.From, err)
	}
	if to.Name != "" {
		err = m.AddToFormat(to.Name, to.Email)
	} else {
		err = m.To(to.Email)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", to.Email, err)
	}
	m.Subject(subject)
	m.SetDate()
	m.SetBodyString(gomail.TypeTextPlain, body)
	m.AddAlternativeString(gomail.TypeTextHTML,
		"<p>"+strings.ReplaceAll(html.EscapeString(body), "\n", "<br>")+"</p>")
	return m, nil
}

var ErrSimulatedFailure = errors.New("simulated delivery failure")

// SimulatedSender stands in for a mail transport when none is configured.
// It fails a FailureRate share of sends.
type SimulatedSender struct {
	FailureRate float64
	Latency     time.Duration

	rand func() float64
}

func NewSimulatedSender(failureRate float64, latency time.Duration) *SimulatedSender {
	return &SimulatedSender{FailureRate: failureRate, Latency: latency, rand: rand.Float64}
}

func (s *SimulatedSender) Send(ctx context.Context, to Recipient, template, subject string) error {
	if s.Latency > 0 {
		if err := sleepCtx(ctx, s.Latency); err != nil {
			return err
		}
	}
	if s.rand() < s.FailureRate {
		return ErrSimulatedFailure
	}
	logx.Named("sender").Debugw("simulated_send",
		"to", to.Email,
		"subject", subject,
		"body", Personalize(template, to.Name),
	)
	return nil
}
