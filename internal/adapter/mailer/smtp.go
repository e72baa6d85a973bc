package mailer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/pricewatch/internal/obs"
	"github.com/rl1809/pricewatch/internal/port"
)

var ErrNoRecipients = errors.New("no recipients")

type Options struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type SMTPTransport struct {
	addr string
	host string
	auth smtp.Auth
	from string
	send sendFunc
	now  func() time.Time
}

func NewSMTPTransport(opts Options) *SMTPTransport {
	var auth smtp.Auth
	if opts.Username != "" {
		auth = smtp.PlainAuth("", opts.Username, opts.Password, opts.Host)
	}
	return &SMTPTransport{
		addr: net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port)),
		host: opts.Host,
		auth: auth,
		from: opts.From,
		send: smtp.SendMail,
		now:  time.Now,
	}
}

// Send delivers msg as a single SMTP transaction. Subscribers only appear in
// the envelope so they never see each other's addresses.
func (t *SMTPTransport) Send(ctx context.Context, recipients []string, msg port.Message) error {
	if len(recipients) == 0 {
		return ErrNoRecipients
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	raw := t.buildMessage(msg)
	done := make(chan error, 1)
	go func() {
		done <- t.send(t.addr, t.auth, t.from, recipients, raw)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send via %s: %w", t.addr, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("smtp send via %s: %w: %w", t.addr, port.ErrDeliveryUnknown, ctx.Err())
	}
}

func (t *SMTPTransport) buildMessage(msg port.Message) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", t.from)
	fmt.Fprintf(&b, "To: %s\r\n", t.from)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&b, "Date: %s\r\n", t.now().Format(time.RFC1123Z))
	fmt.Fprintf(&b, "Message-ID: <%s@%s>\r\n", uuid.NewString(), t.host)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n")
	b.WriteString("\r\n")
	body := strings.ReplaceAll(msg.Body, "\r\n", "\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return b.Bytes()
}

// LogTransport records messages in the log instead of sending them. It is
// used when no SMTP host is configured.
type LogTransport struct{}

func (LogTransport) Send(ctx context.Context, recipients []string, msg port.Message) error {
	if len(recipients) == 0 {
		return ErrNoRecipients
	}
	obs.Logger.Info("mail_not_sent",
		"reason", "smtp not configured",
		"recipients", len(recipients),
		"subject", msg.Subject,
	)
	return nil
}
