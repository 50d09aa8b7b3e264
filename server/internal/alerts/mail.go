package alerts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// Mail delivers batches as plain-text e-mail over SMTP.
type Mail struct {
	addr     string
	from     string
	to       []string
	username string
	password string
	now      func() time.Time
}

// NewMail returns a mail notifier. PLAIN authentication is used when username
// is set.
func NewMail(addr, from string, to []string, username, password string) (*Mail, error) {
	if addr == "" || from == "" || len(to) == 0 {
		return nil, errors.New("alerts: mail needs addr, from and at least one recipient")
	}
	return &Mail{
		addr:     addr,
		from:     from,
		to:       to,
		username: username,
		password: password,
		now:      time.Now,
	}, nil
}

func (m *Mail) Name() string { return "mail" }

func (m *Mail) Notify(ctx context.Context, b *Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var auth sasl.Client
	if m.username != "" {
		auth = sasl.NewPlainClient("", m.username, m.password)
	}
	msg := m.message(b)
	if err := smtp.SendMail(m.addr, auth, m.from, m.to, strings.NewReader(msg)); err != nil {
		return errors.Wrapf(err, "send mail via %s", m.addr)
	}
	return nil
}

func (m *Mail) message(b *Batch) string {
	subject := fmt.Sprintf("NAS alerts: %d new, %d cleared", len(b.New), len(b.Gone))
	if len(b.New) == 1 && len(b.Gone) == 0 {
		subject = fmt.Sprintf("%s: %s", b.New[0].Level, b.New[0].Title())
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "From: %s\r\n", m.from)
	fmt.Fprintf(&sb, "To: %s\r\n", strings.Join(m.to, ", "))
	fmt.Fprintf(&sb, "Subject: %s\r\n", subject)
	fmt.Fprintf(&sb, "Date: %s\r\n", m.now().Format(time.RFC1123Z))
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")

	if len(b.New) > 0 {
		sb.WriteString("New alerts:\r\n")
		for _, a := range b.New {
			fmt.Fprintf(&sb, "* %s - %s\r\n", a.Level, a.Formatted())
		}
		sb.WriteString("\r\n")
	}
	if len(b.Gone) > 0 {
		sb.WriteString("Alerts that were cleared:\r\n")
		for _, a := range b.Gone {
			fmt.Fprintf(&sb, "* %s - %s\r\n", a.Level, a.Formatted())
		}
	}
	return sb.String()
}
