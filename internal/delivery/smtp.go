package delivery

import (
	"context"
	"errors"
	"fmt"
	stdmail "net/mail"
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/wneessen/go-mail"
)

type smtpTransport struct {
	cfg SMTPConfig
	now func() time.Time
}

func newSMTPTransport(cfg SMTPConfig) *smtpTransport {
	return &smtpTransport{cfg: cfg, now: time.Now}
}

func (t *smtpTransport) Send(ctx context.Context, m Message) error {
	msg, err := buildMessage(m, t.now())
	if err != nil {
		return Permanent(err)
	}
	c, err := t.client()
	if err != nil {
		return Permanent(err)
	}
	return classifySMTP(c.DialAndSendWithContext(ctx, msg))
}

// client builds a fresh client per message. Port 465 is implicit TLS;
// other ports upgrade with STARTTLS when the server offers it.
func (t *smtpTransport) client() (*mail.Client, error) {
	opts := []mail.Option{
		mail.WithPort(t.cfg.Port),
		mail.WithTimeout(10 * time.Second),
	}
	if t.cfg.Port == 465 {
		opts = append(opts, mail.WithSSL())
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}
	if t.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(t.cfg.Username),
			mail.WithPassword(t.cfg.Password),
		)
	}
	return mail.NewClient(t.cfg.Host, opts...)
}

// classifySMTP marks rejected envelopes and 5xx replies as permanent.
func classifySMTP(err error) error {
	if err == nil {
		return nil
	}
	var se *mail.SendError
	if errors.As(err, &se) && !se.IsTemp() {
		switch se.Reason {
		case mail.ErrSMTPMailFrom, mail.ErrSMTPRcptTo, mail.ErrSMTPData:
			return Permanent(err)
		}
	}
	var te *textproto.Error
	if errors.As(err, &te) && te.Code >= 500 {
		return Permanent(err)
	}
	return err
}

func buildMessage(m Message, now time.Time) (*mail.Msg, error) {
	if m.To.Address == "" {
		return nil, errors.New("recipient has no email address")
	}
	from, err := stdmail.ParseAddress(m.From)
	if err != nil {
		return nil, fmt.Errorf("invalid from address %q: %w", m.From, err)
	}
	domain := "localhost"
	if at := strings.LastIndexByte(from.Address, '@'); at >= 0 {
		domain = from.Address[at+1:]
	}

	msg := mail.NewMsg()
	if err := msg.FromFormat(from.Name, from.Address); err != nil {
		return nil, fmt.Errorf("from: %w", err)
	}
	if err := msg.To(m.To.Address); err != nil {
		return nil, fmt.Errorf("to: %w", err)
	}
	msg.Subject(m.Subject)
	msg.SetDateWithValue(now)
	msg.SetMessageIDWithValue(uuid.NewString() + "@" + domain)
	msg.SetBodyString(mail.TypeTextPlain, m.Body)
	return msg, nil
}
