package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrDelivery = errors.New("delivery failed")

// DeliveryError reports a recipient that could not be reached.
// It matches ErrDelivery.
type DeliveryError struct {
	Recipient string
	Err       error
}

func (e *DeliveryError) Error() string {
	if e.Recipient == "" {
		return fmt.Sprintf("%v: %v", ErrDelivery, e.Err)
	}
	return fmt.Sprintf("%v: %s: %v", ErrDelivery, e.Recipient, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

func (e *DeliveryError) Is(target error) bool { return target == ErrDelivery }

// Config controls the delivery pipeline.
type Config struct {
	DryRun        bool
	From          string
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	SendTimeout   time.Duration
	SMTP          SMTPConfig
	Telegram      TelegramConfig
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
}

type TelegramConfig struct {
	Enabled bool
	Token   string
}

// Message is one rendered report addressed to a single recipient.
// ID is fixed across retries of the same delivery.
type Message struct {
	ID      string
	From    string
	To      Recipient
	Subject string
	Body    string
}

// Transport delivers a message over one channel.
type Transport interface {
	Send(ctx context.Context, m Message) error
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

func isPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}
