package delivery

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	logx "reportsched/pkg/logx"
)

// Service fans a report out to its recipients.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log     logx.Logger
	cfg     Config
	limiter *rate.Limiter

	email    Transport
	telegram Transport
	dryRun   Transport

	// Injected transports survive Apply.
	fixedEmail    bool
	fixedTelegram bool

	sleep func(ctx context.Context, d time.Duration) error
}

type Option func(*Service)

// WithEmailTransport replaces the SMTP transport.
func WithEmailTransport(t Transport) Option {
	return func(s *Service) { s.email, s.fixedEmail = t, t != nil }
}

// WithTelegramTransport replaces the Telegram transport.
func WithTelegramTransport(t Transport) Option {
	return func(s *Service) { s.telegram, s.fixedTelegram = t, t != nil }
}

func New(cfg Config, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:   log.With(logx.String("comp", "delivery")),
		sleep: sleepCtx,
	}
	s.dryRun = logTransport{log: s.log}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	s.applyLocked(cfg)
	return s
}

// Apply swaps limits and transports at runtime.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 30 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	if cfg.SMTP.Port <= 0 {
		cfg.SMTP.Port = 587
	}

	prev := s.cfg
	s.cfg = cfg
	// Token bucket: burst = rate per sec.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)

	if !s.fixedEmail && (s.email == nil || prev.SMTP != cfg.SMTP) {
		s.email = nil
		if strings.TrimSpace(cfg.SMTP.Host) != "" {
			s.email = newSMTPTransport(cfg.SMTP)
		}
	}
	if !s.fixedTelegram && (s.telegram == nil || prev.Telegram != cfg.Telegram) {
		s.telegram = nil
		if cfg.Telegram.Enabled && strings.TrimSpace(cfg.Telegram.Token) != "" {
			s.telegram = newTelegramTransport(cfg.Telegram)
		}
	}
}

// SendEmail delivers subject and body to every recipient in order.
// The returned error, if any, wraps one *DeliveryError per failed recipient.
func (s *Service) SendEmail(ctx context.Context, to []string, subject, body string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(to) == 0 {
		return &DeliveryError{Err: errors.New("no recipients")}
	}

	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	email, telegram, dry := s.email, s.telegram, s.dryRun
	s.mu.Unlock()

	var errs []error
	for _, raw := range to {
		rcpt, err := ParseRecipient(raw)
		if err != nil {
			errs = append(errs, &DeliveryError{Recipient: raw, Err: err})
			continue
		}

		var tr Transport
		switch {
		case cfg.DryRun:
			tr = dry
		case rcpt.Channel == ChannelTelegram:
			tr = telegram
			if tr == nil {
				err = errors.New("telegram transport not configured")
			}
		default:
			tr = email
			if tr == nil {
				err = errors.New("smtp transport not configured")
			}
		}
		if err != nil {
			errs = append(errs, &DeliveryError{Recipient: raw, Err: err})
			continue
		}

		m := Message{ID: uuid.NewString(), From: cfg.From, To: rcpt, Subject: subject, Body: body}
		if err := s.sendWithRetry(ctx, cfg, lim, tr, m); err != nil {
			errs = append(errs, &DeliveryError{Recipient: raw, Err: err})
		}
	}
	return errors.Join(errs...)
}

func (s *Service) sendWithRetry(ctx context.Context, cfg Config, lim *rate.Limiter, tr Transport, m Message) error {
	maxAttempts := 1 + cfg.RetryMax

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return errors.Join(lastErr, err)
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		err := tr.Send(callCtx, m)
		cancel()
		if err == nil {
			s.log.Debug("message sent", logx.String("to", m.To.Raw), logx.Int("attempt", attempt))
			return nil
		}
		lastErr = err
		s.log.Debug("send failed", logx.String("to", m.To.Raw), logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", maxAttempts))

		if isPermanent(err) || attempt >= maxAttempts {
			break
		}
		if err := s.sleep(ctx, retryDelay(cfg, attempt)); err != nil {
			return errors.Join(lastErr, err)
		}
	}
	return lastErr
}

// retryDelay is the wait before attempt+1: base * 2^(attempt-1), jittered
// by 0.7..1.3 and capped at RetryMaxDelay.
func retryDelay(cfg Config, attempt int) time.Duration {
	base := cfg.RetryBase
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	maxD := cfg.RetryMaxDelay
	if maxD <= 0 {
		maxD = 30 * time.Second
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxD {
			d = maxD
			break
		}
	}
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	if d < 0 {
		return 0
	}
	return min(d, maxD)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
