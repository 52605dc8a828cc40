package delivery

import (
	"context"

	logx "reportsched/pkg/logx"
)

// logTransport writes messages to the log instead of sending them.
type logTransport struct{ log logx.Logger }

func (t logTransport) Send(ctx context.Context, m Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.log.Info("dry-run delivery",
		logx.String("to", m.To.Raw),
		logx.String("channel", string(m.To.Channel)),
		logx.String("subject", m.Subject),
		logx.Int("body_bytes", len(m.Body)),
	)
	t.log.Debug("dry-run body", logx.String("body", m.Body))
	return nil
}
