package delivery

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	tele "gopkg.in/telebot.v4"
)

// Telegram caps a text message at 4096 UTF-16 code units. splitText counts
// runes, so chunks stop at 4000 to leave room for characters outside the
// BMP, which count twice.
const telegramMaxText = 4000

// Chunk progress of a failed message is dropped after this long.
const telegramProgressTTL = time.Hour

// telegramBot is the part of *tele.Bot the transport calls.
type telegramBot interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

type progress struct {
	sent int
	at   time.Time
}

type telegramTransport struct {
	cfg TelegramConfig
	now func() time.Time

	mu  sync.Mutex
	bot telegramBot
	// Chunks already delivered per Message.ID, so a retry resumes
	// instead of posting the head of a long report twice.
	progress map[string]progress
}

func newTelegramTransport(cfg TelegramConfig) *telegramTransport {
	return &telegramTransport{cfg: cfg, now: time.Now, progress: map[string]progress{}}
}

// client creates the bot on first use; NewBot calls getMe.
func (t *telegramTransport) client() (telegramBot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bot != nil {
		return t.bot, nil
	}
	b, err := tele.NewBot(tele.Settings{Token: t.cfg.Token})
	if err != nil {
		return nil, err
	}
	t.bot = b
	return b, nil
}

func (t *telegramTransport) Send(ctx context.Context, m Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	bot, err := t.client()
	if err != nil {
		return err
	}
	chat := &tele.Chat{ID: m.To.ChatID}
	opt := &tele.SendOptions{DisableWebPagePreview: true, ThreadID: m.To.ThreadID}

	parts := splitText(formatTelegram(m), telegramMaxText)
	for i := t.resume(m.ID); i < len(parts); i++ {
		if err := ctx.Err(); err != nil {
			t.record(m.ID, i)
			return err
		}
		if _, err := bot.Send(chat, parts[i], opt); err != nil {
			t.record(m.ID, i)
			return err
		}
	}
	t.record(m.ID, 0)
	return nil
}

// resume returns how many chunks of message id were already delivered.
func (t *telegramTransport) resume(id string) int {
	if id == "" {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress[id].sent
}

// record stores the delivered chunk count of a failed send, or forgets
// the message when sent is zero. Stale entries are pruned on the way.
func (t *telegramTransport) record(id string, sent int) {
	if id == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	for k, p := range t.progress {
		if now.Sub(p.at) > telegramProgressTTL {
			delete(t.progress, k)
		}
	}
	if sent == 0 {
		delete(t.progress, id)
		return
	}
	t.progress[id] = progress{sent: sent, at: now}
}

func formatTelegram(m Message) string {
	subject := strings.TrimSpace(m.Subject)
	if subject == "" {
		return m.Body
	}
	return subject + "\n\n" + m.Body
}

// splitText cuts s into chunks of at most maxRunes, preferring line breaks.
func splitText(s string, maxRunes int) []string {
	if utf8.RuneCountInString(s) <= maxRunes {
		return []string{s}
	}
	var out []string
	for utf8.RuneCountInString(s) > maxRunes {
		cut := byteOffset(s, maxRunes)
		if nl := strings.LastIndexByte(s[:cut], '\n'); nl > 0 {
			cut = nl + 1
		}
		out = append(out, strings.TrimRight(s[:cut], "\n"))
		s = s[cut:]
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}

func byteOffset(s string, runes int) int {
	n := 0
	for i := range s {
		if n == runes {
			return i
		}
		n++
	}
	return len(s)
}
