package delivery

import (
	"errors"
	"fmt"
	"net/mail"
	"strconv"
	"strings"
)

type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelTelegram Channel = "telegram"
)

const telegramScheme = "telegram:"

// Recipient is a parsed delivery address.
type Recipient struct {
	Raw     string
	Channel Channel

	Address string // email

	ChatID   int64 // telegram
	ThreadID int
}

func (r Recipient) String() string { return r.Raw }

// ParseRecipient classifies a raw recipient string.
func ParseRecipient(s string) (Recipient, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return Recipient{}, errors.New("empty recipient")
	}
	if len(raw) >= len(telegramScheme) && strings.EqualFold(raw[:len(telegramScheme)], telegramScheme) {
		return parseTelegram(raw)
	}
	addr, err := mail.ParseAddress(raw)
	if err != nil {
		return Recipient{}, fmt.Errorf("invalid email %q: %w", raw, err)
	}
	return Recipient{Raw: raw, Channel: ChannelEmail, Address: addr.Address}, nil
}

func parseTelegram(raw string) (Recipient, error) {
	rest := strings.TrimSpace(raw[len(telegramScheme):])
	chatPart, threadPart, hasThread := strings.Cut(rest, "/")
	chatID, err := strconv.ParseInt(strings.TrimSpace(chatPart), 10, 64)
	if err != nil || chatID == 0 {
		return Recipient{}, fmt.Errorf("invalid telegram chat id in %q", raw)
	}
	r := Recipient{Raw: raw, Channel: ChannelTelegram, ChatID: chatID}
	if hasThread {
		tid, err := strconv.Atoi(strings.TrimSpace(threadPart))
		if err != nil || tid <= 0 {
			return Recipient{}, fmt.Errorf("invalid telegram thread id in %q", raw)
		}
		r.ThreadID = tid
	}
	return r, nil
}
