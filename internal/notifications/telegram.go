package notifications

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// TelegramNotifier sends alerts to a Telegram chat. A CloseFailed alert
// reaching an operator within seconds is the whole point of this channel,
// so delivery failures are logged loudly but never block the caller's
// trading path.
type TelegramNotifier struct {
	token  string
	chatID string
	http   *http.Client
	log    zerolog.Logger
}

func NewTelegramNotifier(token, chatID string, log zerolog.Logger) *TelegramNotifier {
	return &TelegramNotifier{
		token:  token,
		chatID: chatID,
		http:   &http.Client{Timeout: 10 * time.Second},
		log:    log.With().Str("component", "telegram").Logger(),
	}
}

func (t *TelegramNotifier) SendAlert(level Level, message string) error {
	emoji := "ℹ️"
	switch level {
	case LevelWarning:
		emoji = "⚠️"
	case LevelError:
		emoji = "🚨"
	case LevelSuccess:
		emoji = "✅"
	}

	text := fmt.Sprintf("%s *Stock Trader Alert*\n\n%s", emoji, message)

	apiURL := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.token)

	data := url.Values{}
	data.Set("chat_id", t.chatID)
	data.Set("text", text)
	data.Set("parse_mode", "Markdown")

	resp, err := t.http.Post(apiURL, "application/x-www-form-urlencoded",
		strings.NewReader(data.Encode()))
	if err != nil {
		t.log.Error().Err(err).Msg("telegram delivery failed")
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("telegram API returned status %d", resp.StatusCode)
		t.log.Error().Err(err).Msg("telegram delivery rejected")
		return err
	}
	return nil
}
