// Package notify sends run notifications to Telegram. Notification
// failures are logged and swallowed so a chat outage never fails a run.
package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"vnflow/logger"
)

// Telegram posts messages to a single chat via the bot API.
type Telegram struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	log      *logger.Log
}

// NewTelegram reads credentials from the given values; when either is
// empty the notifier is disabled and Send becomes a no-op.
func NewTelegram(botToken, chatID string) *Telegram {
	return &Telegram{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  "https://api.telegram.org",
		client:   &http.Client{Timeout: 10 * time.Second},
		log:      logger.GetLogger(),
	}
}

// Enabled reports whether credentials were provided.
func (t *Telegram) Enabled() bool {
	return t.botToken != "" && t.chatID != ""
}

// Send delivers one message. Errors are returned for tests but callers
// are expected to log and continue.
func (t *Telegram) Send(ctx context.Context, text string) error {
	if !t.Enabled() {
		return nil
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)
	form := url.Values{}
	form.Set("chat_id", t.chatID)
	form.Set("text", text)
	form.Set("parse_mode", "Markdown")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		t.log.WithComponent("notify").WithError(err).Warn("telegram send failed")
		return fmt.Errorf("send telegram message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("telegram API returned %s", resp.Status)
		t.log.WithComponent("notify").WithError(err).Warn("telegram send rejected")
		return err
	}
	return nil
}

// RunMessage formats the standard end-of-run notification.
func RunMessage(date string, succeeded, failed, cancelled int, stale bool) string {
	status := "✅"
	if failed > 0 || cancelled > 0 {
		status = "⚠️"
	}
	msg := fmt.Sprintf("%s *vnflow* run %s\nsucceeded: %d\nfailed: %d\ncancelled: %d",
		status, date, succeeded, failed, cancelled)
	if stale {
		msg += "\nuniverse: stale fallback"
	}
	return msg
}
