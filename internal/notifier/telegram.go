package notifier

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/soyjavierquiroz/sentinel/internal/utils"
)

const defaultAPIBase = "https://api.telegram.org"

type TelegramNotifier struct {
	Token   string
	ChatID  string
	APIBase string
	Retries int
	Delay   time.Duration

	client *http.Client
}

func NewTelegramNotifier(token, chatID string, retries int, delay time.Duration) *TelegramNotifier {
	return &TelegramNotifier{
		Token:   token,
		ChatID:  chatID,
		APIBase: defaultAPIBase,
		Retries: retries,
		Delay:   delay,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TelegramNotifier) Send(message string) error {
	apiURL := fmt.Sprintf("%s/bot%s/sendMessage", t.APIBase, t.Token)
	resp, err := t.client.PostForm(apiURL, url.Values{
		"chat_id": {t.ChatID},
		"text":    {message},
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return fmt.Errorf("telegram send failed: %s", resp.Status)
	}
	return nil
}

// SendWithRetry attempts delivery up to Retries times with a fixed delay.
func (t *TelegramNotifier) SendWithRetry(message string) error {
	attempts := t.Retries
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if lastErr = t.Send(message); lastErr == nil {
			return nil
		}
		utils.GetLogger().Printf("Notifier | Telegram attempt %d/%d failed: %v", i+1, attempts, lastErr)
		if i < attempts-1 {
			time.Sleep(t.Delay)
		}
	}
	return lastErr
}

// ReadSecret loads a credential from a secret file path (docker secrets
// style), trimming surrounding whitespace.
func ReadSecret(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read secret file %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}
