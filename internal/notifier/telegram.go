// Package notifier delivers emitted offers through the Telegram bot API.
package notifier

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/vtudose/olx-watch-bot/internal/models"
)

const defaultAPIBase = "https://api.telegram.org"

type Client struct {
	apiBase string
	token   string
	chatID  string
	client  *http.Client
}

func New(token, chatID string) *Client {
	return &Client{
		apiBase: defaultAPIBase,
		token:   token,
		chatID:  chatID,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts one offer to the configured chat. With no token or chat
// configured delivery is skipped silently; config warned about it at startup.
func (c *Client) Send(ctx context.Context, n models.Notification) error {
	if c.token == "" || c.chatID == "" {
		return nil
	}

	price := n.Price
	if price == "" {
		price = "no price"
	}
	text := fmt.Sprintf("🆕 %s – %s\n%s", n.Title, price, n.Link)

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", c.apiBase, c.token)
	params := url.Values{}
	params.Set("chat_id", c.chatID)
	params.Set("text", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("creating telegram request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending telegram message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("telegram status %s: %s", resp.Status, string(body))
	}

	slog.Debug("Notification sent", "id", n.ID, "category", n.Category)
	return nil
}
