package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"liqx-bot/internal/config"
	"liqx-bot/internal/domain"

	"go.uber.org/zap"
)

const telegramBaseURL = "https://api.telegram.org"

// ErrDisabled is returned by calls that need a reply from the bot API while
// telegram is switched off.
var ErrDisabled = errors.New("telegram disabled")

type Telegram struct {
	enabled bool
	token   string
	chatID  string
	baseURL string
	client  *http.Client
	log     *zap.Logger
}

func NewTelegram(cfg config.TelegramConfig, log *zap.Logger) *Telegram {
	return newTelegram(cfg, log, telegramBaseURL, &http.Client{Timeout: 10 * time.Second})
}

func newTelegram(cfg config.TelegramConfig, log *zap.Logger, baseURL string, client *http.Client) *Telegram {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Telegram{
		enabled: cfg.Enabled,
		token:   strings.TrimSpace(cfg.Token),
		chatID:  strings.TrimSpace(cfg.ChatID),
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		log:     log,
	}
}

// Send posts a plain text message to the configured chat. It is a no-op while
// telegram is disabled.
func (t *Telegram) Send(ctx context.Context, message string) error {
	if !t.enabled {
		return nil
	}
	if t.token == "" || t.chatID == "" {
		return errors.New("telegram token and chat_id are required")
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return errors.New("telegram message is empty")
	}
	body, err := json.Marshal(sendMessageRequest{ChatID: t.chatID, Text: message})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.methodURL("sendMessage", nil), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return t.call(req, "sendMessage", nil)
}

// SendAlert formats a risk alert and sends it.
func (t *Telegram) SendAlert(ctx context.Context, alert domain.Alert) error {
	if err := t.Send(ctx, FormatAlert(alert)); err != nil {
		return fmt.Errorf("alert %s: %w", alert.ID, err)
	}
	return nil
}

// SendResult formats an execution result and sends it.
func (t *Telegram) SendResult(ctx context.Context, res domain.Result) error {
	if err := t.Send(ctx, FormatResult(res)); err != nil {
		return fmt.Errorf("result %s: %w", res.PlanID, err)
	}
	return nil
}

type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message"`
}

type Message struct {
	MessageID int64  `json:"message_id"`
	From      *User  `json:"from"`
	Chat      *Chat  `json:"chat"`
	Text      string `json:"text"`
}

type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type Chat struct {
	ID int64 `json:"id"`
}

// GetUpdates long-polls the bot API for updates at or after offset.
func (t *Telegram) GetUpdates(ctx context.Context, offset int64, wait time.Duration) ([]Update, error) {
	if !t.enabled {
		return nil, ErrDisabled
	}
	if t.token == "" {
		return nil, errors.New("telegram token is required")
	}
	query := url.Values{}
	if offset > 0 {
		query.Set("offset", strconv.FormatInt(offset, 10))
	}
	if secs := int(wait / time.Second); secs > 0 {
		query.Set("timeout", strconv.Itoa(secs))
	}
	query.Set("allowed_updates", `["message"]`)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.methodURL("getUpdates", query), nil)
	if err != nil {
		return nil, err
	}
	var updates []Update
	if err := t.call(req, "getUpdates", &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

type sendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

func (t *Telegram) methodURL(method string, query url.Values) string {
	endpoint := fmt.Sprintf("%s/bot%s/%s", t.baseURL, t.token, method)
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	return endpoint
}

// call runs one bot API request and decodes its result into out when out is
// non-nil. An unreadable body on a 2xx sendMessage is treated as delivered.
func (t *Telegram) call(req *http.Request, method string, out any) error {
	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("telegram %s failed: http %d: %s", method, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var result apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		if out == nil {
			t.log.Debug("telegram response not decoded", zap.String("method", method), zap.Error(err))
			return nil
		}
		return fmt.Errorf("telegram %s: decode: %w", method, err)
	}
	if !result.OK {
		desc := strings.TrimSpace(result.Description)
		if desc == "" {
			desc = "unknown telegram error"
		}
		return fmt.Errorf("telegram %s failed: %s", method, desc)
	}
	if out == nil || len(result.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(result.Result, out); err != nil {
		return fmt.Errorf("telegram %s: decode result: %w", method, err)
	}
	return nil
}
