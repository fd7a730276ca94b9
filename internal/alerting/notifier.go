package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"card-price-tracker/internal/ingest"
)

// Digest 封装一次日常任务的汇总上下文。
type Digest struct {
	RunDate       time.Time
	Counts        ingest.Counts
	StaleUpdated  int
	Duration      time.Duration
	Channels      []string
	AdditionalMsg string
}

// Notifier 定义汇总推送接口。
type Notifier interface {
	Notify(ctx context.Context, digest Digest) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 推送器。
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "digest_telegram").Logger(),
	}
}

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, digest Digest) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(digest),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}

	n.logger.Info().Time("run_date", digest.RunDate).
		Str("channels", strings.Join(digest.Channels, ",")).
		Msg("日报已发送 (Telegram)")
	return nil
}

func renderMessage(digest Digest) string {
	builder := strings.Builder{}
	builder.WriteString("[Card Price Daily Digest]\n")
	builder.WriteString(fmt.Sprintf("Date: %s\n", digest.RunDate.UTC().Format("2006-01-02")))
	builder.WriteString(fmt.Sprintf("Updated: %d\n", digest.Counts.Updated))
	builder.WriteString(fmt.Sprintf("Inserted: %d\n", digest.Counts.Inserted))
	builder.WriteString(fmt.Sprintf("Skipped: %d\n", digest.Counts.Skipped))
	builder.WriteString(fmt.Sprintf("Errors: %d\n", digest.Counts.Errors))
	builder.WriteString(fmt.Sprintf("Stale recalculated: %d\n", digest.StaleUpdated))
	if digest.Duration > 0 {
		builder.WriteString(fmt.Sprintf("Duration: %s\n", digest.Duration.Round(time.Second)))
	}
	if len(digest.Channels) > 0 {
		builder.WriteString(fmt.Sprintf("Channels: %s\n", strings.Join(digest.Channels, ",")))
	}
	if digest.AdditionalMsg != "" {
		builder.WriteString(digest.AdditionalMsg)
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
