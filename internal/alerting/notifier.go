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
	"github.com/shopspring/decimal"
)

// Notification describes a pool whose risk level warrants attention.
type Notification struct {
	PoolID        string
	ComputedAt    time.Time
	RiskScore     float64
	RiskLevel     string
	PreviousLevel string
	Volatility    float64
	SharpeRatio   float64
	MaxDrawdown   float64
	LatestTVL     float64
	LatestAPY     float64
	AdditionalMsg string
}

// Notifier delivers risk alerts.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier posts alerts through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier builds a Telegram notifier.
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
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify calls sendMessage with the rendered alert text.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
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
		return fmt.Errorf("telegram responded %d", resp.StatusCode)
	}

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false: %s", result.Description)
		}
	}

	n.logger.Info().
		Str("pool_id", note.PoolID).
		Str("risk_level", note.RiskLevel).
		Float64("risk_score", note.RiskScore).
		Msg("risk alert sent (telegram)")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString("[Pool Risk Alert]\n")
	builder.WriteString(fmt.Sprintf("Pool: %s\n", note.PoolID))
	builder.WriteString(fmt.Sprintf("Computed: %s UTC\n", note.ComputedAt.UTC().Format(time.RFC3339)))
	if note.PreviousLevel != "" && note.PreviousLevel != note.RiskLevel {
		builder.WriteString(fmt.Sprintf("Risk: %s (was %s), score %s\n", note.RiskLevel, note.PreviousLevel, fixed(note.RiskScore, 1)))
	} else {
		builder.WriteString(fmt.Sprintf("Risk: %s, score %s\n", note.RiskLevel, fixed(note.RiskScore, 1)))
	}
	builder.WriteString(fmt.Sprintf("Volatility: %s%%\n", fixed(note.Volatility*100, 3)))
	builder.WriteString(fmt.Sprintf("Sharpe: %s\n", fixed(note.SharpeRatio, 3)))
	builder.WriteString(fmt.Sprintf("Max drawdown: %s%%\n", fixed(note.MaxDrawdown*100, 2)))
	if note.LatestTVL > 0 {
		builder.WriteString(fmt.Sprintf("TVL: %s USD\n", decimal.NewFromFloat(note.LatestTVL).Round(0).String()))
	}
	if note.LatestAPY != 0 {
		builder.WriteString(fmt.Sprintf("APY: %s%%\n", fixed(note.LatestAPY, 2)))
	}
	if note.AdditionalMsg != "" {
		builder.WriteString(note.AdditionalMsg)
	}
	return builder.String()
}

func fixed(v float64, places int32) string {
	return decimal.NewFromFloat(v).StringFixed(places)
}

var _ Notifier = (*TelegramNotifier)(nil)
