package telegram

import (
	"context"
	"fmt"

	"paperTradeBot/internal/domain"
	"paperTradeBot/internal/ports"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Notifier implements ports.Notifier by sending trigger events to a Telegram
// chat. Delivery is best effort; the caller decides what to do with errors.
type Notifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger ports.Logger
}

// Config holds configuration for the Telegram notifier.
type Config struct {
	Token  string
	ChatID int64
	Logger ports.Logger
}

// New creates a Telegram notifier. The token is validated against the API.
func New(cfg Config) (*Notifier, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Telegram notifier: %w", ports.ErrConfigurationError)
	}
	if cfg.Token == "" || cfg.ChatID == 0 {
		return nil, fmt.Errorf("telegram token and chat ID are required: %w", ports.ErrConfigurationError)
	}
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("connecting to Telegram: %w", err)
	}
	cfg.Logger.Info(context.Background(), "Telegram notifier ready", map[string]interface{}{"bot": bot.Self.UserName})
	return &Notifier{bot: bot, chatID: cfg.ChatID, logger: cfg.Logger}, nil
}

// Notify formats and sends one trigger event.
func (n *Notifier) Notify(ctx context.Context, event domain.TriggerEvent) error {
	msg := tgbotapi.NewMessage(n.chatID, formatEvent(event))
	if _, err := n.bot.Send(msg); err != nil {
		return fmt.Errorf("sending Telegram message: %w", err)
	}
	return nil
}

func formatEvent(event domain.TriggerEvent) string {
	var head string
	switch event.Type {
	case domain.TriggerStopLoss:
		head = "🛑 Stop loss hit"
	case domain.TriggerTakeProfit:
		head = "🎯 Take profit hit"
	case domain.TriggerBuyLimit:
		head = "📥 Buy limit filled"
	case domain.TriggerSellLimit:
		head = "📤 Sell limit filled"
	default:
		head = "Trigger fired"
	}
	text := fmt.Sprintf("%s\nSymbol: %s\nPrice: %.8g\nTime: %s",
		head, event.Symbol, event.TriggerPrice, event.At.Format("2006-01-02 15:04:05 MST"))
	if event.PNL != nil {
		text += fmt.Sprintf("\nPNL: %+.2f", *event.PNL)
	}
	return text
}

// LogNotifier is the fallback notifier when Telegram is not configured; it
// writes trigger events to the application log.
type LogNotifier struct {
	logger ports.Logger
}

// NewLogNotifier creates a notifier that only logs.
func NewLogNotifier(logger ports.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs the trigger event.
func (n *LogNotifier) Notify(ctx context.Context, event domain.TriggerEvent) error {
	fields := map[string]interface{}{
		"type":   event.Type,
		"symbol": event.Symbol,
		"price":  event.TriggerPrice,
	}
	if event.PNL != nil {
		fields["pnl"] = *event.PNL
	}
	n.logger.Info(ctx, "Trigger fired", fields)
	return nil
}
