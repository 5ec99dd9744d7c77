package notify

import (
	"context"
	"fmt"

	"storepulse/pkg/logger"
	"storepulse/pkg/model"

	"go.uber.org/zap"
	tele "gopkg.in/telebot.v4"
)

// TelegramNotifier pings an operations chat when a pipeline stage fails, so
// failed records do not sit unnoticed until someone opens the dashboard.
type TelegramNotifier struct {
	bot    *tele.Bot
	chatID int64
}

func NewTelegramNotifier(token string, chatID int64) (*TelegramNotifier, error) {
	// Send-only bot: no poller, the notifier never reads updates.
	bot, err := tele.NewBot(tele.Settings{
		Token: token,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	logger.Info("Telegram notifier initialized", zap.Int64("chat_id", chatID))

	return &TelegramNotifier{
		bot:    bot,
		chatID: chatID,
	}, nil
}

// NotifyFailure sends the record id, store, stage and the verbatim (already
// bounded) error message to the ops chat.
func (n *TelegramNotifier) NotifyFailure(ctx context.Context, f *model.Feedback, stage model.Stage, errMsg string) error {
	text := fmt.Sprintf(
		"⚠️ %s failed\nfeedback: %s\nstore: %s\ndate: %s\nerror: %s",
		stage,
		f.ID,
		f.StoreID,
		f.FeedbackDate.Format("2006-01-02"),
		errMsg,
	)

	_, err := n.bot.Send(&tele.Chat{ID: n.chatID}, text)
	if err != nil {
		return fmt.Errorf("failed to send Telegram alert: %w", err)
	}

	return nil
}
