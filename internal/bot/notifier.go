package bot

import (
	"context"
	"fmt"
	"strconv"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/tutorstack/tutorcrm/internal/account/domain"
	"github.com/tutorstack/tutorcrm/internal/bot/telegram"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type NotifierParams struct {
	fx.In

	Accounts accountdomain.Service
	Telegram telegram.API
	Log      *zap.Logger
}

// Notifier pushes settlement notices into chats. Deliveries are best effort:
// a failed send is logged and the settlement stays committed.
type Notifier struct {
	accounts accountdomain.Service
	tg       telegram.API
	log      *zap.Logger
}

func NewNotifier(p NotifierParams) *Notifier {
	return &Notifier{
		accounts: p.Accounts,
		tg:       p.Telegram,
		log:      p.Log.Named("bot.notifier"),
	}
}

func (n *Notifier) NotifySettled(ctx context.Context, studentID snowflake.ID, month, year int, amount int64) {
	st, err := n.accounts.GetStudent(ctx, studentID)
	if err != nil {
		n.log.Warn("settlement notice: student lookup failed",
			zap.Int64("student_id", int64(studentID)), zap.Error(err))
		return
	}
	owner, err := n.accounts.GetAccount(ctx, st.AccountID)
	if err != nil {
		n.log.Warn("settlement notice: owner lookup failed", zap.Error(err))
		return
	}

	period := periodLabel(month, year)
	n.send(ctx, owner.TelegramID,
		fmt.Sprintf("✅ Оплата за %s получена: %d ₽ (%s). Спасибо!", period, amount, st.Name))

	admins, err := n.accounts.ListAdmins(ctx)
	if err != nil {
		n.log.Warn("settlement notice: admin list failed", zap.Error(err))
		return
	}
	staffText := fmt.Sprintf("💰 Поступила оплата: %s, %s, %d ₽ (от %s)",
		st.Name, period, amount, owner.FullName)
	for _, admin := range admins {
		if admin.TelegramID == owner.TelegramID {
			continue
		}
		n.send(ctx, admin.TelegramID, staffText)
	}
}

func (n *Notifier) send(ctx context.Context, telegramID, text string) {
	chatID, err := strconv.ParseInt(telegramID, 10, 64)
	if err != nil {
		n.log.Warn("settlement notice: bad chat id", zap.String("telegram_id", telegramID))
		return
	}
	if err := n.tg.SendMessage(ctx, chatID, text, nil); err != nil {
		n.log.Warn("settlement notice: send failed",
			zap.Int64("chat_id", chatID), zap.Error(err))
	}
}
