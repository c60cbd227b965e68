package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	accountdomain "github.com/tutorstack/tutorcrm/internal/account/domain"
	"github.com/tutorstack/tutorcrm/internal/bot/command"
	"github.com/tutorstack/tutorcrm/internal/bot/session"
	"github.com/tutorstack/tutorcrm/internal/bot/telegram"
	ledgerdomain "github.com/tutorstack/tutorcrm/internal/ledger/domain"
	"github.com/tutorstack/tutorcrm/internal/pricing"
	"go.uber.org/zap"
)

// requireAdmin is the single authorization gate for staff commands. Keyboard
// shape is never trusted: hand-crafted callbacks hit this check too.
func (h *Handler) requireAdmin(ctx context.Context, telegramID string) (*accountdomain.Account, error) {
	acc, err := h.accounts.FindByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, err
	}
	if !acc.IsAdmin {
		return nil, ErrUnauthorized
	}
	return acc, nil
}

func (h *Handler) dispatchAdmin(ctx context.Context, cb *telegram.CallbackQuery, acc *accountdomain.Account, cmd command.Command) error {
	admin, err := h.requireAdmin(ctx, acc.TelegramID)
	if err != nil {
		h.log.Warn("admin command rejected",
			zap.String("telegram_id", acc.TelegramID),
			zap.String("kind", string(cmd.Kind)))
		return err
	}

	switch cmd.Kind {
	case command.AdminMenu:
		return h.render(ctx, cb, "Админ панель:", adminMenuKeyboard())
	case command.AdminStudents:
		return h.adminListStudents(ctx, cb, cmd.Page)
	case command.AdminStudent:
		return h.adminShowStudent(ctx, cb, cmd)
	case command.AdminHistory:
		return h.adminShowHistory(ctx, cb, cmd)
	case command.AdminMark:
		return h.adminMarkCash(ctx, cb, admin, cmd)
	case command.AdminCredit:
		return h.adminStartCredit(ctx, cb, admin, cmd)
	}
	return nil
}

func (h *Handler) adminListStudents(ctx context.Context, cb *telegram.CallbackQuery, page int) error {
	students, err := h.accounts.ListAllStudents(ctx)
	if err != nil {
		return err
	}
	if len(students) == 0 {
		return h.render(ctx, cb, "Учеников пока нет.", adminMenuKeyboard())
	}
	if page*adminPageSize >= len(students) {
		page = 0
	}
	text := fmt.Sprintf("Ученики (%d):", len(students))
	return h.render(ctx, cb, text, adminStudentsKeyboard(students, page))
}

func (h *Handler) adminShowStudent(ctx context.Context, cb *telegram.CallbackQuery, cmd command.Command) error {
	st, err := h.accounts.GetStudent(ctx, cmd.StudentID)
	if err != nil {
		return err
	}
	owner, err := h.accounts.GetAccount(ctx, st.AccountID)
	if err != nil {
		return err
	}

	text := fmt.Sprintf("👤 %s\nРодитель: %s\nТариф: %s\nБаланс: %d ₽",
		st.Name, owner.FullName, st.GradeKey, st.Balance)
	if tariff, err := pricing.Resolve(st.GradeKey); err == nil {
		text = fmt.Sprintf("👤 %s\nРодитель: %s\nТариф: %s, %d ₽/мес\nБаланс: %d ₽",
			st.Name, owner.FullName, tariff.Name, tariff.Price, st.Balance)
	}
	return h.render(ctx, cb, text, adminStudentKeyboard(st.ID.String(), h.clock.Now(ctx)))
}

func (h *Handler) adminShowHistory(ctx context.Context, cb *telegram.CallbackQuery, cmd command.Command) error {
	st, err := h.accounts.GetStudent(ctx, cmd.StudentID)
	if err != nil {
		return err
	}
	entries, err := h.ledger.History(ctx, st.ID)
	if err != nil {
		return err
	}
	markup := rows(btn("⬅️ Назад", command.Data(command.AdminStudent, st.ID.String())))
	return h.render(ctx, cb, historyText(st.Name, entries), markup)
}

// adminMarkCash records an out-of-band cash payment straight into the ledger.
func (h *Handler) adminMarkCash(ctx context.Context, cb *telegram.CallbackQuery, admin *accountdomain.Account, cmd command.Command) error {
	st, err := h.accounts.GetStudent(ctx, cmd.StudentID)
	if err != nil {
		return err
	}
	tariff, err := pricing.Resolve(st.GradeKey)
	if err != nil {
		return h.tg.AnswerCallbackQuery(ctx, cb.ID, "Для ученика не настроен тариф")
	}

	entry, err := h.ledger.RecordSettlement(ctx, nil, ledgerdomain.SettlementInput{
		StudentID:   st.ID,
		Month:       cmd.Month,
		Year:        cmd.Year,
		Amount:      tariff.Price,
		TariffLabel: tariff.Name,
		Channel:     ledgerdomain.ChannelCash,
	})
	if errors.Is(err, ledgerdomain.ErrPeriodAlreadySettled) {
		return h.tg.AnswerCallbackQuery(ctx, cb.ID,
			fmt.Sprintf("%s уже оплачен", periodLabel(cmd.Month, cmd.Year)))
	}
	if err != nil {
		return err
	}

	h.log.Info("cash payment recorded",
		zap.Int64("student_id", int64(st.ID)),
		zap.Int("month", entry.Month),
		zap.Int("year", entry.Year),
		zap.String("admin", admin.TelegramID))

	h.notifyOwnerCashSettled(ctx, st, entry)

	return h.render(ctx, cb,
		fmt.Sprintf("✅ Отмечена оплата наличными: %s, %s, %d ₽",
			st.Name, periodLabel(entry.Month, entry.Year), entry.AmountPaid),
		adminStudentKeyboard(st.ID.String(), h.clock.Now(ctx)))
}

// notifyOwnerCashSettled tells the payer their period is closed. Best effort.
func (h *Handler) notifyOwnerCashSettled(ctx context.Context, st *accountdomain.Student, entry *ledgerdomain.LedgerEntry) {
	owner, err := h.accounts.GetAccount(ctx, st.AccountID)
	if err != nil {
		h.log.Warn("cash notice: owner lookup failed", zap.Error(err))
		return
	}
	chatID, err := strconv.ParseInt(owner.TelegramID, 10, 64)
	if err != nil {
		return
	}
	text := fmt.Sprintf("✅ Оплата наличными за %s получена: %d ₽ (%s)",
		periodLabel(entry.Month, entry.Year), entry.AmountPaid, st.Name)
	if err := h.tg.SendMessage(ctx, chatID, text, nil); err != nil {
		h.log.Warn("cash notice: send failed", zap.Error(err))
	}
}

func (h *Handler) adminStartCredit(ctx context.Context, cb *telegram.CallbackQuery, admin *accountdomain.Account, cmd command.Command) error {
	st, err := h.accounts.GetStudent(ctx, cmd.StudentID)
	if err != nil {
		return err
	}
	if err := h.sessions.Put(ctx, admin.TelegramID, &session.State{
		Flow: session.FlowAdminCredit,
		Step: session.StepWaitingAmount,
		Data: map[string]string{"student_id": st.ID.String()},
	}); err != nil {
		return err
	}
	return h.render(ctx, cb,
		fmt.Sprintf("Введите сумму пополнения для %s (в рублях):", st.Name), nil)
}
