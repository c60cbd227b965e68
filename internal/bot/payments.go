package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	accountdomain "github.com/tutorstack/tutorcrm/internal/account/domain"
	"github.com/tutorstack/tutorcrm/internal/balance"
	"github.com/tutorstack/tutorcrm/internal/bot/command"
	"github.com/tutorstack/tutorcrm/internal/bot/telegram"
	ledgerdomain "github.com/tutorstack/tutorcrm/internal/ledger/domain"
	paymentdomain "github.com/tutorstack/tutorcrm/internal/payment/domain"
	"github.com/tutorstack/tutorcrm/internal/pricing"
)

func (h *Handler) startPayment(ctx context.Context, cb *telegram.CallbackQuery, acc *accountdomain.Account) error {
	st, err := h.accounts.ActiveProfile(ctx, acc.TelegramID)
	if err != nil {
		return err
	}
	tariff, err := pricing.Resolve(st.GradeKey)
	if err != nil {
		return h.render(ctx, cb,
			"Для профиля не настроен тариф, обратитесь к преподавателю.", backKeyboard())
	}

	text := fmt.Sprintf("Профиль: %s\nТариф: %s, %d ₽/мес\n\nВыберите месяц для оплаты:",
		st.Name, tariff.Name, tariff.Price)
	return h.render(ctx, cb, text, monthsKeyboard(command.PayMonth, h.clock.Now(ctx)))
}

func (h *Handler) choosePeriod(ctx context.Context, cb *telegram.CallbackQuery, acc *accountdomain.Account, cmd command.Command) error {
	st, err := h.accounts.ActiveProfile(ctx, acc.TelegramID)
	if err != nil {
		return err
	}
	settled, err := h.ledger.IsPeriodSettled(ctx, st.ID, cmd.Month, cmd.Year)
	if err != nil {
		return err
	}
	if settled {
		return h.tg.AnswerCallbackQuery(ctx, cb.ID,
			fmt.Sprintf("%s уже оплачен", periodLabel(cmd.Month, cmd.Year)))
	}

	tariff, err := pricing.Resolve(st.GradeKey)
	if err != nil {
		return err
	}
	text := fmt.Sprintf("Оплата за %s\nУченик: %s\nСумма: %d ₽",
		periodLabel(cmd.Month, cmd.Year), st.Name, tariff.Price)
	return h.render(ctx, cb, text, confirmPaymentKeyboard(cmd.Month, cmd.Year))
}

func (h *Handler) confirmPayment(ctx context.Context, cb *telegram.CallbackQuery, acc *accountdomain.Account, cmd command.Command) error {
	st, err := h.accounts.ActiveProfile(ctx, acc.TelegramID)
	if err != nil {
		return err
	}

	p, err := h.payments.CreatePending(ctx, st.ID, cmd.Month, cmd.Year)
	switch {
	case errors.Is(err, ledgerdomain.ErrPeriodAlreadySettled):
		return h.render(ctx, cb,
			fmt.Sprintf("%s уже оплачен.", periodLabel(cmd.Month, cmd.Year)), backKeyboard())
	case errors.Is(err, paymentdomain.ErrGatewayUnavailable):
		return h.render(ctx, cb,
			"Платёжный сервис временно недоступен, попробуйте позже.", backKeyboard())
	case err != nil:
		return err
	}

	text := fmt.Sprintf("Счёт на %d ₽ за %s выставлен.\nПерейдите по ссылке для оплаты, затем нажмите «Проверить оплату».",
		p.Amount, periodLabel(p.Month, p.Year))
	return h.render(ctx, cb, text, payLinkKeyboard(p.ConfirmationURL, p.ID.String()))
}

func (h *Handler) checkPayment(ctx context.Context, cb *telegram.CallbackQuery, acc *accountdomain.Account, cmd command.Command) error {
	p, err := h.payments.Get(ctx, cmd.PaymentID)
	if err != nil {
		return err
	}
	if _, err := h.ownedStudent(ctx, acc, p.StudentID); err != nil {
		return err
	}

	p, err = h.payments.CheckStatus(ctx, cmd.PaymentID)
	if errors.Is(err, paymentdomain.ErrGatewayUnavailable) {
		return h.tg.AnswerCallbackQuery(ctx, cb.ID, "Сервис недоступен, попробуйте позже")
	}
	if err != nil {
		return err
	}

	switch p.Status {
	case paymentdomain.StatusSettled:
		return h.render(ctx, cb,
			fmt.Sprintf("✅ Оплата за %s получена. Спасибо!", periodLabel(p.Month, p.Year)),
			backKeyboard())
	case paymentdomain.StatusCanceled:
		return h.render(ctx, cb,
			"❌ Платёж отменён. Вы можете выставить новый счёт.", paymentMenuKeyboard())
	default:
		return h.tg.AnswerCallbackQuery(ctx, cb.ID, "Платёж ещё не завершён")
	}
}

func (h *Handler) startBalancePayment(ctx context.Context, cb *telegram.CallbackQuery, acc *accountdomain.Account) error {
	st, err := h.accounts.ActiveProfile(ctx, acc.TelegramID)
	if err != nil {
		return err
	}
	text := fmt.Sprintf("Профиль: %s\nБаланс: %d ₽\n\nВыберите месяц для оплаты с баланса:",
		st.Name, st.Balance)
	return h.render(ctx, cb, text, monthsKeyboard(command.PayBalance, h.clock.Now(ctx)))
}

func (h *Handler) payFromBalance(ctx context.Context, cb *telegram.CallbackQuery, acc *accountdomain.Account, cmd command.Command) error {
	st, err := h.accounts.ActiveProfile(ctx, acc.TelegramID)
	if err != nil {
		return err
	}

	entry, err := h.balance.SettleFromBalance(ctx, st.ID, cmd.Month, cmd.Year)
	var short *balance.InsufficientFundsError
	switch {
	case errors.Is(err, ledgerdomain.ErrPeriodAlreadySettled):
		return h.render(ctx, cb,
			fmt.Sprintf("%s уже оплачен.", periodLabel(cmd.Month, cmd.Year)), backKeyboard())
	case errors.As(err, &short):
		return h.render(ctx, cb,
			fmt.Sprintf("Недостаточно средств: не хватает %d ₽.", short.Shortfall),
			paymentMenuKeyboard())
	case err != nil:
		return err
	}

	return h.render(ctx, cb,
		fmt.Sprintf("✅ %s оплачен с баланса: %d ₽.", periodLabel(entry.Month, entry.Year), entry.AmountPaid),
		backKeyboard())
}

func (h *Handler) showHistory(ctx context.Context, cb *telegram.CallbackQuery, acc *accountdomain.Account) error {
	st, err := h.accounts.ActiveProfile(ctx, acc.TelegramID)
	if err != nil {
		return err
	}
	entries, err := h.ledger.History(ctx, st.ID)
	if err != nil {
		return err
	}
	return h.render(ctx, cb, historyText(st.Name, entries), backKeyboard())
}

func historyText(name string, entries []ledgerdomain.LedgerEntry) string {
	if len(entries) == 0 {
		return fmt.Sprintf("У %s пока нет оплаченных месяцев.", name)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "История оплат: %s\n\n", name)
	for _, e := range entries {
		fmt.Fprintf(&b, "%s — %d ₽ (%s)\n", periodLabel(e.Month, e.Year), e.AmountPaid, channelLabel(e.Channel))
	}
	return b.String()
}

func channelLabel(channel string) string {
	switch channel {
	case ledgerdomain.ChannelGateway:
		return "картой"
	case ledgerdomain.ChannelCash:
		return "наличными"
	case ledgerdomain.ChannelBalance:
		return "с баланса"
	}
	return channel
}
