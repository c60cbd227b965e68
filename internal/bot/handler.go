package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/tutorstack/tutorcrm/internal/account/domain"
	"github.com/tutorstack/tutorcrm/internal/balance"
	"github.com/tutorstack/tutorcrm/internal/bot/command"
	"github.com/tutorstack/tutorcrm/internal/bot/session"
	"github.com/tutorstack/tutorcrm/internal/bot/telegram"
	"github.com/tutorstack/tutorcrm/internal/clock"
	ledgerdomain "github.com/tutorstack/tutorcrm/internal/ledger/domain"
	paymentdomain "github.com/tutorstack/tutorcrm/internal/payment/domain"
	paymentservice "github.com/tutorstack/tutorcrm/internal/payment/service"
	"github.com/tutorstack/tutorcrm/internal/pricing"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrUnauthorized = errors.New("unauthorized")

type Params struct {
	fx.In

	Accounts accountdomain.Service
	Ledger   ledgerdomain.Service
	Payments paymentdomain.Service
	Balance  *balance.Service
	Sessions *session.Store
	Telegram telegram.API
	Clock    clock.Clock
	Log      *zap.Logger
}

// Handler routes inbound updates. Every reply goes back through the chat, so
// errors are rendered as user-facing text and only unexpected ones are
// propagated to the transport.
type Handler struct {
	accounts accountdomain.Service
	ledger   ledgerdomain.Service
	payments paymentdomain.Service
	balance  *balance.Service
	sessions *session.Store
	tg       telegram.API
	clock    clock.Clock
	log      *zap.Logger
}

func NewHandler(p Params) *Handler {
	return &Handler{
		accounts: p.Accounts,
		ledger:   p.Ledger,
		payments: p.Payments,
		balance:  p.Balance,
		sessions: p.Sessions,
		tg:       p.Telegram,
		clock:    p.Clock,
		log:      p.Log.Named("bot"),
	}
}

func (h *Handler) HandleUpdate(ctx context.Context, upd *telegram.Update) error {
	switch {
	case upd.Message != nil && upd.Message.From != nil:
		return h.handleMessage(ctx, upd.Message)
	case upd.CallbackQuery != nil:
		return h.handleCallback(ctx, upd.CallbackQuery)
	}
	return nil
}

// --- plain messages ---

func (h *Handler) handleMessage(ctx context.Context, msg *telegram.Message) error {
	telegramID := strconv.FormatInt(msg.From.ID, 10)
	chatID := msg.Chat.ID
	text := strings.TrimSpace(msg.Text)

	if text == "/start" {
		return h.handleStart(ctx, telegramID, chatID)
	}

	state, err := h.sessions.Get(ctx, telegramID)
	if err != nil {
		return err
	}
	if state == nil {
		acc, err := h.accounts.EnsureAccount(ctx, telegramID)
		if err != nil {
			return err
		}
		if !acc.IsRegistered {
			return h.tg.SendMessage(ctx, chatID, "Для начала работы отправьте /start", nil)
		}
		return h.tg.SendMessage(ctx, chatID, "Выберите действие:", mainMenuKeyboard(acc.IsAdmin))
	}

	switch {
	case state.Flow == session.FlowRegistration && state.Step == session.StepWaitingName:
		return h.stepName(ctx, telegramID, chatID, text, state, command.RegGrade)
	case state.Flow == session.FlowProfileCreate && state.Step == session.StepWaitingName:
		return h.stepName(ctx, telegramID, chatID, text, state, command.ProfileGrade)
	case state.Flow == session.FlowAdminCredit && state.Step == session.StepWaitingAmount:
		return h.stepCreditAmount(ctx, telegramID, chatID, text, state)
	}

	// Stale step, reset.
	_ = h.sessions.Delete(ctx, telegramID)
	return h.tg.SendMessage(ctx, chatID, "Для начала работы отправьте /start", nil)
}

func (h *Handler) handleStart(ctx context.Context, telegramID string, chatID int64) error {
	acc, err := h.accounts.EnsureAccount(ctx, telegramID)
	if err != nil {
		return err
	}
	if acc.IsRegistered {
		_ = h.sessions.Delete(ctx, telegramID)
		greeting := fmt.Sprintf("С возвращением, %s!", acc.FullName)
		return h.tg.SendMessage(ctx, chatID, greeting, mainMenuKeyboard(acc.IsAdmin))
	}

	if err := h.sessions.Put(ctx, telegramID, &session.State{
		Flow: session.FlowRegistration,
		Step: session.StepWaitingName,
	}); err != nil {
		return err
	}
	return h.tg.SendMessage(ctx, chatID,
		"Добро пожаловать! Введите имя и фамилию ученика:", nil)
}

// stepName accepts the learner name for registration and profile creation and
// advances the flow to grade selection.
func (h *Handler) stepName(ctx context.Context, telegramID string, chatID int64, text string, state *session.State, next command.Kind) error {
	if len([]rune(text)) < 2 || strings.HasPrefix(text, "/") {
		return h.tg.SendMessage(ctx, chatID, "Имя слишком короткое, попробуйте ещё раз:", nil)
	}

	if state.Data == nil {
		state.Data = map[string]string{}
	}
	state.Data["name"] = text
	state.Step = session.StepWaitingGrade
	if err := h.sessions.Put(ctx, telegramID, state); err != nil {
		return err
	}
	return h.tg.SendMessage(ctx, chatID, "Выберите класс:", gradeKeyboard(next))
}

func (h *Handler) stepCreditAmount(ctx context.Context, telegramID string, chatID int64, text string, state *session.State) error {
	if _, err := h.requireAdmin(ctx, telegramID); err != nil {
		_ = h.sessions.Delete(ctx, telegramID)
		return h.tg.SendMessage(ctx, chatID, "Недостаточно прав.", nil)
	}

	amount, err := strconv.ParseInt(text, 10, 64)
	if err != nil || amount <= 0 {
		return h.tg.SendMessage(ctx, chatID, "Введите положительную сумму в рублях:", nil)
	}

	studentID, err := snowflake.ParseString(state.Data["student_id"])
	if err != nil {
		_ = h.sessions.Delete(ctx, telegramID)
		return h.tg.SendMessage(ctx, chatID, "Сессия устарела, начните заново.", nil)
	}

	st, err := h.accounts.CreditBalance(ctx, studentID, amount)
	if err != nil {
		if errors.Is(err, accountdomain.ErrStudentNotFound) {
			_ = h.sessions.Delete(ctx, telegramID)
			return h.tg.SendMessage(ctx, chatID, "Ученик не найден.", nil)
		}
		return err
	}
	_ = h.sessions.Delete(ctx, telegramID)

	return h.tg.SendMessage(ctx, chatID,
		fmt.Sprintf("Баланс пополнен: %s, текущий баланс %d ₽", st.Name, st.Balance),
		adminMenuKeyboard())
}

// --- callbacks ---

func (h *Handler) handleCallback(ctx context.Context, cb *telegram.CallbackQuery) error {
	telegramID := strconv.FormatInt(cb.From.ID, 10)

	cmd, err := command.Parse(cb.Data)
	if err != nil {
		h.log.Warn("malformed callback", zap.String("data", cb.Data), zap.Int64("from", cb.From.ID))
		return h.tg.AnswerCallbackQuery(ctx, cb.ID, "Неизвестная команда")
	}

	acc, err := h.accounts.EnsureAccount(ctx, telegramID)
	if err != nil {
		return err
	}
	if !acc.IsRegistered && cmd.Kind != command.RegGrade {
		return h.tg.AnswerCallbackQuery(ctx, cb.ID, "Сначала зарегистрируйтесь: /start")
	}

	if err := h.dispatch(ctx, cb, acc, cmd); err != nil {
		switch {
		case errors.Is(err, ErrUnauthorized):
			return h.tg.AnswerCallbackQuery(ctx, cb.ID, "Недостаточно прав")
		case errors.Is(err, accountdomain.ErrNotRegistered):
			return h.tg.AnswerCallbackQuery(ctx, cb.ID, "Сначала зарегистрируйтесь: /start")
		case errors.Is(err, accountdomain.ErrStudentNotFound),
			errors.Is(err, accountdomain.ErrNoActiveProfile),
			errors.Is(err, paymentdomain.ErrPaymentNotFound):
			return h.tg.AnswerCallbackQuery(ctx, cb.ID, "Данные не найдены, вернитесь в меню")
		}
		h.log.Error("callback failed",
			zap.String("kind", string(cmd.Kind)),
			zap.String("telegram_id", telegramID),
			zap.Error(err))
		_ = h.tg.AnswerCallbackQuery(ctx, cb.ID, "Что-то пошло не так, попробуйте позже")
		return err
	}
	return h.tg.AnswerCallbackQuery(ctx, cb.ID, "")
}

func (h *Handler) dispatch(ctx context.Context, cb *telegram.CallbackQuery, acc *accountdomain.Account, cmd command.Command) error {
	switch cmd.Kind {
	case command.MainMenu:
		_ = h.sessions.Delete(ctx, acc.TelegramID)
		return h.render(ctx, cb, "Выберите действие:", mainMenuKeyboard(acc.IsAdmin))

	case command.RegGrade:
		return h.finishRegistration(ctx, cb, acc, cmd.GradeKey)

	case command.ProfilesMenu:
		return h.showProfiles(ctx, cb, acc)
	case command.ProfileCreate:
		return h.startProfileCreate(ctx, cb, acc)
	case command.ProfileGrade:
		return h.finishProfileCreate(ctx, cb, acc, cmd.GradeKey)
	case command.ProfileView:
		return h.showProfile(ctx, cb, acc, cmd)
	case command.ProfileSwitch:
		if _, err := h.accounts.SwitchProfile(ctx, acc.TelegramID, cmd.StudentID); err != nil {
			return err
		}
		return h.showProfiles(ctx, cb, acc)
	case command.ProfileDelete:
		return h.render(ctx, cb,
			"Удалить профиль вместе с историей оплат? Это действие необратимо.",
			profileDeleteKeyboard(cmd.StudentID.String()))
	case command.ProfileDeleteConfirm:
		if err := h.accounts.DeleteProfile(ctx, acc.TelegramID, cmd.StudentID); err != nil {
			return err
		}
		return h.showProfiles(ctx, cb, acc)

	case command.PaymentMenu:
		return h.render(ctx, cb, "Оплата занятий:", paymentMenuKeyboard())
	case command.PayStart:
		return h.startPayment(ctx, cb, acc)
	case command.PayMonth:
		return h.choosePeriod(ctx, cb, acc, cmd)
	case command.PayConfirm:
		return h.confirmPayment(ctx, cb, acc, cmd)
	case command.PayCheck:
		return h.checkPayment(ctx, cb, acc, cmd)
	case command.PayBalanceMenu:
		return h.startBalancePayment(ctx, cb, acc)
	case command.PayBalance:
		return h.payFromBalance(ctx, cb, acc, cmd)
	case command.PayHistory:
		return h.showHistory(ctx, cb, acc)

	case command.AdminMenu, command.AdminStudents, command.AdminStudent,
		command.AdminHistory, command.AdminMark, command.AdminCredit:
		return h.dispatchAdmin(ctx, cb, acc, cmd)
	}
	return h.tg.AnswerCallbackQuery(ctx, cb.ID, "Неизвестная команда")
}

func (h *Handler) finishRegistration(ctx context.Context, cb *telegram.CallbackQuery, acc *accountdomain.Account, gradeKey string) error {
	state, err := h.sessions.Get(ctx, acc.TelegramID)
	if err != nil {
		return err
	}
	if state == nil || state.Flow != session.FlowRegistration || state.Step != session.StepWaitingGrade {
		return h.tg.AnswerCallbackQuery(ctx, cb.ID, "Сессия устарела, отправьте /start")
	}
	name := state.Data["name"]

	if _, err := pricing.Resolve(gradeKey); err != nil {
		return h.tg.AnswerCallbackQuery(ctx, cb.ID, "Неизвестный класс")
	}

	updated, err := h.accounts.CompleteRegistration(ctx, acc.TelegramID, name)
	if err != nil {
		return err
	}
	if _, err := h.accounts.CreateProfile(ctx, acc.TelegramID, name, gradeKey); err != nil {
		return err
	}
	_ = h.sessions.Delete(ctx, acc.TelegramID)

	return h.render(ctx, cb,
		fmt.Sprintf("Регистрация завершена, %s!", updated.FullName),
		mainMenuKeyboard(updated.IsAdmin))
}

// render edits the originating message when there is one, otherwise sends a
// fresh one to the callback's chat.
func (h *Handler) render(ctx context.Context, cb *telegram.CallbackQuery, text string, markup *telegram.InlineKeyboardMarkup) error {
	if cb.Message != nil {
		return h.tg.EditMessageText(ctx, cb.Message.Chat.ID, cb.Message.MessageID, text, markup)
	}
	return h.tg.SendMessage(ctx, cb.From.ID, text, markup)
}

func periodLabel(month, year int) string {
	return fmt.Sprintf("%s %d", paymentservice.MonthName(month), year)
}
