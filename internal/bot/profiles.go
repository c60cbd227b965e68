package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/tutorstack/tutorcrm/internal/account/domain"
	"github.com/tutorstack/tutorcrm/internal/bot/command"
	"github.com/tutorstack/tutorcrm/internal/bot/session"
	"github.com/tutorstack/tutorcrm/internal/bot/telegram"
	"github.com/tutorstack/tutorcrm/internal/pricing"
)

func (h *Handler) showProfiles(ctx context.Context, cb *telegram.CallbackQuery, acc *accountdomain.Account) error {
	students, err := h.accounts.ListProfiles(ctx, acc.TelegramID)
	if err != nil {
		return err
	}
	if len(students) == 0 {
		return h.render(ctx, cb, "У вас пока нет профилей учеников.", profilesMenuKeyboard())
	}
	return h.render(ctx, cb, "Ваши профили:", profilesListKeyboard(students))
}

func (h *Handler) startProfileCreate(ctx context.Context, cb *telegram.CallbackQuery, acc *accountdomain.Account) error {
	if err := h.sessions.Put(ctx, acc.TelegramID, &session.State{
		Flow: session.FlowProfileCreate,
		Step: session.StepWaitingName,
	}); err != nil {
		return err
	}
	return h.render(ctx, cb, "Введите имя ученика:", nil)
}

func (h *Handler) finishProfileCreate(ctx context.Context, cb *telegram.CallbackQuery, acc *accountdomain.Account, gradeKey string) error {
	state, err := h.sessions.Get(ctx, acc.TelegramID)
	if err != nil {
		return err
	}
	if state == nil || state.Flow != session.FlowProfileCreate || state.Step != session.StepWaitingGrade {
		return h.tg.AnswerCallbackQuery(ctx, cb.ID, "Сессия устарела, начните заново")
	}

	if _, err := pricing.Resolve(gradeKey); err != nil {
		return h.tg.AnswerCallbackQuery(ctx, cb.ID, "Неизвестный класс")
	}

	_, err = h.accounts.CreateProfile(ctx, acc.TelegramID, state.Data["name"], gradeKey)
	if errors.Is(err, accountdomain.ErrProfileNameTaken) {
		_ = h.sessions.Delete(ctx, acc.TelegramID)
		return h.render(ctx, cb, "Профиль с таким именем уже существует.", profilesMenuKeyboard())
	}
	if err != nil {
		return err
	}
	_ = h.sessions.Delete(ctx, acc.TelegramID)
	return h.showProfiles(ctx, cb, acc)
}

func (h *Handler) showProfile(ctx context.Context, cb *telegram.CallbackQuery, acc *accountdomain.Account, cmd command.Command) error {
	st, err := h.ownedStudent(ctx, acc, cmd.StudentID)
	if err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "👤 %s\n", st.Name)
	if tariff, err := pricing.Resolve(st.GradeKey); err == nil {
		fmt.Fprintf(&b, "Тариф: %s, %d ₽/мес\n", tariff.Name, tariff.Price)
	} else {
		fmt.Fprintf(&b, "Тариф: %s\n", st.GradeKey)
	}
	fmt.Fprintf(&b, "Баланс: %d ₽\n", st.Balance)
	if st.IsActive {
		b.WriteString("Статус: активный профиль")
	} else {
		b.WriteString("Статус: неактивен")
	}
	return h.render(ctx, cb, b.String(), profileManageKeyboard(st.ID.String()))
}

// ownedStudent loads a student and rejects ids belonging to another account.
// Admins may view any student.
func (h *Handler) ownedStudent(ctx context.Context, acc *accountdomain.Account, id snowflake.ID) (*accountdomain.Student, error) {
	st, err := h.accounts.GetStudent(ctx, id)
	if err != nil {
		return nil, err
	}
	if st.AccountID != acc.ID && !acc.IsAdmin {
		return nil, accountdomain.ErrStudentNotFound
	}
	return st, nil
}
