package bot

import (
	"fmt"
	"strconv"
	"time"

	accountdomain "github.com/tutorstack/tutorcrm/internal/account/domain"
	"github.com/tutorstack/tutorcrm/internal/bot/command"
	"github.com/tutorstack/tutorcrm/internal/bot/telegram"
	paymentservice "github.com/tutorstack/tutorcrm/internal/payment/service"
	"github.com/tutorstack/tutorcrm/internal/pricing"
)

func btn(text, data string) telegram.InlineKeyboardButton {
	return telegram.InlineKeyboardButton{Text: text, CallbackData: data}
}

func rows(buttons ...telegram.InlineKeyboardButton) *telegram.InlineKeyboardMarkup {
	markup := &telegram.InlineKeyboardMarkup{}
	for _, b := range buttons {
		markup.InlineKeyboard = append(markup.InlineKeyboard, []telegram.InlineKeyboardButton{b})
	}
	return markup
}

func mainMenuKeyboard(isAdmin bool) *telegram.InlineKeyboardMarkup {
	buttons := []telegram.InlineKeyboardButton{
		btn("👥 Профили", command.Data(command.ProfilesMenu)),
		btn("💰 Оплата", command.Data(command.PaymentMenu)),
	}
	if isAdmin {
		buttons = append(buttons, btn("🛠 Админ панель", command.Data(command.AdminMenu)))
	}
	return rows(buttons...)
}

func backKeyboard() *telegram.InlineKeyboardMarkup {
	return rows(btn("⬅️ Назад", command.Data(command.MainMenu)))
}

func paymentMenuKeyboard() *telegram.InlineKeyboardMarkup {
	return rows(
		btn("💳 Оплатить картой", command.Data(command.PayStart)),
		btn("💼 Оплатить с баланса", command.Data(command.PayBalanceMenu)),
		btn("📊 История платежей", command.Data(command.PayHistory)),
		btn("⬅️ Назад", command.Data(command.MainMenu)),
	)
}

// monthsKeyboard offers the current and next three billing periods.
func monthsKeyboard(kind command.Kind, now time.Time) *telegram.InlineKeyboardMarkup {
	markup := &telegram.InlineKeyboardMarkup{}
	month, year := int(now.Month()), now.Year()
	for i := 0; i < 4; i++ {
		label := fmt.Sprintf("%s %d", paymentservice.MonthName(month), year)
		data := command.Data(kind, strconv.Itoa(month), strconv.Itoa(year))
		markup.InlineKeyboard = append(markup.InlineKeyboard, []telegram.InlineKeyboardButton{btn(label, data)})
		month++
		if month > 12 {
			month = 1
			year++
		}
	}
	markup.InlineKeyboard = append(markup.InlineKeyboard,
		[]telegram.InlineKeyboardButton{btn("⬅️ Назад", command.Data(command.PaymentMenu))})
	return markup
}

func confirmPaymentKeyboard(month, year int) *telegram.InlineKeyboardMarkup {
	return rows(
		btn("✅ Подтвердить оплату", command.Data(command.PayConfirm, strconv.Itoa(month), strconv.Itoa(year))),
		btn("❌ Отменить", command.Data(command.PayStart)),
	)
}

func payLinkKeyboard(url, paymentID string) *telegram.InlineKeyboardMarkup {
	return &telegram.InlineKeyboardMarkup{InlineKeyboard: [][]telegram.InlineKeyboardButton{
		{{Text: "💳 Перейти к оплате", URL: url}},
		{btn("🔍 Проверить оплату", command.Data(command.PayCheck, paymentID))},
		{btn("⬅️ Назад", command.Data(command.PaymentMenu))},
	}}
}

func gradeKeyboard(kind command.Kind) *telegram.InlineKeyboardMarkup {
	markup := &telegram.InlineKeyboardMarkup{}
	for _, t := range pricing.List() {
		markup.InlineKeyboard = append(markup.InlineKeyboard,
			[]telegram.InlineKeyboardButton{btn(t.Name, command.Data(kind, t.Key))})
	}
	return markup
}

func profilesMenuKeyboard() *telegram.InlineKeyboardMarkup {
	return rows(
		btn("➕ Создать профиль", command.Data(command.ProfileCreate)),
		btn("⬅️ Назад", command.Data(command.MainMenu)),
	)
}

func profilesListKeyboard(students []accountdomain.Student) *telegram.InlineKeyboardMarkup {
	markup := &telegram.InlineKeyboardMarkup{}
	for _, st := range students {
		label := st.Name
		if st.IsActive {
			label = "✅ " + label
		}
		markup.InlineKeyboard = append(markup.InlineKeyboard,
			[]telegram.InlineKeyboardButton{btn(label, command.Data(command.ProfileView, st.ID.String()))})
	}
	markup.InlineKeyboard = append(markup.InlineKeyboard,
		[]telegram.InlineKeyboardButton{btn("➕ Создать профиль", command.Data(command.ProfileCreate))},
		[]telegram.InlineKeyboardButton{btn("⬅️ Назад", command.Data(command.MainMenu))})
	return markup
}

func profileManageKeyboard(id string) *telegram.InlineKeyboardMarkup {
	return rows(
		btn("🔄 Сделать активным", command.Data(command.ProfileSwitch, id)),
		btn("🗑 Удалить профиль", command.Data(command.ProfileDelete, id)),
		btn("⬅️ Назад", command.Data(command.ProfilesMenu)),
	)
}

func profileDeleteKeyboard(id string) *telegram.InlineKeyboardMarkup {
	return rows(
		btn("❗️ Да, удалить", command.Data(command.ProfileDeleteConfirm, id)),
		btn("⬅️ Отмена", command.Data(command.ProfileView, id)),
	)
}

func adminMenuKeyboard() *telegram.InlineKeyboardMarkup {
	return rows(
		btn("👥 Ученики", command.Data(command.AdminStudents, "0")),
		btn("⬅️ Назад", command.Data(command.MainMenu)),
	)
}

const adminPageSize = 5

func adminStudentsKeyboard(students []accountdomain.Student, page int) *telegram.InlineKeyboardMarkup {
	markup := &telegram.InlineKeyboardMarkup{}
	start := page * adminPageSize
	end := start + adminPageSize
	if end > len(students) {
		end = len(students)
	}
	for _, st := range students[start:end] {
		label := fmt.Sprintf("%s | %s", st.Name, st.GradeKey)
		markup.InlineKeyboard = append(markup.InlineKeyboard,
			[]telegram.InlineKeyboardButton{btn(label, command.Data(command.AdminStudent, st.ID.String()))})
	}

	var nav []telegram.InlineKeyboardButton
	if page > 0 {
		nav = append(nav, btn("⬅️", command.Data(command.AdminStudents, strconv.Itoa(page-1))))
	}
	if end < len(students) {
		nav = append(nav, btn("➡️", command.Data(command.AdminStudents, strconv.Itoa(page+1))))
	}
	if len(nav) > 0 {
		markup.InlineKeyboard = append(markup.InlineKeyboard, nav)
	}
	markup.InlineKeyboard = append(markup.InlineKeyboard,
		[]telegram.InlineKeyboardButton{btn("⬅️ В меню", command.Data(command.AdminMenu))})
	return markup
}

// adminStudentKeyboard offers cash-mark buttons for the current and previous
// period plus history and balance credit.
func adminStudentKeyboard(id string, now time.Time) *telegram.InlineKeyboardMarkup {
	cur, curYear := int(now.Month()), now.Year()
	prev, prevYear := cur-1, curYear
	if prev < 1 {
		prev, prevYear = 12, curYear-1
	}
	return rows(
		btn(fmt.Sprintf("💵 Отметить оплату: %s %d", paymentservice.MonthName(cur), curYear),
			command.Data(command.AdminMark, id, strconv.Itoa(cur), strconv.Itoa(curYear))),
		btn(fmt.Sprintf("💵 Отметить оплату: %s %d", paymentservice.MonthName(prev), prevYear),
			command.Data(command.AdminMark, id, strconv.Itoa(prev), strconv.Itoa(prevYear))),
		btn("📊 История оплат", command.Data(command.AdminHistory, id)),
		btn("💼 Пополнить баланс", command.Data(command.AdminCredit, id)),
		btn("⬅️ К списку", command.Data(command.AdminStudents, "0")),
	)
}
