package command

import (
	"errors"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
)

// Callback payloads are colon-separated: "pay:month:9:2025". Each command kind
// declares its parameter shape; anything that does not match is rejected
// instead of being indexed positionally on trust.

type Kind string

const (
	MainMenu     Kind = "menu:main"
	PaymentMenu  Kind = "menu:payment"
	ProfilesMenu Kind = "menu:profiles"

	RegGrade Kind = "reg:grade" // <gradeKey>

	ProfileCreate        Kind = "profile:create"
	ProfileView          Kind = "profile:view"   // <studentID>
	ProfileSwitch        Kind = "profile:switch" // <studentID>
	ProfileDelete        Kind = "profile:delete" // <studentID>
	ProfileDeleteConfirm Kind = "profile:delete_confirm"
	ProfileGrade         Kind = "profile:grade" // <gradeKey>

	PayStart       Kind = "pay:start"
	PayMonth       Kind = "pay:month"   // <month> <year>
	PayConfirm     Kind = "pay:confirm" // <month> <year>
	PayCheck       Kind = "pay:check"   // <paymentID>
	PayBalance     Kind = "pay:balance" // <month> <year>
	PayBalanceMenu Kind = "pay:balance_menu"
	PayHistory     Kind = "pay:history"

	AdminMenu     Kind = "admin:menu"
	AdminStudents Kind = "admin:students" // <page>
	AdminStudent  Kind = "admin:student"  // <studentID>
	AdminHistory  Kind = "admin:history"  // <studentID>
	AdminMark     Kind = "admin:mark"     // <studentID> <month> <year>
	AdminCredit   Kind = "admin:credit"   // <studentID>
)

var ErrMalformed = errors.New("malformed_command")

// Command is a parsed, validated callback payload.
type Command struct {
	Kind      Kind
	GradeKey  string
	StudentID snowflake.ID
	PaymentID snowflake.ID
	Month     int
	Year      int
	Page      int
}

// arity maps each kind to its expected trailing argument count.
var arity = map[Kind]int{
	MainMenu: 0, PaymentMenu: 0, ProfilesMenu: 0,
	RegGrade:      1,
	ProfileCreate: 0, ProfileView: 1, ProfileSwitch: 1,
	ProfileDelete: 1, ProfileDeleteConfirm: 1, ProfileGrade: 1,
	PayStart: 0, PayMonth: 2, PayConfirm: 2, PayCheck: 1,
	PayBalance: 2, PayBalanceMenu: 0, PayHistory: 0,
	AdminMenu: 0, AdminStudents: 1, AdminStudent: 1,
	AdminHistory: 1, AdminMark: 3, AdminCredit: 1,
}

func Parse(data string) (Command, error) {
	parts := strings.Split(strings.TrimSpace(data), ":")
	if len(parts) < 2 {
		return Command{}, ErrMalformed
	}

	kind := Kind(parts[0] + ":" + parts[1])
	want, ok := arity[kind]
	if !ok {
		return Command{}, ErrMalformed
	}
	args := parts[2:]
	if len(args) != want {
		return Command{}, ErrMalformed
	}

	cmd := Command{Kind: kind}
	var err error
	switch kind {
	case RegGrade, ProfileGrade:
		if args[0] == "" {
			return Command{}, ErrMalformed
		}
		cmd.GradeKey = args[0]

	case ProfileView, ProfileSwitch, ProfileDelete, ProfileDeleteConfirm,
		AdminStudent, AdminHistory, AdminCredit:
		cmd.StudentID, err = parseID(args[0])

	case PayCheck:
		cmd.PaymentID, err = parseID(args[0])

	case PayMonth, PayConfirm, PayBalance:
		cmd.Month, cmd.Year, err = parsePeriod(args[0], args[1])

	case AdminMark:
		cmd.StudentID, err = parseID(args[0])
		if err == nil {
			cmd.Month, cmd.Year, err = parsePeriod(args[1], args[2])
		}

	case AdminStudents:
		cmd.Page, err = strconv.Atoi(args[0])
		if err == nil && cmd.Page < 0 {
			err = ErrMalformed
		}
	}
	if err != nil {
		return Command{}, ErrMalformed
	}
	return cmd, nil
}

func parseID(s string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(s)
	if err != nil {
		return 0, ErrMalformed
	}
	return id, nil
}

func parsePeriod(ms, ys string) (int, int, error) {
	month, err := strconv.Atoi(ms)
	if err != nil || month < 1 || month > 12 {
		return 0, 0, ErrMalformed
	}
	year, err := strconv.Atoi(ys)
	if err != nil || year < 2000 || year > 2100 {
		return 0, 0, ErrMalformed
	}
	return month, year, nil
}

// Data renders a command back to its callback payload.
func Data(kind Kind, args ...string) string {
	if len(args) == 0 {
		return string(kind)
	}
	return string(kind) + ":" + strings.Join(args, ":")
}
