package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Account is the messaging-platform identity owning zero or more students.
type Account struct {
	ID           snowflake.ID `json:"id" gorm:"primaryKey"`
	TelegramID   string       `json:"telegram_id" gorm:"type:varchar(50);not null;uniqueIndex"`
	FullName     string       `json:"full_name" gorm:"type:varchar(200)"`
	IsRegistered bool         `json:"is_registered" gorm:"not null;default:false"`
	IsAdmin      bool         `json:"is_admin" gorm:"not null;default:false"`
	RegisteredAt time.Time    `json:"registered_at"`
	CreatedAt    time.Time    `json:"created_at" gorm:"not null"`
}

func (Account) TableName() string { return "accounts" }

// Student is one learner profile under an account. At most one profile per
// account is active at a time. Balance is whole currency units.
type Student struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	AccountID snowflake.ID `json:"account_id" gorm:"not null;index"`
	Name      string       `json:"name" gorm:"type:varchar(200);not null"`
	GradeKey  string       `json:"grade_key" gorm:"type:varchar(50);not null"`
	IsActive  bool         `json:"is_active" gorm:"not null;default:false"`
	Balance   int64        `json:"balance" gorm:"not null;default:0"`
	CreatedAt time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time    `json:"updated_at" gorm:"not null"`
}

func (Student) TableName() string { return "students" }

var (
	ErrAccountNotFound  = errors.New("account_not_found")
	ErrStudentNotFound  = errors.New("student_not_found")
	ErrProfileNameTaken = errors.New("profile_name_taken")
	ErrNotRegistered    = errors.New("account_not_registered")
	ErrNoActiveProfile  = errors.New("no_active_profile")
	ErrInvalidAmount    = errors.New("invalid_amount")
)

type Repository interface {
	FindAccountByTelegramID(ctx context.Context, db *gorm.DB, telegramID string) (*Account, error)
	FindAccountByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Account, error)
	InsertAccount(ctx context.Context, db *gorm.DB, acc *Account) error
	UpdateAccount(ctx context.Context, db *gorm.DB, acc *Account) error
	ListAdmins(ctx context.Context, db *gorm.DB) ([]Account, error)
	ListRegistered(ctx context.Context, db *gorm.DB) ([]Account, error)

	FindStudentByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Student, error)
	FindStudentForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Student, error)
	FindActiveStudent(ctx context.Context, db *gorm.DB, accountID snowflake.ID) (*Student, error)
	ListStudents(ctx context.Context, db *gorm.DB, accountID snowflake.ID) ([]Student, error)
	ListAllStudents(ctx context.Context, db *gorm.DB) ([]Student, error)
	ListActiveRegistered(ctx context.Context, db *gorm.DB) ([]Student, error)
	InsertStudent(ctx context.Context, db *gorm.DB, s *Student) error
	UpdateStudent(ctx context.Context, db *gorm.DB, s *Student) error
	DeactivateStudents(ctx context.Context, db *gorm.DB, accountID snowflake.ID) error
	DeleteStudent(ctx context.Context, db *gorm.DB, id snowflake.ID) error
}

type Service interface {
	// EnsureAccount returns the account for a telegram id, creating an
	// unregistered one on first contact.
	EnsureAccount(ctx context.Context, telegramID string) (*Account, error)
	CompleteRegistration(ctx context.Context, telegramID, fullName string) (*Account, error)

	CreateProfile(ctx context.Context, telegramID, name, gradeKey string) (*Student, error)
	ListProfiles(ctx context.Context, telegramID string) ([]Student, error)
	ActiveProfile(ctx context.Context, telegramID string) (*Student, error)
	SwitchProfile(ctx context.Context, telegramID string, studentID snowflake.ID) (*Student, error)
	DeleteProfile(ctx context.Context, telegramID string, studentID snowflake.ID) error

	// CreditBalance is a staff action: add whole currency units to a student
	// balance. Amount must be positive.
	CreditBalance(ctx context.Context, studentID snowflake.ID, amount int64) (*Student, error)

	GetStudent(ctx context.Context, studentID snowflake.ID) (*Student, error)
	GetAccount(ctx context.Context, id snowflake.ID) (*Account, error)
	FindByTelegramID(ctx context.Context, telegramID string) (*Account, error)
	ListAdmins(ctx context.Context) ([]Account, error)
	// ListRegistered returns registered non-admin accounts, the payer audience
	// for reminders and broadcasts.
	ListRegistered(ctx context.Context) ([]Account, error)
	ListAllStudents(ctx context.Context) ([]Student, error)
	ListActiveRegistered(ctx context.Context) ([]Student, error)
}
