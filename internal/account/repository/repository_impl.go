package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/tutorstack/tutorcrm/internal/account/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct {
	db *gorm.DB
}

func Provide(db *gorm.DB) domain.Repository {
	return &repo{db: db}
}

func (r *repo) conn(db *gorm.DB) *gorm.DB {
	if db == nil {
		return r.db
	}
	return db
}

func (r *repo) FindAccountByTelegramID(ctx context.Context, db *gorm.DB, telegramID string) (*domain.Account, error) {
	var acc domain.Account
	err := r.conn(db).WithContext(ctx).Where("telegram_id = ?", telegramID).First(&acc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &acc, nil
}

func (r *repo) FindAccountByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Account, error) {
	var acc domain.Account
	err := r.conn(db).WithContext(ctx).First(&acc, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &acc, nil
}

func (r *repo) InsertAccount(ctx context.Context, db *gorm.DB, acc *domain.Account) error {
	return r.conn(db).WithContext(ctx).Create(acc).Error
}

func (r *repo) UpdateAccount(ctx context.Context, db *gorm.DB, acc *domain.Account) error {
	return r.conn(db).WithContext(ctx).Save(acc).Error
}

func (r *repo) ListAdmins(ctx context.Context, db *gorm.DB) ([]domain.Account, error) {
	var out []domain.Account
	err := r.conn(db).WithContext(ctx).Where("is_admin = ?", true).Find(&out).Error
	return out, err
}

func (r *repo) ListRegistered(ctx context.Context, db *gorm.DB) ([]domain.Account, error) {
	var out []domain.Account
	err := r.conn(db).WithContext(ctx).
		Where("is_registered = ? AND is_admin = ?", true, false).
		Find(&out).Error
	return out, err
}

func (r *repo) FindStudentByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Student, error) {
	var s domain.Student
	err := r.conn(db).WithContext(ctx).First(&s, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// FindStudentForUpdate takes a row lock so balance checks and debits of the
// same student serialize. Must run inside a transaction. SQLite has no
// row-level locks; its single writer already serializes the transaction.
func (r *repo) FindStudentForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Student, error) {
	q := r.conn(db).WithContext(ctx)
	if q.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var s domain.Student
	err := q.First(&s, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func (r *repo) FindActiveStudent(ctx context.Context, db *gorm.DB, accountID snowflake.ID) (*domain.Student, error) {
	var s domain.Student
	err := r.conn(db).WithContext(ctx).
		Where("account_id = ? AND is_active = ?", accountID, true).
		First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func (r *repo) ListStudents(ctx context.Context, db *gorm.DB, accountID snowflake.ID) ([]domain.Student, error) {
	var out []domain.Student
	err := r.conn(db).WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("is_active DESC, created_at ASC").
		Find(&out).Error
	return out, err
}

func (r *repo) ListAllStudents(ctx context.Context, db *gorm.DB) ([]domain.Student, error) {
	var out []domain.Student
	err := r.conn(db).WithContext(ctx).Order("created_at ASC").Find(&out).Error
	return out, err
}

func (r *repo) ListActiveRegistered(ctx context.Context, db *gorm.DB) ([]domain.Student, error) {
	var out []domain.Student
	err := r.conn(db).WithContext(ctx).
		Joins("JOIN accounts ON accounts.id = students.account_id").
		Where("students.is_active = ? AND accounts.is_registered = ? AND accounts.is_admin = ?", true, true, false).
		Find(&out).Error
	return out, err
}

func (r *repo) InsertStudent(ctx context.Context, db *gorm.DB, s *domain.Student) error {
	return r.conn(db).WithContext(ctx).Create(s).Error
}

func (r *repo) UpdateStudent(ctx context.Context, db *gorm.DB, s *domain.Student) error {
	return r.conn(db).WithContext(ctx).Save(s).Error
}

func (r *repo) DeactivateStudents(ctx context.Context, db *gorm.DB, accountID snowflake.ID) error {
	return r.conn(db).WithContext(ctx).
		Model(&domain.Student{}).
		Where("account_id = ?", accountID).
		Update("is_active", false).Error
}

func (r *repo) DeleteStudent(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return r.conn(db).WithContext(ctx).Delete(&domain.Student{}, id).Error
}
