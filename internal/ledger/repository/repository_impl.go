package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/tutorstack/tutorcrm/internal/ledger/domain"
	"gorm.io/gorm"
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

func (r *repo) Insert(ctx context.Context, db *gorm.DB, e *domain.LedgerEntry) error {
	return r.conn(db).WithContext(ctx).Create(e).Error
}

func (r *repo) Exists(ctx context.Context, db *gorm.DB, studentID snowflake.ID, month, year int) (bool, error) {
	var count int64
	err := r.conn(db).WithContext(ctx).
		Model(&domain.LedgerEntry{}).
		Where("student_id = ? AND month = ? AND year = ?", studentID, month, year).
		Count(&count).Error
	return count > 0, err
}

func (r *repo) ListByStudent(ctx context.Context, db *gorm.DB, studentID snowflake.ID) ([]domain.LedgerEntry, error) {
	var out []domain.LedgerEntry
	err := r.conn(db).WithContext(ctx).
		Where("student_id = ?", studentID).
		Order("year DESC, month DESC").
		Find(&out).Error
	return out, err
}

func (r *repo) ListByPeriod(ctx context.Context, db *gorm.DB, month, year int) ([]domain.LedgerEntry, error) {
	var out []domain.LedgerEntry
	err := r.conn(db).WithContext(ctx).
		Where("month = ? AND year = ?", month, year).
		Order("settled_at ASC").
		Find(&out).Error
	return out, err
}

func (r *repo) ListYears(ctx context.Context, db *gorm.DB) ([]int, error) {
	var out []int
	err := r.conn(db).WithContext(ctx).
		Model(&domain.LedgerEntry{}).
		Distinct("year").
		Order("year DESC").
		Pluck("year", &out).Error
	return out, err
}
