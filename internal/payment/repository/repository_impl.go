package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/tutorstack/tutorcrm/internal/payment/domain"
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

func (r *repo) Insert(ctx context.Context, db *gorm.DB, p *domain.PendingPayment) error {
	return r.conn(db).WithContext(ctx).Create(p).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, p *domain.PendingPayment) error {
	return r.conn(db).WithContext(ctx).Save(p).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.PendingPayment, error) {
	var p domain.PendingPayment
	err := r.conn(db).WithContext(ctx).First(&p, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// FindByIDForUpdate locks the row so racing webhook and poll transitions of
// the same payment serialize. Must run inside a transaction. SQLite has no
// row-level locks; its single writer already serializes the transaction.
func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.PendingPayment, error) {
	q := r.conn(db).WithContext(ctx)
	if q.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var p domain.PendingPayment
	err := q.First(&p, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (r *repo) FindByGatewayID(ctx context.Context, db *gorm.DB, gatewayID string) (*domain.PendingPayment, error) {
	var p domain.PendingPayment
	err := r.conn(db).WithContext(ctx).Where("gateway_id = ?", gatewayID).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (r *repo) ListInFlight(ctx context.Context, db *gorm.DB) ([]domain.PendingPayment, error) {
	var out []domain.PendingPayment
	err := r.conn(db).WithContext(ctx).
		Where("status IN ?", []string{domain.StatusPending, domain.StatusAwaitingCapture}).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}

func (r *repo) ListByStudent(ctx context.Context, db *gorm.DB, studentID snowflake.ID) ([]domain.PendingPayment, error) {
	var out []domain.PendingPayment
	err := r.conn(db).WithContext(ctx).
		Where("student_id = ?", studentID).
		Order("created_at DESC").
		Find(&out).Error
	return out, err
}
