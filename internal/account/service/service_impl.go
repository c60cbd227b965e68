package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/tutorstack/tutorcrm/internal/account/domain"
	"github.com/tutorstack/tutorcrm/internal/clock"
	ledgerdomain "github.com/tutorstack/tutorcrm/internal/ledger/domain"
	paymentdomain "github.com/tutorstack/tutorcrm/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Repo  domain.Repository
	GenID *snowflake.Node
	Clock clock.Clock
	Log   *zap.Logger
}

type service struct {
	db    *gorm.DB
	repo  domain.Repository
	genID *snowflake.Node
	clock clock.Clock
	log   *zap.Logger
}

func NewService(p Params) domain.Service {
	return &service{
		db:    p.DB,
		repo:  p.Repo,
		genID: p.GenID,
		clock: p.Clock,
		log:   p.Log.Named("account"),
	}
}

func (s *service) EnsureAccount(ctx context.Context, telegramID string) (*domain.Account, error) {
	telegramID = strings.TrimSpace(telegramID)
	if telegramID == "" {
		return nil, domain.ErrAccountNotFound
	}
	acc, err := s.repo.FindAccountByTelegramID(ctx, nil, telegramID)
	if err != nil {
		return nil, err
	}
	if acc != nil {
		return acc, nil
	}
	acc = &domain.Account{
		ID:         s.genID.Generate(),
		TelegramID: telegramID,
		CreatedAt:  s.clock.Now(ctx),
	}
	if err := s.repo.InsertAccount(ctx, nil, acc); err != nil {
		return nil, err
	}
	s.log.Info("account created", zap.String("telegram_id", telegramID))
	return acc, nil
}

func (s *service) CompleteRegistration(ctx context.Context, telegramID, fullName string) (*domain.Account, error) {
	acc, err := s.repo.FindAccountByTelegramID(ctx, nil, telegramID)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return nil, domain.ErrAccountNotFound
	}
	acc.FullName = strings.TrimSpace(fullName)
	acc.IsRegistered = true
	acc.RegisteredAt = s.clock.Now(ctx)
	if err := s.repo.UpdateAccount(ctx, nil, acc); err != nil {
		return nil, err
	}
	return acc, nil
}

// CreateProfile creates a student profile and makes it the only active one for
// the account, inside a single transaction.
func (s *service) CreateProfile(ctx context.Context, telegramID, name, gradeKey string) (*domain.Student, error) {
	acc, err := s.repo.FindAccountByTelegramID(ctx, nil, telegramID)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return nil, domain.ErrAccountNotFound
	}

	name = strings.TrimSpace(name)
	existing, err := s.repo.ListStudents(ctx, nil, acc.ID)
	if err != nil {
		return nil, err
	}
	for _, st := range existing {
		if strings.EqualFold(st.Name, name) {
			return nil, domain.ErrProfileNameTaken
		}
	}

	student := &domain.Student{
		ID:        s.genID.Generate(),
		AccountID: acc.ID,
		Name:      name,
		GradeKey:  strings.TrimSpace(gradeKey),
		IsActive:  true,
		CreatedAt: s.clock.Now(ctx),
		UpdatedAt: s.clock.Now(ctx),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.DeactivateStudents(ctx, tx, acc.ID); err != nil {
			return err
		}
		return s.repo.InsertStudent(ctx, tx, student)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("profile created",
		zap.String("telegram_id", telegramID),
		zap.String("grade_key", student.GradeKey))
	return student, nil
}

func (s *service) ListProfiles(ctx context.Context, telegramID string) ([]domain.Student, error) {
	acc, err := s.repo.FindAccountByTelegramID(ctx, nil, telegramID)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return nil, domain.ErrAccountNotFound
	}
	return s.repo.ListStudents(ctx, nil, acc.ID)
}

func (s *service) ActiveProfile(ctx context.Context, telegramID string) (*domain.Student, error) {
	acc, err := s.repo.FindAccountByTelegramID(ctx, nil, telegramID)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return nil, domain.ErrAccountNotFound
	}
	if !acc.IsRegistered {
		return nil, domain.ErrNotRegistered
	}
	st, err := s.repo.FindActiveStudent(ctx, nil, acc.ID)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, domain.ErrNoActiveProfile
	}
	return st, nil
}

func (s *service) SwitchProfile(ctx context.Context, telegramID string, studentID snowflake.ID) (*domain.Student, error) {
	acc, err := s.repo.FindAccountByTelegramID(ctx, nil, telegramID)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return nil, domain.ErrAccountNotFound
	}

	var switched *domain.Student
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		st, err := s.repo.FindStudentByID(ctx, tx, studentID)
		if err != nil {
			return err
		}
		if st == nil || st.AccountID != acc.ID {
			return domain.ErrStudentNotFound
		}
		if err := s.repo.DeactivateStudents(ctx, tx, acc.ID); err != nil {
			return err
		}
		st.IsActive = true
		st.UpdatedAt = s.clock.Now(ctx)
		if err := s.repo.UpdateStudent(ctx, tx, st); err != nil {
			return err
		}
		switched = st
		return nil
	})
	if err != nil {
		return nil, err
	}
	return switched, nil
}

// DeleteProfile removes the student together with its ledger entries and
// pending payments, matching the owner-initiated cascade of the data model.
func (s *service) DeleteProfile(ctx context.Context, telegramID string, studentID snowflake.ID) error {
	acc, err := s.repo.FindAccountByTelegramID(ctx, nil, telegramID)
	if err != nil {
		return err
	}
	if acc == nil {
		return domain.ErrAccountNotFound
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		st, err := s.repo.FindStudentByID(ctx, tx, studentID)
		if err != nil {
			return err
		}
		if st == nil || st.AccountID != acc.ID {
			return domain.ErrStudentNotFound
		}
		if err := tx.Where("student_id = ?", studentID).Delete(&ledgerdomain.LedgerEntry{}).Error; err != nil {
			return err
		}
		if err := tx.Where("student_id = ?", studentID).Delete(&paymentdomain.PendingPayment{}).Error; err != nil {
			return err
		}
		return s.repo.DeleteStudent(ctx, tx, studentID)
	})
}

func (s *service) CreditBalance(ctx context.Context, studentID snowflake.ID, amount int64) (*domain.Student, error) {
	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	var credited *domain.Student
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		st, err := s.repo.FindStudentForUpdate(ctx, tx, studentID)
		if err != nil {
			return err
		}
		if st == nil {
			return domain.ErrStudentNotFound
		}
		st.Balance += amount
		st.UpdatedAt = s.clock.Now(ctx)
		if err := s.repo.UpdateStudent(ctx, tx, st); err != nil {
			return err
		}
		credited = st
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("balance credited",
		zap.Int64("student_id", int64(studentID)),
		zap.Int64("amount", amount))
	return credited, nil
}

func (s *service) GetStudent(ctx context.Context, studentID snowflake.ID) (*domain.Student, error) {
	st, err := s.repo.FindStudentByID(ctx, nil, studentID)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, domain.ErrStudentNotFound
	}
	return st, nil
}

func (s *service) GetAccount(ctx context.Context, id snowflake.ID) (*domain.Account, error) {
	acc, err := s.repo.FindAccountByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return nil, domain.ErrAccountNotFound
	}
	return acc, nil
}

func (s *service) FindByTelegramID(ctx context.Context, telegramID string) (*domain.Account, error) {
	acc, err := s.repo.FindAccountByTelegramID(ctx, nil, telegramID)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return nil, domain.ErrAccountNotFound
	}
	return acc, nil
}

func (s *service) ListAdmins(ctx context.Context) ([]domain.Account, error) {
	return s.repo.ListAdmins(ctx, nil)
}

func (s *service) ListRegistered(ctx context.Context) ([]domain.Account, error) {
	return s.repo.ListRegistered(ctx, nil)
}

func (s *service) ListAllStudents(ctx context.Context) ([]domain.Student, error) {
	return s.repo.ListAllStudents(ctx, nil)
}

func (s *service) ListActiveRegistered(ctx context.Context) ([]domain.Student, error) {
	return s.repo.ListActiveRegistered(ctx, nil)
}
