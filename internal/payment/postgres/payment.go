package postgres

import (
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	datamodel "github.com/jccalsado/tuition-portal/internal/core/datamodel/feeitem"
	"github.com/jccalsado/tuition-portal/internal/core/datamodel/payment"
	"github.com/jccalsado/tuition-portal/internal/fraud"
	paymentdomain "github.com/jccalsado/tuition-portal/internal/payment"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PaymentRepository is the gorm-backed payment store.
type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) CreatePayment(p *payment.Payment, allocations []payment.Allocation) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(p).Error; err != nil {
			return err
		}
		for i := range allocations {
			allocations[i].PaymentID = p.ID
		}
		if len(allocations) > 0 {
			if err := tx.Create(&allocations).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *PaymentRepository) GetPayment(id int64) (*payment.Payment, error) {
	var p payment.Payment
	err := r.db.Preload("Allocations").First(&p, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, paymentdomain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PaymentRepository) GetByReference(referenceNumber string) (*payment.Payment, error) {
	var p payment.Payment
	err := r.db.Preload("Allocations").First(&p, "reference_number = ?", referenceNumber).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, paymentdomain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PaymentRepository) GetByStudent(studentID int64, limit, offset int) ([]*payment.Payment, error) {
	var payments []*payment.Payment
	err := r.db.
		Where("student_id = ?", studentID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&payments).Error
	if err != nil {
		return nil, err
	}
	return payments, nil
}

func (r *PaymentRepository) ReceiptNumberExists(receiptNumber string) (bool, error) {
	var count int64
	err := r.db.Model(&payment.Payment{}).
		Where("receipt_number = ?", receiptNumber).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *PaymentRepository) CreateGatewayDetail(d *payment.GatewayDetail) error {
	return r.db.Create(d).Error
}

func (r *PaymentRepository) HistoryForStudent(studentID int64, since time.Time) (fraud.History, error) {
	var payments []payment.Payment
	err := r.db.
		Where("student_id = ? AND created_at >= ?", studentID, since).
		Order("created_at ASC").
		Find(&payments).Error
	if err != nil {
		return fraud.History{}, err
	}

	hist := fraud.History{Payments: make([]fraud.HistoricalPayment, 0, len(payments))}
	for _, p := range payments {
		hist.Payments = append(hist.Payments, fraud.HistoricalPayment{
			Amount:        p.Amount,
			PaymentMethod: p.PaymentMethod,
			Status:        p.Status,
			CreatedAt:     p.CreatedAt,
			PaidAt:        p.PaidAt,
		})
	}
	return hist, nil
}

// InTransition loads the payment FOR UPDATE and runs fn in the same
// transaction, so the state change and its ledger writes commit together.
func (r *PaymentRepository) InTransition(paymentID int64, fn func(ts paymentdomain.TransitionStore, p *payment.Payment) error) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var p payment.Payment
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&p, "id = ?", paymentID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return paymentdomain.ErrNotFound
		}
		if err != nil {
			return err
		}

		return fn(&transitionStore{tx: tx}, &p)
	})
	if err != nil && isSerializationFailure(err) {
		return paymentdomain.ErrConflict
	}
	return err
}

type transitionStore struct {
	tx *gorm.DB
}

func (s *transitionStore) SavePayment(p *payment.Payment) error {
	return s.tx.Save(p).Error
}

func (s *transitionStore) Allocations(paymentID int64) ([]payment.Allocation, error) {
	var allocations []payment.Allocation
	err := s.tx.
		Where("payment_id = ?", paymentID).
		Order("id ASC").
		Find(&allocations).Error
	if err != nil {
		return nil, err
	}
	return allocations, nil
}

func (s *transitionStore) LockFeeItem(id int64) (*datamodel.FeeItem, error) {
	var item datamodel.FeeItem
	err := s.tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, paymentdomain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *transitionStore) SaveFeeItem(item *datamodel.FeeItem) error {
	return s.tx.Save(item).Error
}

func (s *transitionStore) HasTransaction(paymentID int64) (bool, error) {
	var count int64
	err := s.tx.Model(&payment.Transaction{}).
		Where("payment_id = ?", paymentID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *transitionStore) CreateTransaction(t *payment.Transaction) error {
	return s.tx.Create(t).Error
}

func (s *transitionStore) CountActivePayments(feeItemID, excludePaymentID int64) (int64, error) {
	var count int64
	err := s.tx.Model(&payment.Allocation{}).
		Joins("JOIN payments ON payments.id = payment_allocations.payment_id").
		Where("payment_allocations.fee_item_id = ?", feeItemID).
		Where("payment_allocations.payment_id <> ?", excludePaymentID).
		Where("payments.status IN ?", []string{payment.StatusInitiated, payment.StatusPending}).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}
