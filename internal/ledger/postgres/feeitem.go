package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jccalsado/tuition-portal/internal/core/datamodel/feeitem"
	"github.com/jccalsado/tuition-portal/internal/core/datamodel/payment"
	"github.com/jccalsado/tuition-portal/internal/ledger"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FeeItemRepository implements ledger.Repository using GORM
type FeeItemRepository struct {
	db *gorm.DB
}

func NewFeeItemRepository(db *gorm.DB) ledger.Repository {
	return &FeeItemRepository{db: db}
}

func (r *FeeItemRepository) GetByID(id int64) (*feeitem.FeeItem, error) {
	var item feeitem.FeeItem
	err := r.db.First(&item, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ledger.ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (r *FeeItemRepository) GetByIDs(ids []int64) ([]*feeitem.FeeItem, error) {
	var items []*feeitem.FeeItem
	err := r.db.Where("id IN ?", ids).
		Order("created_at ASC").
		Find(&items).Error
	return items, err
}

func (r *FeeItemRepository) GetSettleableByStudent(studentID int64) ([]*feeitem.FeeItem, error) {
	var items []*feeitem.FeeItem
	err := r.db.Where("student_id = ? AND status IN ?", studentID,
		[]string{feeitem.StatusPending, feeitem.StatusProcessing, feeitem.StatusPartial}).
		Order("created_at ASC").
		Find(&items).Error
	return items, err
}

// Create writes the fee item together with its charge transaction so the
// fee-item and transaction balance views never diverge.
func (r *FeeItemRepository) Create(item *feeitem.FeeItem) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(item).Error; err != nil {
			return err
		}
		return tx.Create(&payment.Transaction{
			StudentID:   item.StudentID,
			FeeItemID:   &item.ID,
			Type:        payment.TransactionTypeCharge,
			Amount:      item.OriginalAmount,
			Description: item.Description,
		}).Error
	})
}

// UpdateWithLock re-reads the row under FOR UPDATE inside a transaction so
// concurrent applications against the same item serialize instead of
// computing deltas from stale state.
func (r *FeeItemRepository) UpdateWithLock(id int64, apply func(*feeitem.FeeItem) error) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var item feeitem.FeeItem
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&item, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ledger.ErrNotFound
			}
			return err
		}

		if err := apply(&item); err != nil {
			return err
		}

		return tx.Save(&item).Error
	})

	if isSerializationFailure(err) {
		return ledger.ErrConflict
	}
	return err
}

// isSerializationFailure detects postgres serialization and deadlock
// aborts, both of which are safe to retry.
func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}
