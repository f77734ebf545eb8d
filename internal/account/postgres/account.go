package postgres

import (
	"errors"

	accountpkg "github.com/jccalsado/tuition-portal/internal/account"
	"github.com/jccalsado/tuition-portal/internal/core/datamodel/account"
	"github.com/jccalsado/tuition-portal/internal/core/datamodel/feeitem"
	"github.com/jccalsado/tuition-portal/internal/core/datamodel/payment"
	"github.com/jccalsado/tuition-portal/internal/core/datamodel/student"
	"github.com/jccalsado/tuition-portal/internal/core/money"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AccountRepository implements account.Repository using GORM
type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) accountpkg.Repository {
	return &AccountRepository{db: db}
}

// InRecalculation locks the student's account row for the duration of fn.
// The row lock is what keeps concurrent recalculations from both seeing
// the same previous balance and double-promoting the student.
func (r *AccountRepository) InRecalculation(studentID int64, fn func(acct *account.Account) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var acct account.Account
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("student_id = ?", studentID).
			First(&acct).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			acct = account.Account{
				StudentID: studentID,
				Balance:   money.Zero,
			}
			if err := tx.Create(&acct).Error; err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		if err := fn(&acct); err != nil {
			return err
		}
		return tx.Save(&acct).Error
	})
}

func (r *AccountRepository) SumFeeItemBalances(studentID int64) (money.Money, error) {
	return r.sumColumn(&feeitem.FeeItem{}, "balance", "student_id = ?", studentID)
}

func (r *AccountRepository) SumWaivers(studentID int64) (money.Money, error) {
	return r.sumColumn(&feeitem.FeeItem{}, "waiver_amount", "student_id = ?", studentID)
}

func (r *AccountRepository) SumCharges(studentID int64) (money.Money, error) {
	return r.sumTransactions(studentID, payment.TransactionTypeCharge)
}

func (r *AccountRepository) SumPayments(studentID int64) (money.Money, error) {
	return r.sumTransactions(studentID, payment.TransactionTypePayment)
}

func (r *AccountRepository) sumTransactions(studentID int64, txnType string) (money.Money, error) {
	var total money.Money
	err := r.db.Model(&payment.Transaction{}).
		Where("student_id = ? AND type = ?", studentID, txnType).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	return total, err
}

func (r *AccountRepository) sumColumn(model interface{}, column string, query string, args ...interface{}) (money.Money, error) {
	var total money.Money
	err := r.db.Model(model).
		Where(query, args...).
		Select("COALESCE(SUM(" + column + "), 0)").
		Scan(&total).Error
	return total, err
}

// StudentRepository implements account.StudentRepository using GORM
type StudentRepository struct {
	db *gorm.DB
}

func NewStudentRepository(db *gorm.DB) accountpkg.StudentRepository {
	return &StudentRepository{db: db}
}

func (r *StudentRepository) GetByID(id int64) (*student.Student, error) {
	var st student.Student
	err := r.db.First(&st, id).Error
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (r *StudentRepository) Update(st *student.Student) error {
	return r.db.Save(st).Error
}
