package postgres

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/jccalsado/tuition-portal/internal/core/datamodel/payment"
	"github.com/jccalsado/tuition-portal/internal/gateway"
	"gorm.io/gorm"
)

// DetailRepository is the gorm-backed gateway detail store.
type DetailRepository struct {
	db *gorm.DB
}

func NewDetailRepository(db *gorm.DB) *DetailRepository {
	return &DetailRepository{db: db}
}

func (r *DetailRepository) GetByTransaction(gatewayName, transactionID string) (*payment.GatewayDetail, error) {
	var detail payment.GatewayDetail
	err := r.db.First(&detail, "gateway = ? AND gateway_transaction_id = ?", gatewayName, transactionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, gateway.ErrDetailNotFound
	}
	if err != nil {
		return nil, err
	}
	return &detail, nil
}

func (r *DetailRepository) GetLatestByPayment(paymentID int64) (*payment.GatewayDetail, error) {
	var detail payment.GatewayDetail
	err := r.db.
		Where("payment_id = ?", paymentID).
		Order("created_at DESC").
		First(&detail).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, gateway.ErrDetailNotFound
	}
	if err != nil {
		return nil, err
	}
	return &detail, nil
}

func (r *DetailRepository) MarkProcessed(id int64, gatewayStatus string, response json.RawMessage, processedAt time.Time) error {
	updates := map[string]interface{}{
		"gateway_status": gatewayStatus,
		"processed_at":   processedAt,
	}
	if len(response) > 0 {
		updates["gateway_response_data"] = response
	}
	return r.db.Model(&payment.GatewayDetail{}).
		Where("id = ?", id).
		Updates(updates).Error
}
