package outbox

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const maxDLQErrorLen = 1024

// DLQRepository keeps order events the relay gave up on, with the payload
// intact so they can be replayed by hand.
type DLQRepository struct {
	db *gorm.DB
}

func NewDLQRepository(db *gorm.DB) *DLQRepository {
	return &DLQRepository{db: db}
}

// BuryTx copies row into outbox_dlq inside tx. The attempt count is the
// row's as fetched; the caller marks the row terminal in the same tx.
func (r *DLQRepository) BuryTx(tx *gorm.DB, row models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error, failedAt time.Time) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if !reason.IsValid() {
		return errors.New("unknown dead-letter reason")
	}
	entry := models.OutboxDLQ{
		EventID:       row.ID,
		EventType:     row.EventType,
		AggregateType: row.AggregateType,
		AggregateID:   row.AggregateID,
		Payload:       row.Payload,
		ErrorReason:   reason,
		AttemptCount:  row.AttemptCount,
		FailedAt:      failedAt.UTC(),
	}
	if cause != nil {
		msg := truncateDLQError(cause.Error())
		entry.ErrorMessage = &msg
	}
	return tx.Create(&entry).Error
}

// ForOrder lists the dead letters recorded for one order, oldest first.
func (r *DLQRepository) ForOrder(ctx context.Context, orderID uuid.UUID) ([]models.OutboxDLQ, error) {
	var rows []models.OutboxDLQ
	err := r.db.WithContext(ctx).
		Where("aggregate_type = ? AND aggregate_id = ?", enums.AggregateOrder, orderID).
		Order("failed_at ASC").
		Find(&rows).Error
	return rows, err
}

// truncateDLQError cuts on a rune boundary so Vietnamese gateway messages
// stay valid UTF-8.
func truncateDLQError(message string) string {
	if len(message) <= maxDLQErrorLen {
		return message
	}
	cut := maxDLQErrorLen
	for cut > 0 && !utf8.RuneStart(message[cut]) {
		cut--
	}
	return message[:cut]
}
