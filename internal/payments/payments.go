package payments

import (
	"time"

	"flowdelivery/internal/models"

	"github.com/google/uuid"
)

// SettleOnDelivery decides the payment outcome of a completed delivery.
// A COD order whose driver confirmed collection becomes paid and produces a
// settlement record; everything else leaves payment state untouched.
func SettleOnDelivery(order *models.Order, a *models.Assignment, codCollected *bool, deliveredAt time.Time) (markPaid bool, collection *models.CODCollection) {
	if order.PaymentMethod != models.PaymentCOD {
		return false, nil
	}
	if codCollected == nil || !*codCollected {
		return false, nil
	}
	return true, &models.CODCollection{
		CollectionID: uuid.NewString(),
		AssignmentID: a.AssignmentID,
		DriverID:     a.DriverID,
		AmountCents:  a.CODAmountCents,
		CollectedAt:  deliveredAt,
	}
}
