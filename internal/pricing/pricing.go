package pricing

import "flowdelivery/internal/models"

// Policy holds the store-wide delivery pricing knobs.
type Policy struct {
	FlatFeeCents int64
}

// CODAmount is the cash the driver must collect at the door: the full order
// total for cash-on-delivery orders, zero for anything prepaid.
func (p Policy) CODAmount(o *models.Order) int64 {
	if o.PaymentMethod == models.PaymentCOD {
		return o.TotalCents
	}
	return 0
}

// DeliveryFee is recorded on the assignment for settlement reporting.
func (p Policy) DeliveryFee(o *models.Order) int64 {
	return p.FlatFeeCents
}
