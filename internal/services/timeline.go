package services

import "flowdelivery/internal/models"

type TimelineStep struct {
	Status    models.OrderStatus
	Completed bool
	Current   bool
}

var canonicalSteps = []models.OrderStatus{
	models.OrderPending,
	models.OrderConfirmed,
	models.OrderProcessing,
	models.OrderShipped,
	models.OrderDelivered,
}

// OrderTimeline projects an order status onto the canonical fulfillment
// steps. Cancelled and refunded orders collapse to placement plus a terminal
// step, since the remaining steps will never happen.
func OrderTimeline(status models.OrderStatus) []TimelineStep {
	if status == models.OrderCancelled || status == models.OrderRefunded {
		return []TimelineStep{
			{Status: models.OrderPending, Completed: true},
			{Status: status, Current: true},
		}
	}

	idx := 0
	for i, s := range canonicalSteps {
		if s == status {
			idx = i
			break
		}
	}

	steps := make([]TimelineStep, len(canonicalSteps))
	for i, s := range canonicalSteps {
		steps[i] = TimelineStep{
			Status:    s,
			Completed: i < idx || (i == idx && status == models.OrderDelivered),
			Current:   i == idx,
		}
	}
	return steps
}
