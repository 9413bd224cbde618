package delivery

import (
	"flowdelivery/internal/models"
)

// Policy decides which assignment status changes are permitted. The tables
// are explicit pair sets rather than an ordering so adding a state later
// can't silently open a transition.
type Policy struct {
	// AllowSkip permits forward jumps (e.g. pending -> delivered) for
	// stores whose drivers only report the final hand-over.
	AllowSkip bool
}

var strictTransitions = map[models.AssignmentStatus]map[models.AssignmentStatus]bool{
	models.AssignmentPending: {
		models.AssignmentPickedUp: true,
		models.AssignmentFailed:   true,
	},
	models.AssignmentPickedUp: {
		models.AssignmentInTransit: true,
		models.AssignmentFailed:    true,
	},
	models.AssignmentInTransit: {
		models.AssignmentDelivered: true,
		models.AssignmentFailed:    true,
	},
}

var skipTransitions = map[models.AssignmentStatus]map[models.AssignmentStatus]bool{
	models.AssignmentPending: {
		models.AssignmentPickedUp:  true,
		models.AssignmentInTransit: true,
		models.AssignmentDelivered: true,
		models.AssignmentFailed:    true,
	},
	models.AssignmentPickedUp: {
		models.AssignmentInTransit: true,
		models.AssignmentDelivered: true,
		models.AssignmentFailed:    true,
	},
	models.AssignmentInTransit: {
		models.AssignmentDelivered: true,
		models.AssignmentFailed:    true,
	},
}

// Allowed reports whether an assignment may move from current to next.
// Terminal states have no outgoing transitions in either table.
func (p Policy) Allowed(current, next models.AssignmentStatus) bool {
	table := strictTransitions
	if p.AllowSkip {
		table = skipTransitions
	}
	return table[current][next]
}

// Terminal reports whether a status ends the assignment's lifecycle.
func Terminal(s models.AssignmentStatus) bool {
	return s == models.AssignmentDelivered || s == models.AssignmentFailed
}

// Valid reports whether s is a known assignment status.
func Valid(s models.AssignmentStatus) bool {
	switch s {
	case models.AssignmentPending, models.AssignmentPickedUp,
		models.AssignmentInTransit, models.AssignmentDelivered,
		models.AssignmentFailed:
		return true
	}
	return false
}

// Statuses lists every assignment status, in lifecycle order.
func Statuses() []models.AssignmentStatus {
	return []models.AssignmentStatus{
		models.AssignmentPending,
		models.AssignmentPickedUp,
		models.AssignmentInTransit,
		models.AssignmentDelivered,
		models.AssignmentFailed,
	}
}

// Effects are the cross-entity writes a transition triggers. Anything not
// set here is a plain status update on the assignment row.
type Effects struct {
	SetActualDeliveryTime bool
	ReleaseDriver         bool
	OrderDelivered        bool
}

// PlanEffects maps a target status to its side effects per the lifecycle
// contract: delivered completes the order and frees the driver, failed only
// frees the driver (the order stays as-is for the owner to handle).
func PlanEffects(next models.AssignmentStatus) Effects {
	switch next {
	case models.AssignmentDelivered:
		return Effects{
			SetActualDeliveryTime: true,
			ReleaseDriver:         true,
			OrderDelivered:        true,
		}
	case models.AssignmentFailed:
		return Effects{ReleaseDriver: true}
	default:
		return Effects{}
	}
}
