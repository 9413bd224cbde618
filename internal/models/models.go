package models

import "time"

type OrderStatus string

const (
	OrderPending    OrderStatus = "PENDING"
	OrderConfirmed  OrderStatus = "CONFIRMED"
	OrderProcessing OrderStatus = "PROCESSING"
	OrderShipped    OrderStatus = "SHIPPED"
	OrderDelivered  OrderStatus = "DELIVERED"
	OrderCancelled  OrderStatus = "CANCELLED"
	OrderRefunded   OrderStatus = "REFUNDED"
)

type PaymentMethod string

const (
	PaymentCOD          PaymentMethod = "cod"
	PaymentCard         PaymentMethod = "card"
	PaymentBankTransfer PaymentMethod = "bank_transfer"
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
)

type DriverStatus string

const (
	DriverAvailable DriverStatus = "available"
	DriverBusy      DriverStatus = "busy"
	DriverOffline   DriverStatus = "offline"
)

type AssignmentStatus string

const (
	AssignmentPending   AssignmentStatus = "pending"
	AssignmentPickedUp  AssignmentStatus = "picked_up"
	AssignmentInTransit AssignmentStatus = "in_transit"
	AssignmentDelivered AssignmentStatus = "delivered"
	AssignmentFailed    AssignmentStatus = "failed"
)

type Store struct {
	StoreID      string
	Name         string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Driver struct {
	DriverID    string
	StoreID     string
	Name        string
	Phone       string
	Status      DriverStatus
	IsActive    bool
	AccessToken string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Order struct {
	OrderID         string
	StoreID         string
	CustomerName    string
	DeliveryAddress string
	TotalCents      int64
	PaymentMethod   PaymentMethod
	PaymentStatus   PaymentStatus
	Status          OrderStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Assignment struct {
	AssignmentID          string
	OrderID               string
	DriverID              string
	StoreID               string
	Status                AssignmentStatus
	PickupAddress         *string
	EstimatedDeliveryTime *time.Time
	ActualDeliveryTime    *time.Time
	CODAmountCents        int64
	CODCollected          bool
	FeeCents              int64
	ProofOfDelivery       *string
	Notes                 *string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type CODCollection struct {
	CollectionID string
	AssignmentID string
	DriverID     string
	AmountCents  int64
	CollectedAt  time.Time
}

// AssignmentMutation describes one status transition plus the cross-entity
// effects that must commit with it. ExpectedStatus guards the UPDATE so a
// request racing between read and write cannot clobber a newer status.
type AssignmentMutation struct {
	OrderID            string
	ExpectedStatus     AssignmentStatus
	NewStatus          AssignmentStatus
	Notes              *string
	ProofOfDelivery    *string
	CODCollected       *bool
	ActualDeliveryTime *time.Time
	ReleaseDriver      bool
	OrderDelivered     bool
	MarkOrderPaid      bool
	Collection         *CODCollection
}
