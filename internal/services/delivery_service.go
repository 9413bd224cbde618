package services

import (
	"context"
	"errors"
	"time"

	"flowdelivery/internal/auth"
	"flowdelivery/internal/delivery"
	"flowdelivery/internal/models"
	"flowdelivery/internal/payments"
	"flowdelivery/internal/pricing"
	"flowdelivery/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrAlreadyAssigned   = errors.New("order already has a delivery assignment")
	ErrNoAssignment      = errors.New("order has no delivery assignment")
	ErrInvalidStatus     = errors.New("unknown assignment status")
	ErrInvalidTransition = errors.New("status transition not allowed")
	ErrForeignAssignment = errors.New("assignment belongs to another driver")
)

type DeliveryRepository interface {
	OrderByID(ctx context.Context, orderID string) (*models.Order, error)
	DriverByID(ctx context.Context, storeID, driverID string) (*models.Driver, error)
	AssignmentByOrder(ctx context.Context, orderID string) (*models.Assignment, error)
	CreateAssignment(ctx context.Context, a *models.Assignment) error
	ApplyTransition(ctx context.Context, m models.AssignmentMutation) (*models.Assignment, error)
}

// StatusNotifier receives committed transitions for live tracking fan-out.
type StatusNotifier interface {
	PublishStatus(orderID string, status models.AssignmentStatus, occurredAt time.Time)
}

type DeliveryService struct {
	repo     DeliveryRepository
	policy   delivery.Policy
	pricing  pricing.Policy
	notifier StatusNotifier
	log      *zap.Logger
}

func NewDeliveryService(repo DeliveryRepository, policy delivery.Policy, pricing pricing.Policy, notifier StatusNotifier, log *zap.Logger) *DeliveryService {
	if log == nil {
		log = zap.NewNop()
	}
	return &DeliveryService{repo: repo, policy: policy, pricing: pricing, notifier: notifier, log: log}
}

type AssignInput struct {
	DriverID              string
	PickupAddress         *string
	EstimatedDeliveryTime *time.Time
}

// Assign links a driver to an order. One assignment per order, ever; the
// driver must be active and free.
func (s *DeliveryService) Assign(ctx context.Context, storeID, orderID string, in AssignInput) (*models.Assignment, error) {
	order, err := s.repo.OrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	if order.StoreID != storeID {
		return nil, ErrOrderNotFound
	}

	if _, err := s.repo.AssignmentByOrder(ctx, orderID); err == nil {
		return nil, ErrAlreadyAssigned
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	driver, err := s.repo.DriverByID(ctx, storeID, in.DriverID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrDriverNotFound
		}
		return nil, err
	}
	if !driver.IsActive {
		return nil, ErrDriverNotFound
	}
	if driver.Status == models.DriverBusy {
		return nil, ErrDriverBusy
	}

	a := &models.Assignment{
		AssignmentID:          uuid.NewString(),
		OrderID:               orderID,
		DriverID:              driver.DriverID,
		StoreID:               storeID,
		Status:                models.AssignmentPending,
		PickupAddress:         in.PickupAddress,
		EstimatedDeliveryTime: in.EstimatedDeliveryTime,
		CODAmountCents:        s.pricing.CODAmount(order),
		FeeCents:              s.pricing.DeliveryFee(order),
		CreatedAt:             time.Now().UTC(),
	}
	if err := s.repo.CreateAssignment(ctx, a); err != nil {
		if errors.Is(err, store.ErrAlreadyAssigned) {
			return nil, ErrAlreadyAssigned
		}
		return nil, err
	}

	s.log.Info("driver assigned",
		zap.String("order_id", orderID),
		zap.String("driver_id", driver.DriverID))
	return a, nil
}

type StatusInput struct {
	Status          models.AssignmentStatus
	ProofOfDelivery *string
	CODCollected    *bool
	Notes           *string
}

// UpdateStatus drives the assignment state machine. The transition check and
// every side effect commit in one transaction; a rejected transition mutates
// nothing.
func (s *DeliveryService) UpdateStatus(ctx context.Context, p *auth.Principal, orderID string, in StatusInput) (*models.Assignment, error) {
	if !delivery.Valid(in.Status) {
		return nil, ErrInvalidStatus
	}

	a, err := s.repo.AssignmentByOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNoAssignment
		}
		return nil, err
	}
	if err := authorizeAssignment(p, a); err != nil {
		return nil, err
	}

	// One retry: if another request commits between our read and the guarded
	// write, re-read and re-validate against the fresh status.
	for attempt := 0; attempt < 2; attempt++ {
		if !s.policy.Allowed(a.Status, in.Status) {
			return nil, ErrInvalidTransition
		}

		m := models.AssignmentMutation{
			OrderID:         orderID,
			ExpectedStatus:  a.Status,
			NewStatus:       in.Status,
			Notes:           in.Notes,
			ProofOfDelivery: in.ProofOfDelivery,
			CODCollected:    in.CODCollected,
		}

		effects := delivery.PlanEffects(in.Status)
		m.ReleaseDriver = effects.ReleaseDriver
		m.OrderDelivered = effects.OrderDelivered
		if effects.SetActualDeliveryTime {
			now := time.Now().UTC()
			m.ActualDeliveryTime = &now

			order, err := s.repo.OrderByID(ctx, orderID)
			if err != nil {
				return nil, err
			}
			markPaid, collection := payments.SettleOnDelivery(order, a, in.CODCollected, now)
			m.MarkOrderPaid = markPaid
			m.Collection = collection
		}

		updated, err := s.repo.ApplyTransition(ctx, m)
		if errors.Is(err, store.ErrStatusConflict) {
			a, err = s.repo.AssignmentByOrder(ctx, orderID)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return nil, ErrNoAssignment
				}
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, err
		}

		s.log.Info("delivery status updated",
			zap.String("order_id", orderID),
			zap.String("from", string(m.ExpectedStatus)),
			zap.String("to", string(in.Status)))
		if s.notifier != nil {
			s.notifier.PublishStatus(orderID, updated.Status, time.Now().UTC())
		}
		return updated, nil
	}
	return nil, ErrInvalidTransition
}

func authorizeAssignment(p *auth.Principal, a *models.Assignment) error {
	if p == nil {
		return ErrForeignAssignment
	}
	switch p.Kind {
	case auth.KindStoreOwner:
		if a.StoreID != p.StoreID {
			return ErrNoAssignment
		}
	case auth.KindDriver:
		if a.DriverID != p.DriverID {
			return ErrForeignAssignment
		}
	default:
		return ErrForeignAssignment
	}
	return nil
}

// TrackingView is the public read projection for one order's delivery.
type TrackingView struct {
	Order      *models.Order
	Assignment *models.Assignment
	DriverName string
	Timeline   []TimelineStep
}

func (s *DeliveryService) Track(ctx context.Context, orderID string) (*TrackingView, error) {
	order, err := s.repo.OrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}

	view := &TrackingView{
		Order:    order,
		Timeline: OrderTimeline(order.Status),
	}

	a, err := s.repo.AssignmentByOrder(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return view, nil
	}
	if err != nil {
		return nil, err
	}
	view.Assignment = a

	if driver, err := s.repo.DriverByID(ctx, a.StoreID, a.DriverID); err == nil {
		view.DriverName = driver.Name
	}
	return view, nil
}
