package services

import (
	"context"
	"errors"
	"time"

	"flowdelivery/internal/models"
	"flowdelivery/internal/store"

	"github.com/google/uuid"
)

var (
	ErrOrderNotFound        = errors.New("order not found")
	ErrInvalidTotal         = errors.New("total must be positive")
	ErrInvalidPaymentMethod = errors.New("unknown payment method")
)

type OrderRepository interface {
	CreateOrder(ctx context.Context, o *models.Order) error
	OrderByID(ctx context.Context, orderID string) (*models.Order, error)
	ListOrders(ctx context.Context, storeID string) ([]*models.Order, error)
}

type OrderService struct {
	repo OrderRepository
}

func NewOrderService(repo OrderRepository) *OrderService {
	return &OrderService{repo: repo}
}

type NewOrder struct {
	CustomerName    string
	DeliveryAddress string
	TotalCents      int64
	PaymentMethod   models.PaymentMethod
}

func (s *OrderService) Create(ctx context.Context, storeID string, in NewOrder) (*models.Order, error) {
	if in.TotalCents <= 0 {
		return nil, ErrInvalidTotal
	}
	switch in.PaymentMethod {
	case models.PaymentCOD, models.PaymentCard, models.PaymentBankTransfer:
	default:
		return nil, ErrInvalidPaymentMethod
	}
	o := &models.Order{
		OrderID:         uuid.NewString(),
		StoreID:         storeID,
		CustomerName:    in.CustomerName,
		DeliveryAddress: in.DeliveryAddress,
		TotalCents:      in.TotalCents,
		PaymentMethod:   in.PaymentMethod,
		PaymentStatus:   models.PaymentPending,
		Status:          models.OrderPending,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.repo.CreateOrder(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *OrderService) Get(ctx context.Context, storeID, orderID string) (*models.Order, error) {
	o, err := s.repo.OrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	if o.StoreID != storeID {
		return nil, ErrOrderNotFound
	}
	return o, nil
}

func (s *OrderService) List(ctx context.Context, storeID string) ([]*models.Order, error) {
	return s.repo.ListOrders(ctx, storeID)
}
