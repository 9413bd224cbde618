package services

import (
	"context"
	"errors"
	"time"

	"flowdelivery/internal/auth"
	"flowdelivery/internal/models"
	"flowdelivery/internal/store"

	"github.com/google/uuid"
)

var (
	ErrDriverNotFound = errors.New("driver not found")
	ErrDriverBusy     = errors.New("driver has an active delivery")
)

type DriverRepository interface {
	CreateDriver(ctx context.Context, d *models.Driver) error
	DriverByID(ctx context.Context, storeID, driverID string) (*models.Driver, error)
	ListDrivers(ctx context.Context, storeID string) ([]*models.Driver, error)
	SetDriverActive(ctx context.Context, storeID, driverID string, active bool) error
}

type DriverService struct {
	repo DriverRepository
}

func NewDriverService(repo DriverRepository) *DriverService {
	return &DriverService{repo: repo}
}

// Create registers a courier for the store. The returned driver carries the
// capability token; it is shown to the owner once and never listed again.
func (s *DriverService) Create(ctx context.Context, storeID, name, phone string) (*models.Driver, error) {
	token, err := auth.NewDriverToken()
	if err != nil {
		return nil, err
	}
	d := &models.Driver{
		DriverID:    uuid.NewString(),
		StoreID:     storeID,
		Name:        name,
		Phone:       phone,
		Status:      models.DriverAvailable,
		IsActive:    true,
		AccessToken: token,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.repo.CreateDriver(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *DriverService) List(ctx context.Context, storeID string) ([]*models.Driver, error) {
	return s.repo.ListDrivers(ctx, storeID)
}

func (s *DriverService) SetActive(ctx context.Context, storeID, driverID string, active bool) error {
	d, err := s.repo.DriverByID(ctx, storeID, driverID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrDriverNotFound
		}
		return err
	}
	if !active && d.Status == models.DriverBusy {
		return ErrDriverBusy
	}
	if err := s.repo.SetDriverActive(ctx, storeID, driverID, active); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrDriverNotFound
		}
		return err
	}
	return nil
}
