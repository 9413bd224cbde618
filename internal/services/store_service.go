package services

import (
	"context"
	"errors"
	"time"

	"flowdelivery/internal/auth"
	"flowdelivery/internal/models"
	"flowdelivery/internal/store"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrPasswordTooShort   = errors.New("password must be at least 8 characters")
)

type StoreRepository interface {
	CreateStore(ctx context.Context, st *models.Store) error
	StoreByEmail(ctx context.Context, email string) (*models.Store, error)
}

type StoreService struct {
	repo      StoreRepository
	jwtSecret []byte
	tokenTTL  time.Duration
}

func NewStoreService(repo StoreRepository, jwtSecret []byte, tokenTTL time.Duration) *StoreService {
	return &StoreService{repo: repo, jwtSecret: jwtSecret, tokenTTL: tokenTTL}
}

func (s *StoreService) Register(ctx context.Context, name, email, password string) (*models.Store, error) {
	if len(password) < 8 {
		return nil, ErrPasswordTooShort
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	st := &models.Store{
		StoreID:      uuid.NewString(),
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.repo.CreateStore(ctx, st); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	return st, nil
}

func (s *StoreService) Login(ctx context.Context, email, password string) (string, error) {
	st, err := s.repo.StoreByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrInvalidCredentials
		}
		return "", err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(st.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return auth.NewSessionToken(s.jwtSecret, st.StoreID, s.tokenTTL)
}
