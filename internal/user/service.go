package user

import (
	"context"
	"errors"
	"fmt"

	"github.com/frahmantamala/zenn-checkout/internal"
)

type Repository interface {
	GetByID(ctx context.Context, userID int64) (*User, error)
	GetPermissions(ctx context.Context, userID int64) ([]string, error)
	Create(ctx context.Context, u *User, permissions []string) error
}

// PasswordHasher turns a plain password into the stored hash.
type PasswordHasher interface {
	HashPassword(password string) (string, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{
		repo: repo,
	}
}

func (s *Service) GetByID(ctx context.Context, userID int64) (*User, error) {
	u, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, internal.NewNotFoundError("user not found", internal.ErrCodeUserNotFound)
		}
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}

	perms, err := s.repo.GetPermissions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user permissions: %w", err)
	}
	u.Permissions = perms

	return u, nil
}

func (s *Service) Create(ctx context.Context, dto CreateUserDTO, hasher PasswordHasher) (*User, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}

	hash, err := hasher.HashPassword(dto.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	u := &User{
		Email:        dto.Email,
		Name:         dto.Name,
		Phone:        dto.Phone,
		PasswordHash: hash,
		IsActive:     true,
	}
	if err := s.repo.Create(ctx, u, dto.Permissions); err != nil {
		return nil, err
	}
	u.Permissions = dto.Permissions
	return u, nil
}
