package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	domain "github.com/loomline/api/internal/domain"
	"github.com/loomline/api/internal/repositories"
)

var (
	// ErrUserInvalidInput indicates the caller supplied invalid profile data.
	ErrUserInvalidInput = errors.New("user service: invalid input")
	// ErrUserNotFound indicates the requested profile or address does not exist.
	ErrUserNotFound = errors.New("user service: not found")
)

// UserServiceDeps bundles constructor inputs for the user service.
type UserServiceDeps struct {
	Users     repositories.UserRepository
	Addresses repositories.AddressRepository
	Clock     func() time.Time
	Logger    func(context.Context, string, map[string]any)
}

type userService struct {
	users     repositories.UserRepository
	addresses repositories.AddressRepository
	clock     func() time.Time
	logger    func(context.Context, string, map[string]any)
}

// NewUserService constructs the user profile and address-book service.
func NewUserService(deps UserServiceDeps) (UserService, error) {
	if deps.Users == nil {
		return nil, errors.New("user service: user repository is required")
	}
	if deps.Addresses == nil {
		return nil, errors.New("user service: address repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &userService{
		users:     deps.Users,
		addresses: deps.Addresses,
		clock:     func() time.Time { return clock().UTC() },
		logger:    logger,
	}, nil
}

var _ UserService = (*userService)(nil)

func (s *userService) GetProfile(ctx context.Context, userID string) (User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return User{}, fmt.Errorf("%w: user id is required", ErrUserInvalidInput)
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return User{}, mapUserRepositoryError(err)
	}
	return user, nil
}

func (s *userService) SaveProfile(ctx context.Context, cmd SaveProfileCommand) (User, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return User{}, fmt.Errorf("%w: user id is required", ErrUserInvalidInput)
	}
	email := domain.NormalizeEmail(cmd.Email)
	if email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			return User{}, fmt.Errorf("%w: email is malformed", ErrUserInvalidInput)
		}
	}

	user := domain.User{
		ID:          userID,
		Email:       email,
		DisplayName: strings.TrimSpace(cmd.DisplayName),
		Phone:       strings.TrimSpace(cmd.Phone),
		UpdatedAt:   s.clock(),
	}
	saved, err := s.users.Upsert(ctx, user)
	if err != nil {
		return User{}, mapUserRepositoryError(err)
	}
	s.logger(ctx, "user.profile.saved", map[string]any{"userId": userID})
	return saved, nil
}

func (s *userService) ListAddresses(ctx context.Context, userID string) ([]Address, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrUserInvalidInput)
	}
	addresses, err := s.addresses.List(ctx, userID)
	if err != nil {
		return nil, mapUserRepositoryError(err)
	}
	return addresses, nil
}

func (s *userService) SaveAddress(ctx context.Context, cmd SaveAddressCommand) (Address, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Address{}, fmt.Errorf("%w: user id is required", ErrUserInvalidInput)
	}
	required := []struct {
		field, value string
	}{
		{"name", cmd.Name},
		{"phone", cmd.Phone},
		{"street", cmd.Street},
		{"city", cmd.City},
		{"postalCode", cmd.PostalCode},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return Address{}, fmt.Errorf("%w: %s is required", ErrUserInvalidInput, r.field)
		}
	}

	country := strings.TrimSpace(cmd.Country)
	if country == "" {
		country = defaultOrderCountry
	}

	addr := domain.Address{
		UserID:     userID,
		Label:      strings.TrimSpace(cmd.Label),
		Name:       strings.TrimSpace(cmd.Name),
		Phone:      strings.TrimSpace(cmd.Phone),
		Street:     strings.TrimSpace(cmd.Street),
		City:       strings.TrimSpace(cmd.City),
		PostalCode: strings.TrimSpace(cmd.PostalCode),
		Country:    country,
		IsDefault:  cmd.IsDefault,
	}

	saved, err := s.addresses.Upsert(ctx, userID, cmd.AddressID, addr)
	if err != nil {
		return Address{}, mapUserRepositoryError(err)
	}
	if cmd.IsDefault {
		if saved, err = s.addresses.SetDefault(ctx, userID, saved.ID); err != nil {
			return Address{}, mapUserRepositoryError(err)
		}
	}
	s.logger(ctx, "user.address.saved", map[string]any{"userId": userID, "addressId": saved.ID})
	return saved, nil
}

func (s *userService) DeleteAddress(ctx context.Context, userID string, addressID string) error {
	userID = strings.TrimSpace(userID)
	addressID = strings.TrimSpace(addressID)
	if userID == "" || addressID == "" {
		return fmt.Errorf("%w: user id and address id are required", ErrUserInvalidInput)
	}
	if err := s.addresses.Delete(ctx, userID, addressID); err != nil {
		return mapUserRepositoryError(err)
	}
	return nil
}

func (s *userService) SetDefaultAddress(ctx context.Context, userID string, addressID string) (Address, error) {
	userID = strings.TrimSpace(userID)
	addressID = strings.TrimSpace(addressID)
	if userID == "" || addressID == "" {
		return Address{}, fmt.Errorf("%w: user id and address id are required", ErrUserInvalidInput)
	}
	addr, err := s.addresses.SetDefault(ctx, userID, addressID)
	if err != nil {
		return Address{}, mapUserRepositoryError(err)
	}
	return addr, nil
}

func mapUserRepositoryError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return fmt.Errorf("%w: %v", ErrUserNotFound, err)
	}
	return err
}
