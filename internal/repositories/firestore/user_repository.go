package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/loomline/api/internal/domain"
	pfirestore "github.com/loomline/api/internal/platform/firestore"
	"github.com/loomline/api/internal/repositories"
)

const usersCollection = "users"

type userDocument struct {
	Email       string    `firestore:"email"`
	DisplayName string    `firestore:"displayName,omitempty"`
	Phone       string    `firestore:"phone,omitempty"`
	OrderRefs   []string  `firestore:"orderRefs,omitempty"`
	CreatedAt   time.Time `firestore:"createdAt"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

// UserRepository implements repositories.UserRepository backed by Firestore.
// Documents are keyed by the auth provider UID.
type UserRepository struct {
	base *pfirestore.BaseRepository[userDocument]
}

var _ repositories.UserRepository = (*UserRepository)(nil)

// NewUserRepository constructs a Firestore-backed user repository.
func NewUserRepository(provider *pfirestore.Provider) (*UserRepository, error) {
	if provider == nil {
		return nil, errors.New("user repository requires firestore provider")
	}
	return &UserRepository{
		base: pfirestore.NewBaseRepository[userDocument](provider, usersCollection),
	}, nil
}

// FindByID fetches a user profile by auth UID.
func (r *UserRepository) FindByID(ctx context.Context, userID string) (domain.User, error) {
	if r == nil || r.base == nil {
		return domain.User{}, errors.New("user repository not initialised")
	}
	doc, err := r.base.Get(ctx, strings.TrimSpace(userID))
	if err != nil {
		return domain.User{}, err
	}
	return decodeUserDocument(doc.ID, doc.Data), nil
}

// FindByEmail locates a user profile by its normalised email.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (domain.User, error) {
	if r == nil || r.base == nil {
		return domain.User{}, errors.New("user repository not initialised")
	}
	email = domain.NormalizeEmail(email)
	if email == "" {
		return domain.User{}, errors.New("user repository: email is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("email", "==", email).Limit(1)
	})
	if err != nil {
		return domain.User{}, err
	}
	if len(docs) == 0 {
		return domain.User{}, pfirestore.WrapError("users.findByEmail", status.Error(codes.NotFound, "user not found"))
	}
	return decodeUserDocument(docs[0].ID, docs[0].Data), nil
}

// Upsert writes the user profile keyed by auth UID.
func (r *UserRepository) Upsert(ctx context.Context, user domain.User) (domain.User, error) {
	if r == nil || r.base == nil {
		return domain.User{}, errors.New("user repository not initialised")
	}
	userID := strings.TrimSpace(user.ID)
	if userID == "" {
		return domain.User{}, errors.New("user repository: user id is required")
	}

	doc := userDocument{
		Email:       domain.NormalizeEmail(user.Email),
		DisplayName: strings.TrimSpace(user.DisplayName),
		Phone:       strings.TrimSpace(user.Phone),
		OrderRefs:   append([]string(nil), user.OrderRefs...),
		CreatedAt:   user.CreatedAt.UTC(),
		UpdatedAt:   user.UpdatedAt.UTC(),
	}
	if err := r.base.Set(ctx, userID, doc); err != nil {
		return domain.User{}, err
	}
	return decodeUserDocument(userID, doc), nil
}

// AppendOrderRef adds an order identifier to the user's order-reference list.
// ArrayUnion gives at-most-once append semantics for duplicate deliveries.
func (r *UserRepository) AppendOrderRef(ctx context.Context, userID string, orderID string) error {
	if r == nil || r.base == nil {
		return errors.New("user repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return errors.New("user repository: order id is required")
	}

	err := r.base.Update(ctx, strings.TrimSpace(userID), []firestore.Update{
		{Path: "orderRefs", Value: firestore.ArrayUnion(orderID)},
		{Path: "updatedAt", Value: time.Now().UTC()},
	}, firestore.Exists)
	return err
}

func decodeUserDocument(id string, doc userDocument) domain.User {
	return domain.User{
		ID:          id,
		Email:       doc.Email,
		DisplayName: doc.DisplayName,
		Phone:       doc.Phone,
		OrderRefs:   doc.OrderRefs,
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
	}
}
