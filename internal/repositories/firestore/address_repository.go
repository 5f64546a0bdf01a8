package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/oklog/ulid/v2"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/loomline/api/internal/domain"
	pfirestore "github.com/loomline/api/internal/platform/firestore"
	"github.com/loomline/api/internal/repositories"
)

const addressCollectionPattern = "users/%s/addresses"

type addressDocument struct {
	Label      string    `firestore:"label,omitempty"`
	Name       string    `firestore:"name"`
	Phone      string    `firestore:"phone"`
	Street     string    `firestore:"street"`
	City       string    `firestore:"city"`
	PostalCode string    `firestore:"postalCode"`
	Country    string    `firestore:"country"`
	IsDefault  bool      `firestore:"isDefault"`
	CreatedAt  time.Time `firestore:"createdAt"`
	UpdatedAt  time.Time `firestore:"updatedAt"`
}

// AddressRepository persists user addresses as a per-user subcollection.
type AddressRepository struct {
	provider *pfirestore.Provider
}

var _ repositories.AddressRepository = (*AddressRepository)(nil)

// NewAddressRepository constructs a Firestore-backed address repository.
func NewAddressRepository(provider *pfirestore.Provider) (*AddressRepository, error) {
	if provider == nil {
		return nil, errors.New("address repository requires firestore provider")
	}
	return &AddressRepository{provider: provider}, nil
}

// List returns all addresses for the specified user, most recently updated first.
func (r *AddressRepository) List(ctx context.Context, userID string) ([]domain.Address, error) {
	coll, err := r.collection(ctx, userID)
	if err != nil {
		return nil, err
	}

	iter := coll.OrderBy("updatedAt", firestore.Desc).Documents(ctx)
	defer iter.Stop()

	var results []domain.Address
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("addresses.list", err)
		}
		addr, err := decodeAddressSnapshot(userID, snap)
		if err != nil {
			return nil, err
		}
		results = append(results, addr)
	}
	return results, nil
}

// Get fetches a single address by identifier.
func (r *AddressRepository) Get(ctx context.Context, userID string, addressID string) (domain.Address, error) {
	coll, err := r.collection(ctx, userID)
	if err != nil {
		return domain.Address{}, err
	}
	addressID = strings.TrimSpace(addressID)
	if addressID == "" {
		return domain.Address{}, errors.New("address repository: address id is required")
	}

	snap, err := coll.Doc(addressID).Get(ctx)
	if err != nil {
		return domain.Address{}, pfirestore.WrapError("addresses.get", err)
	}
	return decodeAddressSnapshot(userID, snap)
}

// Upsert creates or updates an address. A nil addressID creates a new entry.
func (r *AddressRepository) Upsert(ctx context.Context, userID string, addressID *string, addr domain.Address) (domain.Address, error) {
	coll, err := r.collection(ctx, userID)
	if err != nil {
		return domain.Address{}, err
	}

	now := time.Now().UTC()
	id := ""
	if addressID != nil {
		id = strings.TrimSpace(*addressID)
	}

	createdAt := addr.CreatedAt.UTC()
	if id == "" {
		id = "addr_" + ulid.Make().String()
		createdAt = now
	} else if createdAt.IsZero() {
		if snap, err := coll.Doc(id).Get(ctx); err == nil {
			if existing, decodeErr := decodeAddressSnapshot(userID, snap); decodeErr == nil {
				createdAt = existing.CreatedAt
			}
		} else if status.Code(err) != codes.NotFound {
			return domain.Address{}, pfirestore.WrapError("addresses.upsert", err)
		}
		if createdAt.IsZero() {
			createdAt = now
		}
	}

	doc := addressDocument{
		Label:      strings.TrimSpace(addr.Label),
		Name:       strings.TrimSpace(addr.Name),
		Phone:      strings.TrimSpace(addr.Phone),
		Street:     strings.TrimSpace(addr.Street),
		City:       strings.TrimSpace(addr.City),
		PostalCode: strings.TrimSpace(addr.PostalCode),
		Country:    strings.TrimSpace(addr.Country),
		IsDefault:  addr.IsDefault,
		CreatedAt:  createdAt,
		UpdatedAt:  now,
	}
	if _, err := coll.Doc(id).Set(ctx, doc); err != nil {
		return domain.Address{}, pfirestore.WrapError("addresses.upsert", err)
	}

	return decodeAddressDocument(userID, id, doc), nil
}

// Delete removes an address entry.
func (r *AddressRepository) Delete(ctx context.Context, userID string, addressID string) error {
	coll, err := r.collection(ctx, userID)
	if err != nil {
		return err
	}
	addressID = strings.TrimSpace(addressID)
	if addressID == "" {
		return errors.New("address repository: address id is required")
	}
	if _, err := coll.Doc(addressID).Delete(ctx); err != nil {
		return pfirestore.WrapError("addresses.delete", err)
	}
	return nil
}

// SetDefault marks one address as default and clears the flag on the rest.
func (r *AddressRepository) SetDefault(ctx context.Context, userID string, addressID string) (domain.Address, error) {
	coll, err := r.collection(ctx, userID)
	if err != nil {
		return domain.Address{}, err
	}
	addressID = strings.TrimSpace(addressID)
	if addressID == "" {
		return domain.Address{}, errors.New("address repository: address id is required")
	}

	now := time.Now().UTC()
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		target := coll.Doc(addressID)
		if _, err := tx.Get(target); err != nil {
			return err
		}

		iter := tx.Documents(coll.Query)
		defer iter.Stop()
		for {
			snap, err := iter.Next()
			if errors.Is(err, iterator.Done) {
				break
			}
			if err != nil {
				return err
			}
			isDefault := snap.Ref.ID == addressID
			if err := tx.Update(snap.Ref, []firestore.Update{
				{Path: "isDefault", Value: isDefault},
				{Path: "updatedAt", Value: now},
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.Address{}, pfirestore.WrapError("addresses.setDefault", err)
	}
	return r.Get(ctx, userID, addressID)
}

func (r *AddressRepository) collection(ctx context.Context, userID string) (*firestore.CollectionRef, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("address repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("address repository: user id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(fmt.Sprintf(addressCollectionPattern, userID)), nil
}

func decodeAddressSnapshot(userID string, snap *firestore.DocumentSnapshot) (domain.Address, error) {
	var doc addressDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Address{}, fmt.Errorf("address repository: decode %s: %w", snap.Ref.ID, err)
	}
	return decodeAddressDocument(userID, snap.Ref.ID, doc), nil
}

func decodeAddressDocument(userID, id string, doc addressDocument) domain.Address {
	return domain.Address{
		ID:         id,
		UserID:     userID,
		Label:      doc.Label,
		Name:       doc.Name,
		Phone:      doc.Phone,
		Street:     doc.Street,
		City:       doc.City,
		PostalCode: doc.PostalCode,
		Country:    doc.Country,
		IsDefault:  doc.IsDefault,
		CreatedAt:  doc.CreatedAt,
		UpdatedAt:  doc.UpdatedAt,
	}
}
