package firebase

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/JonMunkholm/mp3portal/internal/core"
)

// DefaultProfileCollection is where profile documents live, keyed by uid.
const DefaultProfileCollection = "user"

// ProfileStore implements core.ProfileStore on Firestore.
type ProfileStore struct {
	client     *firestore.Client
	collection string
}

var _ core.ProfileStore = (*ProfileStore)(nil)

// NewProfileStore creates a store over collection.
func NewProfileStore(client *firestore.Client, collection string) *ProfileStore {
	if collection == "" {
		collection = DefaultProfileCollection
	}
	return &ProfileStore{client: client, collection: collection}
}

// Get reads the profile document of uid.
func (s *ProfileStore) Get(ctx context.Context, uid string) (core.Profile, error) {
	if uid == "" {
		return core.Profile{}, errors.New("uid cannot be empty")
	}

	snap, err := s.client.Collection(s.collection).Doc(uid).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return core.Profile{}, fmt.Errorf("profile %q: %w", uid, core.ErrProfileNotFound)
		}
		return core.Profile{}, fmt.Errorf("get profile %q: %w", uid, err)
	}

	var p core.Profile
	if err := snap.DataTo(&p); err != nil {
		return core.Profile{}, fmt.Errorf("decode profile %q: %w", uid, err)
	}
	return p, nil
}

// Put writes the whole profile document of uid.
func (s *ProfileStore) Put(ctx context.Context, uid string, p core.Profile) error {
	if uid == "" {
		return errors.New("uid cannot be empty")
	}
	if _, err := s.client.Collection(s.collection).Doc(uid).Set(ctx, p); err != nil {
		return fmt.Errorf("write profile %q: %w", uid, err)
	}
	return nil
}
