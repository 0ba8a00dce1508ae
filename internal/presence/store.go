package presence

import (
	"context"
	"errors"

	"github.com/example/ride-dispatch/internal/errs"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/storage"
)

type ConnectionStore interface {
	SetConnectionID(ctx context.Context, actorType models.ActorType, id, connID string) error
	GetConnectionID(ctx context.Context, actorType models.ActorType, id string) (string, error)
	ClearConnectionID(ctx context.Context, connID string) error
}

// Store keeps the connection id on the actor record itself.
type Store struct {
	actors ConnectionStore
}

func NewStore(actors ConnectionStore) *Store {
	return &Store{actors: actors}
}

func (s *Store) Register(ctx context.Context, actorID string, actorType models.ActorType, connID string) error {
	err := s.actors.SetConnectionID(ctx, actorType, actorID, connID)
	if errors.Is(err, storage.ErrNotFound) {
		return errs.E(errs.NotFound, string(actorType)+" not found")
	}
	return errs.Wrap(errs.Storage, err, "register presence")
}

func (s *Store) Lookup(ctx context.Context, actorID string, actorType models.ActorType) (string, bool, error) {
	c, err := s.actors.GetConnectionID(ctx, actorType, actorID)
	if errors.Is(err, storage.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errs.Wrap(errs.Storage, err, "lookup presence")
	}
	return c, c != "", nil
}

func (s *Store) Clear(ctx context.Context, connID string) error {
	return errs.Wrap(errs.Storage, s.actors.ClearConnectionID(ctx, connID), "clear presence")
}
