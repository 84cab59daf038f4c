package access

import (
	"context"
	"errors"

	"accessportal/internal/models"
	"accessportal/internal/store"
)

// Access is what a user may see. It is recomputed on every call so group and
// grant changes apply without re-login.
type Access struct {
	IsAdmin bool          `json:"isAdmin"`
	Links   []models.Link `json:"links"`
}

type Store interface {
	GetUserByID(ctx context.Context, id string) (models.User, error)
	GetGroup(ctx context.Context, id string) (models.Group, error)
	ListLinks(ctx context.Context) ([]models.Link, error)
	ListLinksForGroup(ctx context.Context, groupID string) ([]models.Link, error)
}

type Resolver struct {
	store Store
}

func NewResolver(st Store) *Resolver {
	return &Resolver{store: st}
}

// Resolve maps a user to their visible links. A missing user or group yields
// an empty, non-admin result rather than an error.
func (r *Resolver) Resolve(ctx context.Context, userID string) (Access, error) {
	none := Access{Links: []models.Link{}}
	if userID == "" {
		return none, nil
	}
	u, err := r.store.GetUserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return none, nil
	}
	if err != nil {
		return Access{}, err
	}
	if u.GroupID == nil || *u.GroupID == "" {
		return none, nil
	}
	g, err := r.store.GetGroup(ctx, *u.GroupID)
	if errors.Is(err, store.ErrNotFound) {
		return none, nil
	}
	if err != nil {
		return Access{}, err
	}

	var links []models.Link
	if g.Admin() {
		links, err = r.store.ListLinks(ctx)
	} else {
		links, err = r.store.ListLinksForGroup(ctx, g.ID)
	}
	if err != nil {
		return Access{}, err
	}
	if links == nil {
		links = []models.Link{}
	}
	return Access{IsAdmin: g.Admin(), Links: links}, nil
}

// IsAdmin re-reads the caller's group and reports admin membership.
func (r *Resolver) IsAdmin(ctx context.Context, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	u, err := r.store.GetUserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if u.GroupID == nil {
		return false, nil
	}
	g, err := r.store.GetGroup(ctx, *u.GroupID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return g.Admin(), nil
}

// Link returns one link if it is visible to userID.
func (r *Resolver) Link(ctx context.Context, userID, linkID string) (models.Link, error) {
	a, err := r.Resolve(ctx, userID)
	if err != nil {
		return models.Link{}, err
	}
	for _, l := range a.Links {
		if l.ID == linkID {
			return l, nil
		}
	}
	return models.Link{}, store.ErrNotFound
}
