package service

import (
	"context"
	"errors"
	"strings"

	"accessportal/internal/apperr"
	"accessportal/internal/models"
	"accessportal/internal/store"
)

// AuditLogLimit caps the admin audit listing.
const AuditLogLimit = 100

func (s *Service) ListGroups(ctx context.Context) ([]models.GroupSummary, error) {
	out, err := s.st.ListGroups(ctx)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return out, nil
}

func (s *Service) CreateGroup(ctx context.Context, name string) (models.Group, error) {
	if strings.TrimSpace(name) == "" {
		return models.Group{}, apperr.Validation("Name is required.")
	}
	g, err := s.st.CreateGroup(ctx, name)
	if err != nil {
		return models.Group{}, groupErr(err)
	}
	return g, nil
}

func (s *Service) RenameGroup(ctx context.Context, id, name string) (models.Group, error) {
	if strings.TrimSpace(id) == "" || strings.TrimSpace(name) == "" {
		return models.Group{}, apperr.Validation("ID and Name are required.")
	}
	g, err := s.st.RenameGroup(ctx, id, name)
	if err != nil {
		return models.Group{}, groupErr(err)
	}
	return g, nil
}

func (s *Service) DeleteGroup(ctx context.Context, id string) error {
	if err := s.st.DeleteGroup(ctx, id); err != nil {
		return groupErr(err)
	}
	return nil
}

func groupErr(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return apperr.NotFound("Group not found.")
	case errors.Is(err, store.ErrConflict):
		return apperr.Validation("Group name already exists")
	case errors.Is(err, store.ErrProtectedGroup):
		return apperr.Authorization("Cannot delete the Administrator group.")
	case errors.Is(err, store.ErrReservedName):
		return apperr.Validation("Group name is reserved for the Administrator group.")
	case errors.Is(err, store.ErrGroupInUse):
		return apperr.Validation("Cannot delete group because there are users associated with it.")
	default:
		return apperr.Internal(err)
	}
}

// NormalizeURL prefixes http:// onto targets that carry no scheme.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	lower := strings.ToLower(raw)
	if raw == "" || strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return raw
	}
	return "http://" + raw
}

type LinkInput struct {
	Name         string `json:"name"`
	URL          string `json:"url"`
	OpenInNewTab bool   `json:"openInNewTab"`
}

func (s *Service) ListLinks(ctx context.Context) ([]models.Link, error) {
	out, err := s.st.ListLinks(ctx)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return out, nil
}

func (s *Service) CreateLink(ctx context.Context, in LinkInput) (models.Link, error) {
	if strings.TrimSpace(in.Name) == "" || strings.TrimSpace(in.URL) == "" {
		return models.Link{}, apperr.Validation("Name and URL are required.")
	}
	l, err := s.st.CreateLink(ctx, in.Name, NormalizeURL(in.URL), in.OpenInNewTab)
	if err != nil {
		return models.Link{}, linkErr(err)
	}
	return l, nil
}

func (s *Service) UpdateLink(ctx context.Context, id string, in LinkInput) (models.Link, error) {
	if strings.TrimSpace(id) == "" || strings.TrimSpace(in.Name) == "" || strings.TrimSpace(in.URL) == "" {
		return models.Link{}, apperr.Validation("All fields are required.")
	}
	l, err := s.st.UpdateLink(ctx, id, in.Name, NormalizeURL(in.URL), in.OpenInNewTab)
	if err != nil {
		return models.Link{}, linkErr(err)
	}
	return l, nil
}

func (s *Service) DeleteLink(ctx context.Context, id string) error {
	if err := s.st.DeleteLink(ctx, id); err != nil {
		return linkErr(err)
	}
	return nil
}

func linkErr(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return apperr.NotFound("Link not found.")
	case errors.Is(err, store.ErrConflict):
		return apperr.Validation("Link URL or Name already exists")
	default:
		return apperr.Internal(err)
	}
}

func (s *Service) GroupLinkIDs(ctx context.Context, groupID string) ([]string, error) {
	if strings.TrimSpace(groupID) == "" {
		return nil, apperr.Validation("Group ID is required.")
	}
	ids, err := s.st.LinkIDsForGroup(ctx, groupID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// SetGroupLinks replaces the grant set of a group. Every id must name an
// existing link.
func (s *Service) SetGroupLinks(ctx context.Context, groupID string, linkIDs []string) error {
	if strings.TrimSpace(groupID) == "" || linkIDs == nil {
		return apperr.Validation("Invalid data.")
	}
	g, err := s.st.GetGroup(ctx, groupID)
	if err != nil {
		return groupErr(err)
	}
	if g.Admin() {
		return apperr.Validation("The Administrator group already sees every link.")
	}
	for _, id := range linkIDs {
		if _, err := s.st.GetLink(ctx, id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return apperr.Validation("Invalid data.")
			}
			return apperr.Internal(err)
		}
	}
	if err := s.st.ReplaceGroupLinks(ctx, groupID, linkIDs); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("Group not found.")
		}
		return apperr.Internal(err)
	}
	return nil
}

func (s *Service) ListUsers(ctx context.Context) ([]models.UserWithGroup, error) {
	out, err := s.st.ListUsers(ctx)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return out, nil
}

func (s *Service) DeleteUser(ctx context.Context, id string) error {
	err := s.st.DeleteUser(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound("User not found.")
	}
	if err != nil {
		return apperr.Internal(err)
	}
	return nil
}

func (s *Service) ListAuditLogs(ctx context.Context) ([]models.AuditLog, error) {
	out, err := s.st.ListAuditLogs(ctx, AuditLogLimit)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return out, nil
}
