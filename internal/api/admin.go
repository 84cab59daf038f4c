package api

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"accessportal/internal/apperr"
	"accessportal/internal/service"
	"accessportal/internal/util"
)

const maxLogoBytes = 5 << 20

func (h *Handlers) AdminListGroups(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.ListGroups(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, out)
}

type groupRequest struct {
	Name string `json:"name"`
}

func (h *Handlers) AdminCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req groupRequest
	if err := util.DecodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	g, err := h.svc.CreateGroup(r.Context(), req.Name)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, g)
}

func (h *Handlers) AdminRenameGroup(w http.ResponseWriter, r *http.Request) {
	var req groupRequest
	if err := util.DecodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	g, err := h.svc.RenameGroup(r.Context(), chi.URLParam(r, "id"), req.Name)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, g)
}

func (h *Handlers) AdminDeleteGroup(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteGroup(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, message("Group deleted successfully"))
}

func (h *Handlers) AdminListLinks(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.ListLinks(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, out)
}

func (h *Handlers) AdminCreateLink(w http.ResponseWriter, r *http.Request) {
	var req service.LinkInput
	if err := util.DecodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	l, err := h.svc.CreateLink(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, l)
}

func (h *Handlers) AdminUpdateLink(w http.ResponseWriter, r *http.Request) {
	var req service.LinkInput
	if err := util.DecodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	l, err := h.svc.UpdateLink(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, l)
}

func (h *Handlers) AdminDeleteLink(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteLink(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, message("Link deleted successfully"))
}

func (h *Handlers) AdminGroupLinks(w http.ResponseWriter, r *http.Request) {
	ids, err := h.svc.GroupLinkIDs(r.Context(), r.URL.Query().Get("groupId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, ids)
}

func (h *Handlers) AdminSetGroupLinks(w http.ResponseWriter, r *http.Request) {
	var req struct {
		GroupID string   `json:"groupId"`
		LinkIDs []string `json:"linkIds"`
	}
	if err := util.DecodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.svc.SetGroupLinks(r.Context(), req.GroupID, req.LinkIDs); err != nil {
		h.fail(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, message("Permissions updated"))
}

func (h *Handlers) AdminListUsers(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.ListUsers(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, out)
}

func (h *Handlers) AdminDeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteUser(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, message("User deleted successfully"))
}

func (h *Handlers) AdminLogs(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.ListAuditLogs(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, out)
}

func (h *Handlers) AdminGetSMTP(w http.ResponseWriter, r *http.Request) {
	st, ok, err := h.svc.GetSMTPSettings(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !ok {
		util.WriteJSON(w, http.StatusOK, map[string]any{})
		return
	}
	util.WriteJSON(w, http.StatusOK, st)
}

func (h *Handlers) AdminPutSMTP(w http.ResponseWriter, r *http.Request) {
	var req service.SMTPSettingsInput
	if err := util.DecodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.svc.SaveSMTPSettings(r.Context(), req); err != nil {
		h.fail(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, message("SMTP settings updated"))
}

// PruneLogs authenticates with the signing secret instead of a session so an
// external scheduler can call it.
func (h *Handlers) PruneLogs(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.PruneAuditLogs(r.Context(), r.Header.Get("Authorization"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, map[string]any{
		"message":      "Audit log cleanup completed",
		"deletedCount": res.Deleted,
		"olderThan":    res.OlderThan.UTC().Format(time.RFC3339Nano),
	})
}

// AdminUploadLogo replaces <web>/logo.png with the multipart "logo" file.
func (h *Handlers) AdminUploadLogo(webDir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if webDir == "" {
			h.fail(w, r, apperr.Configuration("Static assets directory is not configured."))
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxLogoBytes+1024)
		file, _, err := r.FormFile("logo")
		if err != nil {
			h.fail(w, r, apperr.Validation("No image was uploaded."))
			return
		}
		defer file.Close()
		data, err := io.ReadAll(io.LimitReader(file, maxLogoBytes+1))
		if err != nil {
			h.fail(w, r, apperr.Validation("No image was uploaded."))
			return
		}
		if len(data) > maxLogoBytes {
			h.fail(w, r, apperr.Validation("Image is too large."))
			return
		}
		if !strings.HasPrefix(http.DetectContentType(data), "image/") {
			h.fail(w, r, apperr.Validation("Uploaded file is not an image."))
			return
		}
		if err := writeFileAtomic(filepath.Join(webDir, "logo.png"), data); err != nil {
			h.fail(w, r, apperr.Internal(err))
			return
		}
		util.WriteJSON(w, http.StatusOK, message("Logo updated successfully"))
	}
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".logo-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
