package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/realbeatz/backend/internal/auth"
	"github.com/realbeatz/backend/internal/logging"
	"github.com/realbeatz/backend/internal/models"
	"github.com/realbeatz/backend/internal/users"
)

const maxPictureBytes = 5 << 20

// UserHandler serves the authenticated caller's own account.
type UserHandler struct {
	Accounts Accounts
}

// Me handles GET and PATCH /api/v1/users/me. PATCH accepts a flat object of
// account fields (username, password).
func (h UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		ctx, userID, ok := h.caller(w, r)
		if !ok {
			return
		}
		user, err := h.Accounts.Get(ctx, userID)
		h.reply(ctx, w, user, err)
	case http.MethodPatch:
		h.patch(w, r, h.Accounts.UpdateAccount)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// Profile handles PATCH /api/v1/users/me/profile with any of firstName,
// lastName, bio and dob.
func (h UserHandler) Profile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPatch {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	h.patch(w, r, h.Accounts.UpdateProfile)
}

// Picture handles PUT /api/v1/users/me/picture as a multipart upload with a
// "picture" file part.
func (h UserHandler) Picture(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx, userID, ok := h.caller(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxPictureBytes)
	file, header, err := r.FormFile("picture")
	if err != nil {
		logging.FromContext(ctx).Warn("invalid picture upload", "error", err)
		respondError(ctx, w, http.StatusBadRequest, "picture file is required")
		return
	}
	defer file.Close()

	user, err := h.Accounts.SetProfilePicture(ctx, userID, header.Filename, file)
	h.reply(ctx, w, user, err)
}

func (h UserHandler) patch(w http.ResponseWriter, r *http.Request, update func(ctx context.Context, id string, updates map[string]string) (models.User, error)) {
	ctx, userID, ok := h.caller(w, r)
	if !ok {
		return
	}

	var updates map[string]string
	if err := decodeJSON(w, r, &updates); err != nil {
		logging.FromContext(ctx).Warn("invalid update payload", "error", err)
		respondError(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := update(ctx, userID, updates)
	h.reply(ctx, w, user, err)
}

func (h UserHandler) reply(ctx context.Context, w http.ResponseWriter, user models.User, err error) {
	if err != nil {
		status := accountErrorStatus(err)
		if status == http.StatusInternalServerError {
			logging.FromContext(ctx).Error("account operation failed", "error", err)
			respondError(ctx, w, status, "internal error")
			return
		}
		respondError(ctx, w, status, err.Error())
		return
	}
	respondJSON(ctx, w, http.StatusOK, newUserResponse(user))
}

func (h UserHandler) caller(w http.ResponseWriter, r *http.Request) (context.Context, string, bool) {
	ctx := r.Context()
	if h.Accounts == nil {
		logging.FromContext(ctx).Error("account service unavailable")
		respondError(ctx, w, http.StatusInternalServerError, "account service unavailable")
		return ctx, "", false
	}
	userID, ok := auth.UserIDFromContext(ctx)
	if !ok {
		respondError(ctx, w, http.StatusUnauthorized, "authentication required")
		return ctx, "", false
	}
	return ctx, userID, true
}

func accountErrorStatus(err error) int {
	switch {
	case errors.Is(err, users.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, users.ErrUsernameTaken):
		return http.StatusConflict
	case errors.Is(err, users.ErrUnknownField), errors.Is(err, users.ErrInvalidField):
		return http.StatusBadRequest
	case errors.Is(err, users.ErrAssetsUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
