package members

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bookloop/circulation/internal/httputil"
	"github.com/bookloop/circulation/pkg/domain"
	"github.com/bookloop/circulation/pkg/repository"
)

// Handler handles member endpoints.
type Handler struct {
	logger  *slog.Logger
	members *repository.MembersRepository
}

// NewHandler creates a new members handler.
func NewHandler(logger *slog.Logger, members *repository.MembersRepository) *Handler {
	return &Handler{logger: logger, members: members}
}

// CreateRequest represents a member registration request.
type CreateRequest struct {
	Name  string  `json:"name"`
	Email *string `json:"email,omitempty"`
}

// MemberResponse represents a member in API responses.
type MemberResponse struct {
	ID    int64   `json:"id"`
	Name  string  `json:"name"`
	Email *string `json:"email,omitempty"`
}

// Create registers a new member.
// POST /v1/members
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		httputil.Error(w, http.StatusBadRequest, "name is required")
		return
	}

	member := &domain.Member{
		Name:     req.Name,
		Email:    req.Email,
		JoinedAt: time.Now(),
	}
	id, err := h.members.Create(r.Context(), member)
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusCreated, MemberResponse{ID: id, Name: member.Name, Email: member.Email})
}

// Get retrieves a single member.
// GET /v1/members/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	member, err := h.members.GetByID(r.Context(), id)
	if errors.Is(err, domain.ErrMemberNotFound) {
		httputil.Error(w, http.StatusNotFound, "member not found")
		return
	}
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, MemberResponse{ID: member.ID, Name: member.Name, Email: member.Email})
}

// List retrieves every member.
// GET /v1/members
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.members.GetAll(r.Context())
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	out := make([]MemberResponse, 0, len(list))
	for _, member := range list {
		out = append(out, MemberResponse{ID: member.ID, Name: member.Name, Email: member.Email})
	}
	httputil.JSON(w, http.StatusOK, out)
}

// Delete removes a member. Members holding active loans cannot be
// deleted.
// DELETE /v1/members/{id}
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	hasActive, err := h.members.HasActiveLoans(r.Context(), id)
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	if hasActive {
		httputil.Error(w, http.StatusConflict, "member has active loans and cannot be deleted")
		return
	}

	hasHistory, err := h.members.HasLoanHistory(r.Context(), id)
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	if hasHistory {
		httputil.Error(w, http.StatusConflict, "member has loan history and cannot be deleted")
		return
	}

	err = h.members.Delete(r.Context(), id)
	if errors.Is(err, domain.ErrMemberNotFound) {
		httputil.Error(w, http.StatusNotFound, "member not found")
		return
	}
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Error("member operation failed", "error", err, "path", r.URL.Path)
	httputil.Error(w, http.StatusInternalServerError, "internal server error")
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httputil.Error(w, http.StatusBadRequest, "invalid member id")
		return 0, false
	}
	return id, true
}
