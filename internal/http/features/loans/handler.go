package loans

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
	loansvc "github.com/bookloop/circulation/pkg/loans"
)

const dateLayout = "2006-01-02"

// Handler handles loan endpoints.
type Handler struct {
	logger          *slog.Logger
	service         *loansvc.Service
	defaultLoanDays int
}

// NewHandler creates a new loans handler.
func NewHandler(logger *slog.Logger, service *loansvc.Service, defaultLoanDays int) *Handler {
	return &Handler{
		logger:          logger,
		service:         service,
		defaultLoanDays: defaultLoanDays,
	}
}

// CheckoutRequest represents a checkout request. Dates use YYYY-MM-DD.
// checkout_date defaults to today, due_date to checkout_date plus the
// configured default loan period.
type CheckoutRequest struct {
	BookID       int64  `json:"book_id"`
	MemberID     int64  `json:"member_id"`
	CheckoutDate string `json:"checkout_date,omitempty"`
	DueDate      string `json:"due_date,omitempty"`
}

// ReturnRequest represents a return request. return_date defaults to today.
type ReturnRequest struct {
	ReturnDate string `json:"return_date,omitempty"`
}

// UpdateRequest represents a loan update request. Omitted fields are left
// unchanged. Associations (book, member) cannot be changed.
type UpdateRequest struct {
	CheckoutDate *string `json:"checkout_date,omitempty"`
	DueDate      *string `json:"due_date,omitempty"`
	ReturnDate   *string `json:"return_date,omitempty"`
	BookID       *int64  `json:"book_id,omitempty"`
	MemberID     *int64  `json:"member_id,omitempty"`
}

// LoanResponse represents a loan in API responses.
type LoanResponse struct {
	ID           int64   `json:"id"`
	BookID       int64   `json:"book_id"`
	MemberID     int64   `json:"member_id"`
	CheckoutDate string  `json:"checkout_date"`
	DueDate      string  `json:"due_date"`
	ReturnDate   *string `json:"return_date,omitempty"`
	Active       bool    `json:"active"`
}

func toResponse(loan *domain.Loan) LoanResponse {
	resp := LoanResponse{
		ID:           loan.ID,
		BookID:       loan.BookID,
		MemberID:     loan.MemberID,
		CheckoutDate: loan.CheckoutDate.Format(dateLayout),
		DueDate:      loan.DueDate.Format(dateLayout),
		Active:       loan.IsActive(),
	}
	if loan.ReturnDate != nil {
		d := loan.ReturnDate.Format(dateLayout)
		resp.ReturnDate = &d
	}
	return resp
}

func toResponses(list []*domain.Loan) []LoanResponse {
	out := make([]LoanResponse, 0, len(list))
	for _, loan := range list {
		out = append(out, toResponse(loan))
	}
	return out
}

// Checkout creates a new active loan.
// POST /v1/loans
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	checkoutDate := today()
	if req.CheckoutDate != "" {
		var ok bool
		if checkoutDate, ok = parseDate(w, "checkout_date", req.CheckoutDate); !ok {
			return
		}
	}
	dueDate := checkoutDate.AddDate(0, 0, h.defaultLoanDays)
	if req.DueDate != "" {
		var ok bool
		if dueDate, ok = parseDate(w, "due_date", req.DueDate); !ok {
			return
		}
	}

	id, err := h.service.Checkout(r.Context(), req.BookID, req.MemberID, checkoutDate, dueDate)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	loan, err := h.service.GetByID(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusCreated, toResponse(loan))
}

// Return closes a loan.
// POST /v1/loans/{id}/return
func (h *Handler) Return(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req ReturnRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.Error(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	returnDate := today()
	if req.ReturnDate != "" {
		if returnDate, ok = parseDate(w, "return_date", req.ReturnDate); !ok {
			return
		}
	}

	returned, err := h.service.Return(r.Context(), id, returnDate)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !returned {
		httputil.Error(w, http.StatusConflict, "loan not found or already returned")
		return
	}

	loan, err := h.service.GetByID(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, toResponse(loan))
}

// Update changes a loan's dates.
// PATCH /v1/loans/{id}
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.BookID != nil || req.MemberID != nil {
		httputil.Error(w, http.StatusBadRequest, "book_id and member_id cannot be changed")
		return
	}

	var params loansvc.UpdateParams
	if req.CheckoutDate != nil {
		d, ok := parseDate(w, "checkout_date", *req.CheckoutDate)
		if !ok {
			return
		}
		params.CheckoutDate = &d
	}
	if req.DueDate != nil {
		d, ok := parseDate(w, "due_date", *req.DueDate)
		if !ok {
			return
		}
		params.DueDate = &d
	}
	if req.ReturnDate != nil {
		d, ok := parseDate(w, "return_date", *req.ReturnDate)
		if !ok {
			return
		}
		params.ReturnDate = &d
	}

	loan, err := h.service.Update(r.Context(), id, params)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, toResponse(loan))
}

// Delete removes a closed loan.
// DELETE /v1/loans/{id}
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	deleted, err := h.service.Delete(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !deleted {
		httputil.Error(w, http.StatusNotFound, "loan not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Get retrieves a single loan.
// GET /v1/loans/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	loan, err := h.service.GetByID(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, toResponse(loan))
}

// List retrieves loans, optionally filtered by member.
// GET /v1/loans[?member_id=N]
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	var (
		list []*domain.Loan
		err  error
	)
	if raw := r.URL.Query().Get("member_id"); raw != "" {
		memberID, parseErr := strconv.ParseInt(raw, 10, 64)
		if parseErr != nil {
			httputil.Error(w, http.StatusBadRequest, "invalid member_id")
			return
		}
		list, err = h.service.ByMember(r.Context(), memberID)
	} else {
		list, err = h.service.All(r.Context())
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, toResponses(list))
}

// MemberLoans retrieves all loans for one member.
// GET /v1/members/{id}/loans
func (h *Handler) MemberLoans(w http.ResponseWriter, r *http.Request) {
	memberID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || memberID <= 0 {
		httputil.Error(w, http.StatusBadRequest, "invalid member id")
		return
	}

	list, err := h.service.ByMember(r.Context(), memberID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, toResponses(list))
}

// Active retrieves all loans that have not been returned.
// GET /v1/loans/active
func (h *Handler) Active(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.Active(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, toResponses(list))
}

// Overdue retrieves active loans past their due date.
// GET /v1/loans/overdue[?as_of=YYYY-MM-DD]
func (h *Handler) Overdue(w http.ResponseWriter, r *http.Request) {
	asOf := today()
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		var ok bool
		if asOf, ok = parseDate(w, "as_of", raw); !ok {
			return
		}
	}

	list, err := h.service.Overdue(r.Context(), asOf)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, toResponses(list))
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidLoan):
		httputil.Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrLoanNotFound),
		errors.Is(err, domain.ErrBookNotFound),
		errors.Is(err, domain.ErrMemberNotFound):
		httputil.Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		httputil.Error(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("loan operation failed", "error", err, "path", r.URL.Path)
		httputil.Error(w, http.StatusInternalServerError, "internal server error")
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httputil.Error(w, http.StatusBadRequest, "invalid loan id")
		return 0, false
	}
	return id, true
}

func parseDate(w http.ResponseWriter, field, value string) (time.Time, bool) {
	d, err := time.Parse(dateLayout, value)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid "+field+", expected YYYY-MM-DD")
		return time.Time{}, false
	}
	return d, true
}

func today() time.Time {
	y, m, d := time.Now().UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
