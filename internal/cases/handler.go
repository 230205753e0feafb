package cases

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"

	"casetrack/internal/auth"
)

const (
	maxJSONBodyBytes     = 1 << 20
	maxTitleLength       = 255
	maxStatusLength      = 50
	maxDescriptionLength = 10000
)

var (
	ErrTitleTaken      = errors.New("case title already exists")
	ErrInvalidAssignee = errors.New("assignee does not exist")
	ErrUnknownField    = errors.New("unknown case field")
)

// Store is the case persistence used by Handler. Lookups return nil when
// the case does not exist.
type Store interface {
	List(ctx context.Context) ([]Case, error)
	StatusCounts(ctx context.Context) ([]StatusCount, error)
	Get(ctx context.Context, id string) (*Case, error)
	DistinctValues(ctx context.Context, field string) ([]DistinctValue, error)
	Create(ctx context.Context, input CreateInput, creator string) (Case, error)
	Update(ctx context.Context, id string, input UpdateInput, actor string) (*Case, error)
	Delete(ctx context.Context, id string) (*Case, error)
	History(ctx context.Context, caseID string) ([]StatusChange, error)
}

type Handler struct {
	store Store
}

func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	cases, err := h.store.List(r.Context())
	if err != nil {
		writeStoreError(w, err, "failed to list cases")
		return
	}

	writeJSON(w, http.StatusOK, cases)
}

func (h *Handler) StatusCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.store.StatusCounts(r.Context())
	if err != nil {
		writeStoreError(w, err, "failed to count cases")
		return
	}

	writeJSON(w, http.StatusOK, counts)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	c, err := h.store.Get(r.Context(), id)
	if err != nil {
		writeStoreError(w, err, "failed to get case")
		return
	}
	if c == nil {
		writeError(w, http.StatusNotFound, "Case not found")
		return
	}

	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) Distinct(w http.ResponseWriter, r *http.Request) {
	field := r.PathValue("field")

	values, err := h.store.DistinctValues(r.Context(), field)
	if err != nil {
		writeStoreError(w, err, "failed to list distinct values")
		return
	}

	writeJSON(w, http.StatusOK, values)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var input CreateInput
	if !decodeJSON(w, r, &input) {
		return
	}

	input.Title = strings.TrimSpace(input.Title)
	input.Description = strings.TrimSpace(input.Description)
	input.Status = strings.TrimSpace(input.Status)

	if input.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	if !utf8.ValidString(input.Title) || utf8.RuneCountInString(input.Title) > maxTitleLength {
		writeError(w, http.StatusBadRequest, "title is invalid")
		return
	}
	if input.Description == "" {
		writeError(w, http.StatusBadRequest, "description is required")
		return
	}
	if !utf8.ValidString(input.Description) || utf8.RuneCountInString(input.Description) > maxDescriptionLength {
		writeError(w, http.StatusBadRequest, "description is invalid")
		return
	}
	if utf8.RuneCountInString(input.Status) > maxStatusLength {
		writeError(w, http.StatusBadRequest, "status is invalid")
		return
	}

	caller, _ := auth.PrincipalFromContext(r.Context())
	c, err := h.store.Create(r.Context(), input, caller.ID)
	if err != nil {
		writeStoreError(w, err, "failed to create case")
		return
	}

	writeJSON(w, http.StatusCreated, c)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var input UpdateInput
	if !decodeJSON(w, r, &input) {
		return
	}
	if input.empty() {
		writeError(w, http.StatusBadRequest, "No fields to update")
		return
	}
	if input.Status != nil && utf8.RuneCountInString(strings.TrimSpace(*input.Status)) > maxStatusLength {
		writeError(w, http.StatusBadRequest, "status is invalid")
		return
	}
	if !blank(input.Assignee) {
		if _, err := uuid.Parse(strings.TrimSpace(*input.Assignee)); err != nil {
			writeError(w, http.StatusBadRequest, "assignee is invalid")
			return
		}
		trimmed := strings.TrimSpace(*input.Assignee)
		input.Assignee = &trimmed
	}

	caller, _ := auth.PrincipalFromContext(r.Context())
	c, err := h.store.Update(r.Context(), id, input, caller.ID)
	if err != nil {
		writeStoreError(w, err, "failed to update case")
		return
	}
	if c == nil {
		writeError(w, http.StatusNotFound, "Case not found")
		return
	}

	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	c, err := h.store.Delete(r.Context(), id)
	if err != nil {
		writeStoreError(w, err, "failed to delete case")
		return
	}
	if c == nil {
		writeError(w, http.StatusNotFound, "Case not found")
		return
	}

	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	c, err := h.store.Get(r.Context(), id)
	if err != nil {
		writeStoreError(w, err, "failed to get case history")
		return
	}
	if c == nil {
		writeError(w, http.StatusNotFound, "Case not found")
		return
	}

	history, err := h.store.History(r.Context(), id)
	if err != nil {
		writeStoreError(w, err, "failed to get case history")
		return
	}

	writeJSON(w, http.StatusOK, history)
}

func writeStoreError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, ErrTitleTaken):
		writeError(w, http.StatusConflict, "A case with this title already exists")
	case errors.Is(err, ErrInvalidAssignee):
		writeError(w, http.StatusBadRequest, "assignee is invalid")
	case errors.Is(err, ErrUnknownField):
		writeError(w, http.StatusBadRequest, "Field does not exist")
	default:
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, fallback)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid case ID format")
		return "", false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
