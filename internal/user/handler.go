package user

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/mail"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"

	"casetrack/internal/auth"
)

var usernameRegex = regexp.MustCompile(`^[a-z0-9_.-]{3,32}$`)

const (
	maxJSONBodyBytes  = 1 << 20
	minPasswordLength = 8
	// bcrypt rejects longer input.
	maxPasswordLength = 72
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type roleRequest struct {
	Role string `json:"role"`
}

type resetPasswordRequest struct {
	Username    string `json:"username"`
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var body RegisterInput
	if !decodeJSON(w, r, &body) {
		return
	}

	body.Username = strings.ToLower(strings.TrimSpace(body.Username))
	body.Email = strings.TrimSpace(body.Email)
	if !usernameRegex.MatchString(body.Username) {
		writeError(w, http.StatusBadRequest, "username format is invalid")
		return
	}
	if _, err := mail.ParseAddress(body.Email); err != nil {
		writeError(w, http.StatusBadRequest, "email format is invalid")
		return
	}
	if !validPassword(body.Password) {
		writeError(w, http.StatusBadRequest, "password format is invalid")
		return
	}

	created, err := h.service.Register(r.Context(), body)
	if err != nil {
		writeServiceError(w, err, "failed to register user")
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	body.Username = strings.TrimSpace(body.Username)
	if !usernameRegex.MatchString(strings.ToLower(body.Username)) {
		writeError(w, http.StatusBadRequest, "username format is invalid")
		return
	}
	if body.Password == "" || len(body.Password) > maxPasswordLength {
		writeError(w, http.StatusBadRequest, "password format is invalid")
		return
	}

	tokens, err := h.service.Login(r.Context(), body.Username, body.Password)
	if err != nil {
		writeServiceError(w, err, "failed to login")
		return
	}

	writeJSON(w, http.StatusOK, tokens)
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	tokens, err := h.service.Refresh(r.Header.Get("Refresh"))
	if err != nil {
		writeServiceError(w, err, "failed to refresh token")
		return
	}

	writeJSON(w, http.StatusOK, tokens)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	u, err := h.service.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err, "failed to get user")
		return
	}

	writeJSON(w, http.StatusOK, u)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	var filter ListFilter

	if value := strings.TrimSpace(r.URL.Query().Get("role")); value != "" {
		role, err := auth.ParseRole(value)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid role")
			return
		}
		filter.Role = role
	}
	if value := strings.TrimSpace(r.URL.Query().Get("created_on")); value != "" {
		day, err := time.Parse(time.DateOnly, value)
		if err != nil {
			writeError(w, http.StatusBadRequest, "created_on must be YYYY-MM-DD")
			return
		}
		filter.CreatedOn = &day
	}

	users, err := h.service.List(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err, "failed to list users")
		return
	}

	writeJSON(w, http.StatusOK, users)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var changes Changes
	if !decodeJSON(w, r, &changes) {
		return
	}
	if changes.Email != nil {
		trimmed := strings.TrimSpace(*changes.Email)
		if _, err := mail.ParseAddress(trimmed); err != nil {
			writeError(w, http.StatusBadRequest, "email format is invalid")
			return
		}
		changes.Email = &trimmed
	}

	caller, _ := auth.PrincipalFromContext(r.Context())
	u, err := h.service.Update(r.Context(), caller, id, changes)
	if err != nil {
		writeServiceError(w, err, "failed to update user")
		return
	}

	writeJSON(w, http.StatusOK, u)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	u, err := h.service.Delete(r.Context(), id)
	if err != nil {
		writeServiceError(w, err, "failed to delete user")
		return
	}

	writeJSON(w, http.StatusOK, u)
}

func (h *Handler) AssignRole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var body roleRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	u, err := h.service.AssignRole(r.Context(), id, body.Role)
	if err != nil {
		writeServiceError(w, err, "failed to assign role")
		return
	}

	writeJSON(w, http.StatusOK, u)
}

func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var body resetPasswordRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	if !validPassword(body.NewPassword) {
		writeError(w, http.StatusBadRequest, "password format is invalid")
		return
	}

	caller, _ := auth.PrincipalFromContext(r.Context())
	if err := h.service.ResetPassword(r.Context(), caller, body.Username, body.OldPassword, body.NewPassword); err != nil {
		writeServiceError(w, err, "failed to reset password")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Your password has been reset successfully"})
}

func writeServiceError(w http.ResponseWriter, err error, fallback string) {
	var lockedErr ErrLoginLocked
	switch {
	case errors.Is(err, auth.ErrUnauthenticated),
		errors.Is(err, auth.ErrForbidden),
		errors.Is(err, auth.ErrStoreUnavailable):
		if errors.Is(err, auth.ErrStoreUnavailable) {
			sentry.CaptureException(err)
		}
		auth.WriteError(w, err)
	case errors.Is(err, ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "Incorrect username or password")
	case errors.As(err, &lockedErr):
		retryAfter := int(lockedErr.RetryAfter.Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		writeError(w, http.StatusTooManyRequests, "login temporarily locked")
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "User not found")
	case errors.Is(err, ErrUsernameTaken), errors.Is(err, ErrEmailTaken):
		writeError(w, http.StatusBadRequest, "Username or email already registered")
	case errors.Is(err, auth.ErrInvalidRole):
		writeError(w, http.StatusBadRequest, "Invalid role")
	case errors.Is(err, ErrPasswordTooLong):
		writeError(w, http.StatusBadRequest, "password format is invalid")
	case errors.Is(err, ErrNoChanges):
		writeError(w, http.StatusBadRequest, "no fields to update")
	case errors.Is(err, ErrSamePassword):
		writeError(w, http.StatusNotAcceptable, "new password can not be same as the old password")
	case errors.Is(err, ErrUserReferenced):
		writeError(w, http.StatusConflict, "user still owns or is assigned cases")
	case errors.Is(err, ErrUserHasHistory):
		writeError(w, http.StatusConflict, "user has recorded case status changes")
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
		writeError(w, http.StatusBadRequest, "invalid user id")
		return "", false
	}
	return id, true
}

func validPassword(password string) bool {
	return len(password) >= minPasswordLength && len(password) <= maxPasswordLength
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
