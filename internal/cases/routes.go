package cases

import (
	"net/http"

	"casetrack/internal/auth"
)

func RegisterRoutes(mux *http.ServeMux, h *Handler, guard *auth.Middleware) {
	mux.Handle("GET /case/get-all", guard.Authenticated(http.HandlerFunc(h.List)))
	mux.Handle("GET /case/status", guard.Authenticated(http.HandlerFunc(h.StatusCounts)))
	mux.Handle("GET /case/get/{id}", guard.Authenticated(http.HandlerFunc(h.Get)))
	mux.Handle("GET /case/distinct/{field}", guard.Authenticated(http.HandlerFunc(h.Distinct)))
	mux.Handle("GET /case/history/{id}", guard.Authenticated(http.HandlerFunc(h.History)))
	mux.Handle("POST /case/create", guard.Authenticated(http.HandlerFunc(h.Create)))
	mux.Handle("PUT /case/update/{id}", guard.Authenticated(http.HandlerFunc(h.Update)))
	mux.Handle("DELETE /case/delete/{id}", guard.Authenticated(http.HandlerFunc(h.Delete)))
}
