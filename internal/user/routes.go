package user

import (
	"net/http"

	"casetrack/internal/auth"
)

func RegisterRoutes(mux *http.ServeMux, h *Handler, guard *auth.Middleware, limiter *auth.LoginRateLimiter) {
	mux.HandleFunc("POST /user/register", h.Register)
	mux.Handle("POST /user/login", limiter.Middleware(http.HandlerFunc(h.Login)))
	mux.HandleFunc("POST /user/refresh", h.Refresh)

	mux.Handle("GET /user/get/{id}", guard.Authenticated(http.HandlerFunc(h.Get)))
	mux.Handle("GET /user/get-all", guard.Authenticated(http.HandlerFunc(h.List)))
	mux.Handle("PUT /user/update/{id}", guard.Authenticated(http.HandlerFunc(h.Update)))
	mux.Handle("POST /user/reset-password", guard.Authenticated(http.HandlerFunc(h.ResetPassword)))

	mux.Handle("DELETE /user/delete/{id}", guard.AdminOnly(http.HandlerFunc(h.Delete)))
	mux.Handle("POST /user/{id}/role", guard.AdminOnly(http.HandlerFunc(h.AssignRole)))
}
