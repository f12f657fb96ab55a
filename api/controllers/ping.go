package controllers

import (
	"net/http"

	"github.com/angelmondragon/orderflow-backend/api/middleware"
	"github.com/angelmondragon/orderflow-backend/api/responses"
)

func PublicPing() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteSuccess(w, map[string]string{"scope": "public", "status": "ok"})
	}
}

func PrivatePing() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteSuccess(w, map[string]string{
			"scope":   "private",
			"status":  "ok",
			"user_id": middleware.UserIDFromContext(r.Context()),
			"role":    string(middleware.RoleFromContext(r.Context())),
		})
	}
}
