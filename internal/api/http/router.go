// Package http exposes the rental and mass-mail services as a JSON API.
package http

import (
	"context"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"member-intranet/internal/security"
	"member-intranet/internal/service"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds the services behind the HTTP API.
type Handler struct {
	rentals       service.RentalService
	massMail      service.MassMailService
	notifications service.NotificationService
	tokens        security.TokenManager
	store         Pinger
	validate      *validator.Validate
}

func NewHandler(
	rentals service.RentalService,
	massMail service.MassMailService,
	notifications service.NotificationService,
	tokens security.TokenManager,
	store Pinger,
) *Handler {
	return &Handler{
		rentals:       rentals,
		massMail:      massMail,
		notifications: notifications,
		tokens:        tokens,
		store:         store,
		validate:      newValidator(),
	}
}

// Router builds the route table. Every route is named; the name selects its
// security level in config.EndpointSecurityConfig.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(requestIDMiddleware, accessLogMiddleware, h.authMiddleware)

	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet).Name("health")

	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/items", h.listItems).Methods(http.MethodGet).Name("items.list")
	api.HandleFunc("/items/{id:[0-9]+}", h.getItem).Methods(http.MethodGet).Name("items.get")
	api.HandleFunc("/items/{id:[0-9]+}/rentals", h.listItemRentals).Methods(http.MethodGet).Name("items.rentals")
	api.HandleFunc("/me/rentals", h.listMyRentals).Methods(http.MethodGet).Name("rentals.mine")

	api.HandleFunc("/rentals", h.submitRental).Methods(http.MethodPost).Name("rentals.submit")
	api.HandleFunc("/rentals/export", h.exportRentals).Methods(http.MethodGet).Name("rentals.export")
	api.HandleFunc("/rentals/{id:[0-9]+}/approve", h.approveRental).Methods(http.MethodPost).Name("rentals.approve")
	api.HandleFunc("/rentals/{id:[0-9]+}/reject", h.rejectRental).Methods(http.MethodPost).Name("rentals.reject")
	api.HandleFunc("/rentals/{id:[0-9]+}/return", h.reportReturn).Methods(http.MethodPost).Name("rentals.return")
	api.HandleFunc("/rentals/{id:[0-9]+}/confirm-return", h.confirmReturn).Methods(http.MethodPost).Name("rentals.confirm_return")

	api.HandleFunc("/legacy-rentals/{id:[0-9]+}/return", h.reportLegacyReturn).Methods(http.MethodPost).Name("legacy.return")
	api.HandleFunc("/legacy-rentals/{id:[0-9]+}/confirm-return", h.confirmLegacyReturn).Methods(http.MethodPost).Name("legacy.confirm_return")

	api.HandleFunc("/mass-mails", h.sendMassMail).Methods(http.MethodPost).Name("massmail.send")
	api.HandleFunc("/mass-mails", h.listMassMails).Methods(http.MethodGet).Name("massmail.list")
	api.HandleFunc("/mass-mails/{id:[0-9]+}", h.getMassMail).Methods(http.MethodGet).Name("massmail.get")
	api.HandleFunc("/mass-mails/{id:[0-9]+}/resume", h.resumeMassMail).Methods(http.MethodPost).Name("massmail.resume")

	api.HandleFunc("/notifications", h.listNotifications).Methods(http.MethodGet).Name("notifications.list")
	api.HandleFunc("/notifications/{id:[0-9]+}/read", h.markNotificationRead).Methods(http.MethodPost).Name("notifications.read")

	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
