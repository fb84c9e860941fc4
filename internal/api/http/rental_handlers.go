package http

import (
	"bytes"
	"net/http"
	"time"

	"member-intranet/internal/domain"
	"member-intranet/internal/service"
)

type submitRentalRequest struct {
	ItemID    int32  `json:"item_id" validate:"required,gt=0"`
	Quantity  int32  `json:"quantity" validate:"required"`
	StartDate string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate   string `json:"end_date" validate:"required,datetime=2006-01-02"`
	Purpose   string `json:"purpose" validate:"required,max=2000"`
}

type rejectRentalRequest struct {
	Reason string `json:"reason" validate:"max=2000"`
}

type rentalListResponse struct {
	Rentals []domain.RentalView `json:"rentals"`
}

type returnResponse struct {
	Rental  any    `json:"rental"`
	Early   bool   `json:"early"`
	Message string `json:"message"`
}

func returnMessage(early bool) string {
	if early {
		return "Return reported ahead of the agreed end date. The board will confirm once the item is back."
	}
	return "Return reported. The board will confirm once the item is back."
}

func (h *Handler) listItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.rentals.ListItems(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]domain.InventoryItem{"items": nonNil(items)})
}

func (h *Handler) getItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	item, err := h.rentals.GetItem(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *Handler) listItemRentals(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	phases, err := queryPhases(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	views, err := h.rentals.ListForItem(r.Context(), id, phases...)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rentalListResponse{Rentals: nonNil(views)})
}

func (h *Handler) listMyRentals(w http.ResponseWriter, r *http.Request) {
	phases, err := queryPhases(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	views, err := h.rentals.ListForUser(r.Context(), actorFrom(r.Context()).UserID, phases...)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rentalListResponse{Rentals: nonNil(views)})
}

func (h *Handler) submitRental(w http.ResponseWriter, r *http.Request) {
	var req submitRentalRequest
	if !h.decode(w, r, &req) {
		return
	}
	rt, err := h.rentals.SubmitRequest(r.Context(), actorFrom(r.Context()), service.SubmitRentalInput{
		ItemID:    req.ItemID,
		Quantity:  req.Quantity,
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
		Purpose:   req.Purpose,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rt)
}

func (h *Handler) approveRental(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	rt, err := h.rentals.Approve(r.Context(), actorFrom(r.Context()), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rt)
}

func (h *Handler) rejectRental(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req rejectRentalRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	rt, err := h.rentals.Reject(r.Context(), actorFrom(r.Context()), id, req.Reason)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rt)
}

func (h *Handler) reportReturn(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	rt, early, err := h.rentals.ReportReturn(r.Context(), actorFrom(r.Context()), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, returnResponse{Rental: rt, Early: early, Message: returnMessage(early)})
}

func (h *Handler) reportLegacyReturn(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	lr, early, err := h.rentals.ReportLegacyReturn(r.Context(), actorFrom(r.Context()), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, returnResponse{Rental: lr, Early: early, Message: returnMessage(early)})
}

func (h *Handler) confirmReturn(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	rt, err := h.rentals.ConfirmReturn(r.Context(), actorFrom(r.Context()), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rt)
}

func (h *Handler) confirmLegacyReturn(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	lr, err := h.rentals.ConfirmLegacyReturn(r.Context(), actorFrom(r.Context()), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lr)
}

func (h *Handler) exportRentals(w http.ResponseWriter, r *http.Request) {
	phases, err := queryPhases(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	// Buffer so a failure halfway still gets a proper status code.
	var buf bytes.Buffer
	if err := h.rentals.ExportCSV(r.Context(), actorFrom(r.Context()), &buf, phases...); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="rentals-`+time.Now().UTC().Format("20060102")+`.csv"`)
	w.WriteHeader(http.StatusOK)
	buf.WriteTo(w)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
