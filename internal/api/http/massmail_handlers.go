package http

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"member-intranet/internal/domain"
	"member-intranet/internal/logger"
	"member-intranet/internal/service"
)

type recipientRequest struct {
	Email     string `json:"email" validate:"required,email"`
	FirstName string `json:"first_name" validate:"max=200"`
	LastName  string `json:"last_name" validate:"max=200"`
}

// sendMassMailRequest takes recipients either as a JSON list or as CSV text
// with an email,first_name,last_name header.
type sendMassMailRequest struct {
	Subject       string             `json:"subject" validate:"required,max=500"`
	Body          string             `json:"body" validate:"required"`
	EventID       *int32             `json:"event_id,omitempty" validate:"omitempty,gt=0"`
	Recipients    []recipientRequest `json:"recipients" validate:"omitempty,dive"`
	RecipientsCSV string             `json:"recipients_csv"`
}

type massMailJobResponse struct {
	domain.MassMailJob
	PendingCount int32 `json:"pending_count"`
}

func jobResponse(job *domain.MassMailJob) *massMailJobResponse {
	if job == nil {
		return nil
	}
	return &massMailJobResponse{MassMailJob: *job, PendingCount: job.PendingCount()}
}

type massMailResultResponse struct {
	Job     *massMailJobResponse `json:"job,omitempty"`
	Sent    int                  `json:"sent"`
	Failed  int                  `json:"failed"`
	Message string               `json:"message"`
	Error   string               `json:"error,omitempty"`
}

func resultResponse(res *service.MassMailResult) massMailResultResponse {
	msg := fmt.Sprintf("sent: %d, failed: %d", res.Sent, res.Failed)
	if res.Job != nil && res.Job.Status == domain.MassMailStatusPaused {
		msg += fmt.Sprintf(", pending: %d", res.Job.PendingCount())
	}
	return massMailResultResponse{Job: jobResponse(res.Job), Sent: res.Sent, Failed: res.Failed, Message: msg}
}

// writeBatchResult answers with whatever a batch managed before it failed.
// The job stays queued, so a stopped batch is reported as accepted.
func writeBatchResult(w http.ResponseWriter, r *http.Request, res *service.MassMailResult, err error, okStatus int) {
	if err != nil {
		if res == nil || res.Job == nil {
			writeServiceError(w, r, err)
			return
		}
		logger.ErrorContext(r.Context(), "Mass mail batch stopped early", "jobID", res.Job.ID, "sent", res.Sent, "failed", res.Failed, "error", err)
		resp := resultResponse(res)
		resp.Error = "batch stopped early, remaining recipients stay queued"
		if errors.Is(err, domain.ErrJobLockLost) {
			resp.Error = err.Error()
		}
		writeJSON(w, http.StatusAccepted, resp)
		return
	}
	if res.Job != nil && res.Job.Status == domain.MassMailStatusPaused {
		okStatus = http.StatusAccepted
	}
	writeJSON(w, okStatus, resultResponse(res))
}

type massMailListResponse struct {
	Jobs  []massMailJobResponse `json:"jobs"`
	Total int32                 `json:"total"`
}

func (h *Handler) sendMassMail(w http.ResponseWriter, r *http.Request) {
	var req sendMassMailRequest
	if !h.decode(w, r, &req) {
		return
	}

	var recipients []domain.MassMailRecipient
	switch {
	case len(req.Recipients) > 0 && strings.TrimSpace(req.RecipientsCSV) != "":
		writeError(w, http.StatusBadRequest, "send either recipients or recipients_csv, not both")
		return
	case len(req.Recipients) > 0:
		for _, rc := range req.Recipients {
			recipients = append(recipients, domain.MassMailRecipient{Email: rc.Email, FirstName: rc.FirstName, LastName: rc.LastName})
		}
	case strings.TrimSpace(req.RecipientsCSV) != "":
		parsed, err := service.ParseRecipientsCSV(strings.NewReader(req.RecipientsCSV))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		recipients = parsed
	default:
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "at least one recipient is required", Field: "recipients"})
		return
	}

	res, err := h.massMail.Send(r.Context(), actorFrom(r.Context()), service.SendMassMailInput{
		Subject:      req.Subject,
		BodyTemplate: req.Body,
		EventID:      req.EventID,
		Recipients:   recipients,
	})
	writeBatchResult(w, r, res, err, http.StatusOK)
}

func (h *Handler) resumeMassMail(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	res, err := h.massMail.Resume(r.Context(), actorFrom(r.Context()), id)
	writeBatchResult(w, r, res, err, http.StatusOK)
}

func (h *Handler) getMassMail(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	job, err := h.massMail.Get(r.Context(), actorFrom(r.Context()), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jobResponse(job))
}

func (h *Handler) listMassMails(w http.ResponseWriter, r *http.Request) {
	jobs, total, err := h.massMail.List(r.Context(), actorFrom(r.Context()),
		queryInt32(r, "page", 1), queryInt32(r, "page_size", 20))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	resp := massMailListResponse{Jobs: make([]massMailJobResponse, 0, len(jobs)), Total: total}
	for i := range jobs {
		resp.Jobs = append(resp.Jobs, *jobResponse(&jobs[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}
