package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/aasha-care/aasha-relay/internal/client"
	"github.com/aasha-care/aasha-relay/internal/model"
	"github.com/aasha-care/aasha-relay/internal/scheduler"
	"github.com/aasha-care/aasha-relay/internal/service"
)

const maxBodyBytes = 1 << 20

type QueueRunner interface {
	Run(ctx context.Context) (service.Results, error)
}

type Sender interface {
	SendNow(ctx context.Context, req service.SendRequest) (client.Receipt, error)
}

type Onboarding interface {
	Register(ctx context.Context, raw json.RawMessage) (service.RegistrationResult, error)
	Welcome(ctx context.Context, raw json.RawMessage) (json.RawMessage, error)
}

type InboundReceiver interface {
	Receive(ctx context.Context, raw json.RawMessage) (service.InboundResult, error)
}

type Cleaner interface {
	Cleanup(ctx context.Context) (service.CleanupResult, error)
}

type SentLog interface {
	ListSent(ctx context.Context, limit, offset int) ([]model.DeliveryLogEntry, error)
}

// Services groups what the handlers delegate to.
type Services struct {
	Queue      QueueRunner
	Sender     Sender
	Onboarding Onboarding
	Inbound    InboundReceiver
	Cleaner    Cleaner
	SentLog    SentLog
}

type Handler struct {
	sched *scheduler.Scheduler
	svc   Services
}

func NewHandler(s *scheduler.Scheduler, svc Services) *Handler {
	return &Handler{sched: s, svc: svc}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sched.Status())
}

func (h *Handler) SchedulerStart(w http.ResponseWriter, r *http.Request) {
	h.sched.Start()
	writeJSON(w, http.StatusOK, h.sched.Status())
}

func (h *Handler) SchedulerStop(w http.ResponseWriter, r *http.Request) {
	h.sched.Stop()
	writeJSON(w, http.StatusOK, h.sched.Status())
}

func (h *Handler) ProcessQueue(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Queue.Run(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	msg := "No pending messages to process"
	if res.Processed > 0 {
		msg = "Message queue processed"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": msg,
		"results": res,
	})
}

func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req service.SendRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	receipt, err := h.svc.Sender.SendNow(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":             true,
		"message":             "Message sent successfully",
		"telegram_message_id": receipt.RemoteMessageID,
	})
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	raw, err := readBody(r)
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := h.svc.Onboarding.Register(r.Context(), raw)
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusOK
	if !res.Success {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, res)
}

func (h *Handler) Welcome(w http.ResponseWriter, r *http.Request) {
	raw, err := readBody(r)
	if err != nil {
		writeError(w, err)
		return
	}

	out, err := h.svc.Onboarding.Welcome(r.Context(), raw)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "webhookResponse": out})
}

func (h *Handler) Inbound(w http.ResponseWriter, r *http.Request) {
	raw, err := readBody(r)
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := h.svc.Inbound.Receive(r.Context(), raw)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"message":     "Message processed successfully",
		"ai_response": res.AIResponse,
	})
}

func (h *Handler) CleanupCalls(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Cleaner.Cleanup(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) ListSentMessages(w http.ResponseWriter, r *http.Request) {
	limit := parseInt(r.URL.Query().Get("limit"), 50)
	offset := parseInt(r.URL.Query().Get("offset"), 0)

	items, err := h.svc.SentLog.ListSent(r.Context(), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	if items == nil {
		items = []model.DeliveryLogEntry{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func parseInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func readBody(r *http.Request) (json.RawMessage, error) {
	b, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", service.ErrInvalidRequest, err)
	}
	if !json.Valid(b) {
		return nil, fmt.Errorf("%w: body is not valid JSON", service.ErrInvalidRequest)
	}
	return b, nil
}

func decodeBody(r *http.Request, v any) error {
	raw, err := readBody(r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", service.ErrInvalidRequest, err)
	}
	return nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrRunInProgress):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
	}
	writeJSON(w, status, map[string]any{"success": false, "error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
