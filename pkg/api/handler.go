package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/mihaimyh/rzpsub/pkg/billing"
	"github.com/mihaimyh/rzpsub/pkg/billing/razorpay"
)

// Endpoint paths, relative to the mount prefix.
const (
	UpgradePath = "/subscription/upgrade"
	CancelPath  = "/subscription/cancel"
	RestorePath = "/subscription/restore"
	PausePath   = "/subscription/pause"
	ResumePath  = "/subscription/resume"
	UpdatePath  = "/subscription/update"
	ListPath    = "/subscription/list"
	WebhookPath = "/razorpay/webhook"
)

// Handler provides HTTP endpoints for subscription actions
type Handler struct {
	config Config
}

// Routes lists every endpoint under prefix.
func (h *Handler) Routes(prefix string) []Route {
	prefix = strings.TrimSuffix(prefix, "/")
	routes := []Route{
		{http.MethodPost, prefix + UpgradePath, h.Upgrade},
		{http.MethodPost, prefix + CancelPath, h.Cancel},
		{http.MethodPost, prefix + RestorePath, h.Restore},
		{http.MethodPost, prefix + PausePath, h.Pause},
		{http.MethodPost, prefix + ResumePath, h.Resume},
		{http.MethodPost, prefix + UpdatePath, h.Update},
		{http.MethodGet, prefix + ListPath, h.List},
	}
	if h.config.Webhook != nil {
		routes = append(routes, Route{http.MethodPost, prefix + WebhookPath, h.config.Webhook.ServeHTTP})
	}
	return routes
}

// RegisterRoutes mounts every endpoint on mux under prefix.
func (h *Handler) RegisterRoutes(mux *http.ServeMux, prefix string) {
	for _, rt := range h.Routes(prefix) {
		mux.HandleFunc(rt.Method+" "+rt.Path, rt.Handler)
	}
}

// Upgrade handles POST /subscription/upgrade
func (h *Handler) Upgrade(w http.ResponseWriter, r *http.Request) {
	var req razorpay.UpgradeRequest
	actor, ok := h.begin(w, r, &req)
	if !ok {
		return
	}
	if strings.TrimSpace(req.Plan) == "" {
		h.handleError(w, r, billing.ErrInvalidRequest.Withf("plan is required"))
		return
	}
	res, err := h.config.Actions.Upgrade(r.Context(), actor, req)
	h.respond(w, r, res, err)
}

// Cancel handles POST /subscription/cancel
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req razorpay.CancelRequest
	actor, ok := h.begin(w, r, &req)
	if !ok {
		return
	}
	res, err := h.config.Actions.Cancel(r.Context(), actor, req)
	h.respond(w, r, res, err)
}

// Restore handles POST /subscription/restore
func (h *Handler) Restore(w http.ResponseWriter, r *http.Request) {
	var req razorpay.SubscriptionRequest
	actor, ok := h.begin(w, r, &req)
	if !ok {
		return
	}
	res, err := h.config.Actions.Restore(r.Context(), actor, req)
	h.respond(w, r, res, err)
}

// Pause handles POST /subscription/pause
func (h *Handler) Pause(w http.ResponseWriter, r *http.Request) {
	var req razorpay.SubscriptionRequest
	actor, ok := h.begin(w, r, &req)
	if !ok {
		return
	}
	res, err := h.config.Actions.Pause(r.Context(), actor, req)
	h.respond(w, r, res, err)
}

// Resume handles POST /subscription/resume
func (h *Handler) Resume(w http.ResponseWriter, r *http.Request) {
	var req razorpay.SubscriptionRequest
	actor, ok := h.begin(w, r, &req)
	if !ok {
		return
	}
	res, err := h.config.Actions.Resume(r.Context(), actor, req)
	h.respond(w, r, res, err)
}

// Update handles POST /subscription/update
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var req razorpay.UpdateRequest
	actor, ok := h.begin(w, r, &req)
	if !ok {
		return
	}
	res, err := h.config.Actions.Update(r.Context(), actor, req)
	h.respond(w, r, res, err)
}

// List handles GET /subscription/list?referenceId=&customerType=
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	actor, err := h.config.GetActor(r)
	if err != nil || actor == nil {
		h.handleError(w, r, billing.ErrUnauthorized)
		return
	}
	q := r.URL.Query()
	subs, err := h.config.Actions.List(r.Context(), actor, razorpay.ReferenceRequest{
		ReferenceID:  q.Get("referenceId"),
		CustomerType: billing.CustomerType(q.Get("customerType")),
	})
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ListResponse{Subscriptions: subs})
}

// begin authenticates the caller and decodes an optional JSON body into dst.
func (h *Handler) begin(w http.ResponseWriter, r *http.Request, dst interface{}) (*billing.Actor, bool) {
	actor, err := h.config.GetActor(r)
	if err != nil || actor == nil {
		h.handleError(w, r, billing.ErrUnauthorized)
		return nil, false
	}
	if r.Body == nil {
		return actor, true
	}
	body := http.MaxBytesReader(w, r.Body, h.config.MaxBodyBytes)
	defer body.Close() //nolint:errcheck // nothing useful to do on close failure

	if err := json.NewDecoder(body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.handleError(w, r, billing.ErrInvalidRequest.Withf("request body too large"))
			return nil, false
		}
		h.handleError(w, r, billing.ErrInvalidRequest.Wrap(err))
		return nil, false
	}
	return actor, true
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, res *razorpay.Result, err error) {
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleError handles errors with appropriate HTTP status codes
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	if h.config.OnError != nil {
		h.config.OnError(w, r, err)
		return
	}

	status, body := ErrorResponseFor(err)
	if status >= http.StatusInternalServerError {
		h.config.Logger.Error("subscription request failed",
			billing.F("path", r.URL.Path),
			billing.F("code", body.Code),
			billing.F("error", err))
	}
	writeJSON(w, status, body)
}

// ErrorResponseFor maps an error onto an HTTP status and a stable body.
// Causes wrapped inside a billing.Error are not exposed.
func ErrorResponseFor(err error) (int, ErrorResponse) {
	var be *billing.Error
	if !errors.As(err, &be) {
		return http.StatusInternalServerError, ErrorResponse{
			Code:    billing.ErrInternal.Code,
			Message: billing.ErrInternal.Message,
		}
	}
	return StatusFor(be.Kind), ErrorResponse{Code: be.Code, Message: be.Message}
}

// StatusFor returns the HTTP status for an error kind.
func StatusFor(kind billing.Kind) int {
	switch kind {
	case billing.KindBadRequest, billing.KindVerification:
		return http.StatusBadRequest
	case billing.KindUnauthorized:
		return http.StatusUnauthorized
	case billing.KindForbidden:
		return http.StatusForbidden
	case billing.KindNotFound:
		return http.StatusNotFound
	case billing.KindConflict:
		return http.StatusConflict
	case billing.KindRemote:
		return http.StatusBadGateway
	case billing.KindConfig, billing.KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // headers already sent
}
