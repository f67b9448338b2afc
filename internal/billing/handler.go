// AngelaMos | 2026
// handler.go

package billing

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/carterperez-dev/templates/seller-billing/internal/core"
	"github.com/carterperez-dev/templates/seller-billing/internal/middleware"
	"github.com/carterperez-dev/templates/seller-billing/internal/processor"
)

const (
	maxWebhookBody  = 1 << 20
	maxRequestBody  = 64 << 10
	SignatureHeader = "Stripe-Signature"
)

// WebhookVerifier authenticates a raw webhook body against its signature
// header.
type WebhookVerifier interface {
	Verify(payload []byte, header string) error
}

type Handler struct {
	service   *Service
	verifier  WebhookVerifier
	ledger    EventLedger
	validator *validator.Validate
}

func NewHandler(service *Service, verifier WebhookVerifier, ledger EventLedger) *Handler {
	return &Handler{
		service:   service,
		verifier:  verifier,
		ledger:    ledger,
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// RegisterRoutes mounts the billing API. sellerLimit, when set, throttles
// the actions that call the processor per authenticated seller.
func (h *Handler) RegisterRoutes(
	r chi.Router,
	authenticator func(http.Handler) http.Handler,
	sellerLimit func(http.Handler) http.Handler,
) {
	r.Route("/billing", func(r chi.Router) {
		r.Post("/webhook", h.Webhook)

		r.Group(func(r chi.Router) {
			r.Use(authenticator)
			r.Get("/subscription/sync", h.Sync)

			r.Group(func(r chi.Router) {
				if sellerLimit != nil {
					r.Use(sellerLimit)
				}
				r.Post("/checkout", h.Checkout)
				r.Post("/portal", h.Portal)
				r.Post("/subscription/change", h.ChangePlan)
				r.Post("/subscription/cancel", h.Cancel)
			})
		})
	})
}

func callerFrom(r *http.Request) Caller {
	return Caller{
		UserID: middleware.GetUserID(r.Context()),
		Email:  middleware.GetUserEmail(r.Context()),
	}
}

// decode reads a JSON body. An empty body decodes to the zero value when
// allowEmpty is set.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	err := json.NewDecoder(r.Body).Decode(dst)
	if errors.Is(err, io.EOF) && allowEmpty {
		err = nil
	}
	if err != nil {
		core.BadRequest(w, "invalid request body")
		return false
	}

	if err := h.validator.Struct(dst); err != nil {
		core.BadRequest(w, core.FormatValidationError(err))
		return false
	}
	return true
}

func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if !h.decode(w, r, &req, false) {
		return
	}

	result, err := h.service.Checkout(r.Context(), callerFrom(r), req.PlanID, req.BillingCycle)
	if err != nil {
		core.JSONError(w, err)
		return
	}

	core.OK(w, URLResponse{URL: result.URL})
}

func (h *Handler) Portal(w http.ResponseWriter, r *http.Request) {
	var req PortalRequest
	if !h.decode(w, r, &req, true) {
		return
	}

	result, err := h.service.Portal(r.Context(), callerFrom(r), req.ReturnPath)
	if err != nil {
		core.JSONError(w, err)
		return
	}

	core.OK(w, URLResponse{URL: result.URL})
}

func (h *Handler) ChangePlan(w http.ResponseWriter, r *http.Request) {
	var req ChangePlanRequest
	if !h.decode(w, r, &req, false) {
		return
	}

	result, err := h.service.ChangePlan(r.Context(), callerFrom(r), req.PlanID, req.BillingCycle)
	if err != nil {
		core.JSONError(w, err)
		return
	}

	core.OK(w, ToPlanResponse(result))
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if !h.decode(w, r, &req, true) {
		return
	}

	result, err := h.service.Cancel(r.Context(), callerFrom(r), req.PeriodEnd())
	if err != nil {
		core.JSONError(w, err)
		return
	}

	core.OK(w, ToPlanResponse(result))
}

func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.Reconcile(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		core.JSONError(w, err)
		return
	}

	core.OK(w, ToSyncResponse(result))
}

type webhookAck struct {
	Received  bool `json:"received"`
	Duplicate bool `json:"duplicate,omitempty"`
}

// Webhook verifies and applies a processor event. Nothing is read from the
// payload before the signature checks out. A 500 asks the processor to
// redeliver; that redelivery is the only retry this service relies on.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBody)

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		core.JSONError(w, core.SignatureError("webhook body unreadable or too large"))
		return
	}

	if err := h.verifier.Verify(payload, r.Header.Get(SignatureHeader)); err != nil {
		slog.WarnContext(r.Context(), "webhook signature rejected", "error", err)
		core.JSONError(w, core.SignatureError("invalid webhook signature"))
		return
	}

	var evt processor.Event
	if err := json.Unmarshal(payload, &evt); err != nil || evt.Type == "" {
		core.BadRequest(w, "invalid webhook payload")
		return
	}

	if h.ledger != nil && h.ledger.Seen(r.Context(), evt.ID) {
		slog.InfoContext(r.Context(), "webhook event already applied",
			"event_id", evt.ID,
			"event_type", evt.Type,
		)
		core.OK(w, webhookAck{Received: true, Duplicate: true})
		return
	}

	if err := h.service.HandleEvent(r.Context(), &evt); err != nil {
		slog.ErrorContext(r.Context(), "webhook processing failed",
			"event_id", evt.ID,
			"event_type", evt.Type,
			"error", err,
		)
		core.InternalServerError(w, err)
		return
	}

	if h.ledger != nil {
		h.ledger.Record(r.Context(), evt.ID)
	}

	core.OK(w, webhookAck{Received: true})
}
