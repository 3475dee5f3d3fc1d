package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sid-stack/aris-registry/internal/discovery"
	"github.com/sid-stack/aris-registry/internal/domain"
	"github.com/sid-stack/aris-registry/internal/token"
	"github.com/sid-stack/aris-registry/internal/webhook"
)

// Metrics
var (
	httpReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "settlement_http_request_duration_seconds",
		Help:    "Request latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"method", "endpoint"})

	sweepReleased = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlement_sweep_released_total",
		Help: "Stale holds released by the reaper",
	})
)

// LedgerService is the ledger surface the handlers consume.
type LedgerService interface {
	Debit(ctx context.Context, accountID int64, amount int64, description string) (int64, error)
	Refund(ctx context.Context, accountID int64, amount int64, reason string) (int64, error)
	CreateAccount(ctx context.Context, email string) (int64, error)
	GetAccount(ctx context.Context, id int64) (*domain.Account, error)
	GetEntries(ctx context.Context, id int64) ([]domain.LedgerEntry, error)
}

type EscrowService interface {
	Authorize(ctx context.Context, ownerAccountID int64, amount int64) (*domain.EscrowHold, string, error)
	Finalize(ctx context.Context, holdID, payload string) (string, error)
	Get(ctx context.Context, holdID string) (*domain.EscrowHold, error)
}

type WebhookService interface {
	HandleEvent(ctx context.Context, payload []byte, sigHeader string) (*webhook.Result, error)
}

type SweepService interface {
	Sweep(ctx context.Context, ttl time.Duration) (released int, errs []string)
	Reconcile(ctx context.Context) (reconciled int, errs []string)
}

type TokenIssuer interface {
	Issue(subject, audience, capability string, ttl time.Duration) (string, error)
}

type Discoverer interface {
	Discover(ctx context.Context, capability string) ([]domain.AgentCandidate, error)
}

type Handler struct {
	ledger    LedgerService
	escrow    EscrowService
	webhooks  WebhookService
	sweeper   SweepService
	tokens    TokenIssuer
	discovery Discoverer

	cronSecret    string
	holdTTL       time.Duration
	handshakeCost int64
	log           *slog.Logger
}

func NewHandler(
	ledger LedgerService,
	escrow EscrowService,
	webhooks WebhookService,
	sweeper SweepService,
	tokens TokenIssuer,
	discovery Discoverer,
	cronSecret string,
	holdTTL time.Duration,
	handshakeCost int64,
	log *slog.Logger,
) *Handler {
	return &Handler{
		ledger:        ledger,
		escrow:        escrow,
		webhooks:      webhooks,
		sweeper:       sweeper,
		tokens:        tokens,
		discovery:     discovery,
		cronSecret:    cronSecret,
		holdTTL:       holdTTL,
		handshakeCost: handshakeCost,
		log:           log,
	}
}

// Register wires every route onto the router.
func (h *Handler) Register(r *mux.Router) {
	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/accounts", h.CreateAccount).Methods("POST")
	api.HandleFunc("/accounts/{id}", h.GetAccount).Methods("GET")
	api.HandleFunc("/accounts/{id}/entries", h.GetAccountEntries).Methods("GET")
	api.HandleFunc("/debit", h.Debit).Methods("POST")
	api.HandleFunc("/handshake", h.Handshake).Methods("POST")
	api.HandleFunc("/authorize", h.Authorize).Methods("POST")
	api.HandleFunc("/finalize/{hold_id}", h.Finalize).Methods("POST")
	api.HandleFunc("/holds/{hold_id}", h.GetHold).Methods("GET")
	api.HandleFunc("/discover", h.Discover).Methods("GET")

	r.HandleFunc("/webhook", h.Webhook).Methods("POST")
	r.HandleFunc("/internal/sweep", h.Sweep).Methods("GET")
	r.HandleFunc("/internal/reconcile", h.Reconcile).Methods("GET")
	r.HandleFunc("/health", h.Health).Methods("GET")
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"}, "GET", "/health")
}

type createAccountRequest struct {
	Email string `json:"email"`
}

func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if r.Body != nil {
		// Body is optional; an empty account is valid.
		json.NewDecoder(r.Body).Decode(&req)
	}
	id, err := h.ledger.CreateAccount(r.Context(), req.Email)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "could not create account", "POST", "/accounts")
		return
	}
	h.respondJSON(w, http.StatusCreated, map[string]int64{"account_id": id}, "POST", "/accounts")
}

func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid account id", "GET", "/accounts/{id}")
		return
	}
	acc, err := h.ledger.GetAccount(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			h.respondError(w, http.StatusNotFound, "account not found", "GET", "/accounts/{id}")
			return
		}
		h.respondError(w, http.StatusInternalServerError, "account lookup failed", "GET", "/accounts/{id}")
		return
	}
	h.respondJSON(w, http.StatusOK, acc, "GET", "/accounts/{id}")
}

func (h *Handler) GetAccountEntries(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid account id", "GET", "/accounts/{id}/entries")
		return
	}
	entries, err := h.ledger.GetEntries(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			h.respondError(w, http.StatusNotFound, "account not found", "GET", "/accounts/{id}/entries")
			return
		}
		h.respondError(w, http.StatusInternalServerError, "entries lookup failed", "GET", "/accounts/{id}/entries")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"entries": entries}, "GET", "/accounts/{id}/entries")
}

type debitRequest struct {
	Account int64  `json:"account"`
	Amount  string `json:"amount"`
}

func (h *Handler) Debit(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("POST", "/debit"))
	defer timer.ObserveDuration()

	var req debitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON", "POST", "/debit")
		return
	}
	amount, err := domain.ParseAmount(req.Amount)
	if err != nil {
		h.respondError(w, http.StatusUnprocessableEntity, err.Error(), "POST", "/debit")
		return
	}

	newBalance, err := h.ledger.Debit(r.Context(), req.Account, amount, "per-call billing")
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInsufficientFunds):
			h.respondError(w, http.StatusPaymentRequired, "insufficient funds", "POST", "/debit")
		case errors.Is(err, domain.ErrAccountNotFound):
			h.respondError(w, http.StatusForbidden, "unknown account", "POST", "/debit")
		default:
			h.respondError(w, http.StatusInternalServerError, "debit failed", "POST", "/debit")
		}
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]string{
		"new_balance": domain.FormatAmount(newBalance),
	}, "POST", "/debit")
}

type handshakeRequest struct {
	Account    int64  `json:"account"`
	Payer      string `json:"payer"`
	Target     string `json:"target"`
	Capability string `json:"capability"`
	TTLSeconds int64  `json:"ttl_seconds"`
}

// Handshake debits the per-call fee and issues a capability token the payer
// presents to the target agent.
func (h *Handler) Handshake(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("POST", "/handshake"))
	defer timer.ObserveDuration()

	var req handshakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON", "POST", "/handshake")
		return
	}
	if req.Payer == "" || req.Target == "" || req.Capability == "" {
		h.respondError(w, http.StatusUnprocessableEntity, "payer, target and capability are required", "POST", "/handshake")
		return
	}

	ttl := 5 * time.Minute
	if req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}
	// Bounds-check before billing so an out-of-range ttl never costs anything.
	if ttl > token.MaxTTL {
		h.respondError(w, http.StatusUnprocessableEntity, token.ErrTTLTooLong.Error(), "POST", "/handshake")
		return
	}

	newBalance, err := h.ledger.Debit(r.Context(), req.Account, h.handshakeCost, "capability handshake fee")
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInsufficientFunds):
			h.respondError(w, http.StatusPaymentRequired, "insufficient balance", "POST", "/handshake")
		case errors.Is(err, domain.ErrAccountNotFound):
			h.respondError(w, http.StatusForbidden, "unknown account", "POST", "/handshake")
		default:
			h.respondError(w, http.StatusInternalServerError, "handshake billing failed", "POST", "/handshake")
		}
		return
	}

	sessionToken, err := h.tokens.Issue(req.Payer, req.Target, req.Capability, ttl)
	if err != nil {
		// The fee was taken but no token can be produced; compensate the debit.
		h.log.Error("token issuance failed after debit", "account_id", req.Account, "error", err)
		if _, rerr := h.ledger.Refund(r.Context(), req.Account, h.handshakeCost, "handshake token issuance failed"); rerr != nil {
			h.log.Error("handshake fee refund failed", "account_id", req.Account, "error", rerr)
		}
		if errors.Is(err, token.ErrTTLTooLong) || errors.Is(err, token.ErrTTLInvalid) {
			h.respondError(w, http.StatusUnprocessableEntity, err.Error(), "POST", "/handshake")
		} else {
			h.respondError(w, http.StatusInternalServerError, "token issuance failed", "POST", "/handshake")
		}
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]string{
		"session_token":     sessionToken,
		"remaining_balance": domain.FormatAmount(newBalance),
	}, "POST", "/handshake")
}

type authorizeRequest struct {
	Account int64  `json:"account"`
	Amount  string `json:"amount"`
}

func (h *Handler) Authorize(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("POST", "/authorize"))
	defer timer.ObserveDuration()

	var req authorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON", "POST", "/authorize")
		return
	}
	amount, err := domain.ParseAmount(req.Amount)
	if err != nil {
		h.respondError(w, http.StatusUnprocessableEntity, err.Error(), "POST", "/authorize")
		return
	}

	hold, clientSecret, err := h.escrow.Authorize(r.Context(), req.Account, amount)
	if err != nil {
		h.log.Error("authorize failed", "account_id", req.Account, "error", err)
		h.respondError(w, http.StatusInternalServerError, "could not place hold", "POST", "/authorize")
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]string{
		"hold_id":       hold.ID,
		"client_secret": clientSecret,
	}, "POST", "/authorize")
}

type finalizeRequest struct {
	Payload string `json:"payload"`
}

func (h *Handler) Finalize(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("POST", "/finalize"))
	defer timer.ObserveDuration()

	holdID := mux.Vars(r)["hold_id"]

	var req finalizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON", "POST", "/finalize")
		return
	}

	artifactRef, err := h.escrow.Finalize(r.Context(), holdID, req.Payload)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrHoldNotFound):
			h.respondError(w, http.StatusNotFound, "hold not found", "POST", "/finalize")
		case errors.Is(err, domain.ErrHoldTerminal):
			h.respondError(w, http.StatusConflict, "hold already settled", "POST", "/finalize")
		default:
			h.log.Error("finalize failed, hold rolled back", "hold_id", holdID, "error", err)
			h.respondError(w, http.StatusInternalServerError, "delivery pipeline failed, payment not captured", "POST", "/finalize")
		}
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]string{"artifact_ref": artifactRef}, "POST", "/finalize")
}

func (h *Handler) GetHold(w http.ResponseWriter, r *http.Request) {
	hold, err := h.escrow.Get(r.Context(), mux.Vars(r)["hold_id"])
	if err != nil {
		if errors.Is(err, domain.ErrHoldNotFound) {
			h.respondError(w, http.StatusNotFound, "hold not found", "GET", "/holds/{id}")
			return
		}
		h.respondError(w, http.StatusInternalServerError, "hold lookup failed", "GET", "/holds/{id}")
		return
	}
	h.respondJSON(w, http.StatusOK, hold, "GET", "/holds/{id}")
}

// Webhook is the processor callback. Once the signature and shape check out
// the response is 200 regardless of whether the event changed anything, so
// the processor stops redelivering.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("POST", "/webhook"))
	defer timer.ObserveDuration()

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "unreadable payload", "POST", "/webhook")
		return
	}

	result, err := h.webhooks.HandleEvent(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		switch {
		case errors.Is(err, webhook.ErrInvalidSignature), errors.Is(err, webhook.ErrMalformedEvent):
			h.respondError(w, http.StatusBadRequest, "invalid webhook", "POST", "/webhook")
		case errors.Is(err, domain.ErrAccountNotFound):
			// Data problem, not a transient failure; 200 stops the retries.
			h.log.Error("webhook references unknown account", "error", err)
			h.respondJSON(w, http.StatusOK, map[string]string{"status": "ignored"}, "POST", "/webhook")
		default:
			h.respondError(w, http.StatusInternalServerError, "webhook processing failed", "POST", "/webhook")
		}
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"applied": result.Applied,
	}, "POST", "/webhook")
}

func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	if !h.cronAuthorized(r) {
		h.respondError(w, http.StatusUnauthorized, "unauthorized", "GET", "/internal/sweep")
		return
	}

	released, errs := h.sweeper.Sweep(r.Context(), h.holdTTL)
	sweepReleased.Add(float64(released))
	h.respondJSON(w, http.StatusOK, map[string]any{
		"released": released,
		"errors":   errs,
	}, "GET", "/internal/sweep")
}

func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	if !h.cronAuthorized(r) {
		h.respondError(w, http.StatusUnauthorized, "unauthorized", "GET", "/internal/reconcile")
		return
	}

	reconciled, errs := h.sweeper.Reconcile(r.Context())
	h.respondJSON(w, http.StatusOK, map[string]any{
		"reconciled": reconciled,
		"errors":     errs,
	}, "GET", "/internal/reconcile")
}

func (h *Handler) cronAuthorized(r *http.Request) bool {
	return h.cronSecret != "" && r.Header.Get("X-Cron-Secret") == h.cronSecret
}

func (h *Handler) Discover(w http.ResponseWriter, r *http.Request) {
	capability := r.URL.Query().Get("capability")
	agents, err := h.discovery.Discover(r.Context(), capability)
	if err != nil {
		if errors.Is(err, discovery.ErrNotConfigured) {
			h.respondError(w, http.StatusServiceUnavailable, discovery.ErrNotConfigured.Error(), "GET", "/discover")
			return
		}
		h.respondError(w, http.StatusBadGateway, "discovery index unavailable", "GET", "/discover")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"agents": agents}, "GET", "/discover")
}

// Helpers
func (h *Handler) respondJSON(w http.ResponseWriter, code int, payload interface{}, method, endpoint string) {
	httpReqTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

func (h *Handler) respondError(w http.ResponseWriter, code int, msg, method, endpoint string) {
	h.respondJSON(w, code, map[string]string{"error": msg}, method, endpoint)
}
