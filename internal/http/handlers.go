package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/eventra/payment-settlement/internal/adapters/crdb"
	redisadapter "github.com/eventra/payment-settlement/internal/adapters/redis"
	"github.com/eventra/payment-settlement/internal/catalog"
	"github.com/eventra/payment-settlement/internal/config"
	"github.com/eventra/payment-settlement/internal/disbursement"
	"github.com/eventra/payment-settlement/internal/domain"
	"github.com/eventra/payment-settlement/internal/idempotency"
	"github.com/eventra/payment-settlement/internal/inventory"
	"github.com/eventra/payment-settlement/internal/ledger"
	"github.com/eventra/payment-settlement/internal/settlement"
)

type Handlers struct {
	cfg           *config.Config
	settlement    *settlement.Orchestrator
	disbursements *disbursement.Service
	inventory     *inventory.Manager
	ledger        *ledger.Store
	catalog       *catalog.Service
	cache         *redisadapter.Cache
	idemp         *idempotency.Idempotency
}

func NewHandlers(cfg *config.Config, orch *settlement.Orchestrator, disb *disbursement.Service, inv *inventory.Manager, led *ledger.Store, cat *catalog.Service, cache *redisadapter.Cache, idemp *idempotency.Idempotency) *Handlers {
	return &Handlers{
		cfg:           cfg,
		settlement:    orch,
		disbursements: disb,
		inventory:     inv,
		ledger:        led,
		catalog:       cat,
		cache:         cache,
		idemp:         idemp,
	}
}

// PaymentWebhook receives gateway confirmations. Delivery is at-least-once:
// this endpoint is safe to call zero, one or many times per real payment.
func (h *Handlers) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PaymentID uuid.UUID `json:"payment_id"`
		Status    string    `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST")
		return
	}

	switch req.Status {
	case "PAID", "SUCCEEDED":
	case "FAILED":
		if err := h.settlement.ClosePayment(r.Context(), req.PaymentID, domain.PaymentFailed); err != nil {
			h.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "FAILED"})
		return
	case "EXPIRED":
		if err := h.settlement.ClosePayment(r.Context(), req.PaymentID, domain.PaymentExpired); err != nil {
			h.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "EXPIRED"})
		return
	default:
		writeError(w, http.StatusBadRequest, "UNKNOWN_STATUS")
		return
	}

	// First line of duplicate suppression; the registration unique index is
	// the guarantee. A delivery that loses the lock is told to come back.
	acquired, err := h.cache.AcquireSettleLock(r.Context(), req.PaymentID.String(), h.cfg.SettleLockTTL)
	if err == nil && !acquired {
		writeJSON(w, http.StatusAccepted, map[string]any{"status": "PROCESSING"})
		return
	}
	if acquired {
		defer h.cache.ReleaseSettleLock(r.Context(), req.PaymentID.String())
	}

	if _, err := h.settlement.MarkPaid(r.Context(), req.PaymentID); err != nil {
		h.writeDomainError(w, err)
		return
	}

	result, err := h.settlement.Settle(r.Context(), req.PaymentID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"registration_id":    result.Registration.ID,
		"registration_token": result.Registration.RegistrationToken,
		"already_settled":    result.AlreadySettled,
	})
}

func (h *Handlers) CancelRegistration(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if err := h.settlement.CancelRegistration(r.Context(), id); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "CANCELLED"})
}

func (h *Handlers) CreateDisbursement(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get("Idempotency-Key")
	if existing, err := h.idemp.Get(r.Context(), key); err == nil && existing != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(existing.Status)
		w.Write(existing.Result)
		return
	}

	var req struct {
		OrganizerID      uuid.UUID `json:"organizer_id"`
		Amount           int64     `json:"amount"`
		PayoutAccountRef string    `json:"payout_account_ref"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST")
		return
	}

	d, err := h.disbursements.Request(r.Context(), req.OrganizerID, req.Amount, req.PayoutAccountRef)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	data, _ := json.Marshal(disbursementView(*d))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	w.Write(data)

	h.idemp.Set(r.Context(), key, idempotency.Response{Status: http.StatusCreated, Result: data})
}

func (h *Handlers) CancelDisbursement(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	d, err := h.disbursements.Cancel(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, disbursementView(*d))
}

func (h *Handlers) RetryDisbursement(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	d, err := h.disbursements.Retry(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, disbursementView(*d))
}

func (h *Handlers) GetDisbursement(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	d, err := h.disbursements.Get(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, disbursementView(*d))
}

func (h *Handlers) GetBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	balance, err := h.ledger.CurrentBalance(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	available, err := h.ledger.AvailableBalance(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"organizer_id": id,
		"balance":      balance,
		"available":    available,
	})
}

func (h *Handlers) ListTransactions(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	filter := crdb.TransactionFilter{}
	if t := r.URL.Query().Get("type"); t != "" {
		txType := domain.TransactionType(t)
		filter.Type = &txType
	}
	txs, err := h.ledger.ListTransactions(r.Context(), id, filter)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	views := make([]map[string]any, 0, len(txs))
	for _, bt := range txs {
		views = append(views, map[string]any{
			"id":             bt.ID,
			"type":           bt.Type,
			"amount":         bt.Amount,
			"balance_before": bt.BalanceBefore,
			"balance_after":  bt.BalanceAfter,
			"reference_type": bt.ReferenceType,
			"reference_id":   bt.ReferenceID,
			"created_at":     bt.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": views})
}

func (h *Handlers) ListDisbursements(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	filter := crdb.DisbursementFilter{}
	if st := r.URL.Query().Get("status"); st != "" {
		status := domain.DisbursementStatus(st)
		filter.Status = &status
	}
	ds, err := h.disbursements.List(r.Context(), id, filter)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	views := make([]map[string]any, 0, len(ds))
	for _, d := range ds {
		views = append(views, disbursementView(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{"disbursements": views})
}

func (h *Handlers) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrganizerID           uuid.UUID `json:"organizer_id"`
		Name                  string    `json:"name"`
		Venue                 string    `json:"venue"`
		Date                  time.Time `json:"date"`
		AllowsRepeatPurchases bool      `json:"allows_repeat_purchases"`
		TicketTypes           []struct {
			Capacity     int        `json:"capacity"`
			Price        *int64     `json:"price"`
			MinQuantity  int        `json:"min_quantity"`
			MaxQuantity  int        `json:"max_quantity"`
			SaleStartsAt *time.Time `json:"sale_starts_at"`
			SaleEndsAt   *time.Time `json:"sale_ends_at"`
		} `json:"ticket_types"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST")
		return
	}

	params := catalog.EventParams{
		OrganizerID:           req.OrganizerID,
		Name:                  req.Name,
		Venue:                 req.Venue,
		Date:                  req.Date,
		AllowsRepeatPurchases: req.AllowsRepeatPurchases,
	}
	for _, tt := range req.TicketTypes {
		params.TicketTypes = append(params.TicketTypes, catalog.TicketTypeParams{
			Capacity:     tt.Capacity,
			Price:        tt.Price,
			MinQuantity:  tt.MinQuantity,
			MaxQuantity:  tt.MaxQuantity,
			SaleStartsAt: tt.SaleStartsAt,
			SaleEndsAt:   tt.SaleEndsAt,
		})
	}

	ev, types, err := h.catalog.CreateEvent(r.Context(), params)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	ids := make([]uuid.UUID, 0, len(types))
	for _, tt := range types {
		ids = append(ids, tt.ID)
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"event_id":        ev.ID,
		"ticket_type_ids": ids,
	})
}

func (h *Handlers) GetEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	doc, err := h.catalog.GetEventDoc(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"event_id":     doc.ID,
		"organizer_id": doc.OrganizerID,
		"name":         doc.Name,
		"venue":        doc.Venue,
		"date":         doc.Date,
	})
}

func (h *Handlers) TicketAvailability(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	avail, err := h.inventory.Availability(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ticket_type_id": avail.TicketTypeID,
		"capacity":       avail.Capacity,
		"sold_count":     avail.SoldCount,
		"remaining":      avail.Remaining,
	})
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}

func disbursementView(d domain.Disbursement) map[string]any {
	view := map[string]any{
		"disbursement_id":    d.ID,
		"organizer_id":       d.OrganizerID,
		"amount":             d.Amount,
		"status":             d.Status,
		"payout_account_ref": d.PayoutAccountRef,
		"requested_at":       d.RequestedAt,
	}
	if d.FailureReason != nil {
		view["failure_reason"] = *d.FailureReason
	}
	if d.ProcessedAt != nil {
		view["processed_at"] = *d.ProcessedAt
	}
	if d.CompletedAt != nil {
		view["completed_at"] = *d.CompletedAt
	}
	return view
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID")
		return uuid.UUID{}, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]any{"error": code})
}

// writeDomainError maps sentinel errors to HTTP codes. Callers only ever see
// the final aggregated code, never partial internal state.
func (h *Handlers) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND")
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "INVALID_INPUT")
	case errors.Is(err, domain.ErrQuantityOutOfRange):
		writeError(w, http.StatusBadRequest, "QUANTITY_OUT_OF_RANGE")
	case errors.Is(err, domain.ErrSaleWindowClosed):
		writeError(w, http.StatusConflict, "SALE_WINDOW_CLOSED")
	case errors.Is(err, domain.ErrSoldOut):
		// Settlement hit this after external payment cleared: downstream
		// refund workflow required, the participant's money must not vanish.
		writeError(w, http.StatusConflict, "SOLD_OUT")
	case errors.Is(err, domain.ErrAlreadyRegistered):
		writeError(w, http.StatusConflict, "ALREADY_REGISTERED")
	case errors.Is(err, domain.ErrPaymentNotPaid):
		writeError(w, http.StatusUnprocessableEntity, "PAYMENT_NOT_PAID")
	case errors.Is(err, domain.ErrInsufficientBalance):
		writeError(w, http.StatusConflict, "INSUFFICIENT_BALANCE")
	case errors.Is(err, domain.ErrInvalidStateTransition):
		writeError(w, http.StatusConflict, "INVALID_STATE_TRANSITION")
	case errors.Is(err, domain.ErrSerializationFailure):
		writeError(w, http.StatusConflict, "CONTENTION_RETRY")
	default:
		writeError(w, http.StatusInternalServerError, "INTERNAL")
	}
}
