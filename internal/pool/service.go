package pool

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/stakewell/pool-engine/internal/accumulator"
	"github.com/stakewell/pool-engine/internal/authz"
	"github.com/stakewell/pool-engine/internal/metrics"
	"github.com/stakewell/pool-engine/internal/model"
	"github.com/stakewell/pool-engine/internal/store"
)

const defaultEventLimit = 100

// Service exposes the ledger over HTTP and journals every state change.
type Service struct {
	ledger *Ledger
	store  store.Store
	authz  *authz.Registry
	wsHub  *WSHub // optional WebSocket hub for real-time broadcasts
}

// NewService creates a new pool service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(l *Ledger, st store.Store, reg *authz.Registry, hub *WSHub) *Service {
	return &Service{ledger: l, store: st, authz: reg, wsHub: hub}
}

// Routes mounts the service's handlers on a chi router.
func (s *Service) Routes(r chi.Router) {
	r.Get("/pool", s.GetPool)
	r.Post("/deposits", s.CreateDeposit)
	r.Post("/withdrawals", s.CreateWithdrawal)
	r.Post("/liquidations", s.CreateLiquidation)
	r.Get("/depositors/{depositorID}", s.GetDepositor)
	r.Get("/depositors/{depositorID}/events", s.GetDepositorEvents)
	r.Get("/events", s.GetEvents)
	if s.wsHub != nil {
		r.Get("/ws", s.wsHub.HandleWS)
	}
}

// --- Request/Response types ---

// DepositRequest is the JSON body for POST /deposits.
type DepositRequest struct {
	DepositorID string `json:"depositor_id"`
	Amount      string `json:"amount"` // decimal string, base units
}

// WithdrawRequest is the JSON body for POST /withdrawals.
type WithdrawRequest struct {
	DepositorID string `json:"depositor_id"`
	Amount      string `json:"amount"`
}

// LiquidationRequest is the JSON body for POST /liquidations.
type LiquidationRequest struct {
	CallerID     string `json:"caller_id"`
	DebtToOffset string `json:"debt_to_offset"`
	RewardToAdd  string `json:"reward_to_add"`
}

// DepositResponse is returned from POST /deposits.
type DepositResponse struct {
	DepositorID string `json:"depositor_id"`
	Amount      string `json:"amount"`
	RewardPaid  string `json:"reward_paid"`
	Loss        string `json:"loss"`
	Principal   string `json:"principal"`
	TotalPooled string `json:"total_pooled"`
	Epoch       uint64 `json:"epoch"`
	Scale       uint64 `json:"scale"`
}

// WithdrawResponse is returned from POST /withdrawals.
type WithdrawResponse struct {
	DepositorID string `json:"depositor_id"`
	Payout      string `json:"payout"`
	RewardPaid  string `json:"reward_paid"`
	Loss        string `json:"loss"`
	Principal   string `json:"principal"`
	Closed      bool   `json:"closed"`
	TotalPooled string `json:"total_pooled"`
	Epoch       uint64 `json:"epoch"`
	Scale       uint64 `json:"scale"`
}

// LiquidationResponse is returned from POST /liquidations.
type LiquidationResponse struct {
	Applied       bool   `json:"applied"`
	DebtOffset    string `json:"debt_offset"`
	RewardAdded   string `json:"reward_added"`
	LossPerUnit   string `json:"loss_per_unit,omitempty"`
	RewardPerUnit string `json:"reward_per_unit,omitempty"`
	EpochAdvanced bool   `json:"epoch_advanced"`
	ScaleAdvanced bool   `json:"scale_advanced"`
	TotalPooled   string `json:"total_pooled"`
	Epoch         uint64 `json:"epoch"`
	Scale         uint64 `json:"scale"`
}

// PoolResponse is returned from GET /pool.
type PoolResponse struct {
	TotalPooled string `json:"total_pooled"`
	P           string `json:"p"`
	Retention   string `json:"retention"` // P as a decimal fraction, display only
	Epoch       uint64 `json:"epoch"`
	Scale       uint64 `json:"scale"`
	Depositors  int    `json:"depositors"`
}

// DepositorResponse is returned from GET /depositors/{depositorID}.
type DepositorResponse struct {
	DepositorID string    `json:"depositor_id"`
	Principal   string    `json:"principal"`
	Compounded  string    `json:"compounded"`
	RewardGain  string    `json:"reward_gain"`
	PoolShare   string    `json:"pool_share_pct"` // display only
	Epoch       uint64    `json:"epoch"`
	Scale       uint64    `json:"scale"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// --- HTTP Handlers ---

// GetPool handles GET /api/v1/pool
func (s *Service) GetPool(w http.ResponseWriter, r *http.Request) {
	stats := s.ledger.Stats()

	// Retention is P rendered as a fraction of one, purely for operators.
	retention := decimal.NewFromBigInt(stats.P.ToBig(), -18)

	writeJSON(w, http.StatusOK, PoolResponse{
		TotalPooled: stats.TotalPooled.Dec(),
		P:           stats.P.Dec(),
		Retention:   retention.String(),
		Epoch:       stats.Epoch,
		Scale:       stats.Scale,
		Depositors:  stats.Depositors,
	})
}

// CreateDeposit handles POST /api/v1/deposits
func (s *Service) CreateDeposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.DepositorID == "" {
		writeError(w, "depositor_id is required", http.StatusBadRequest)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	res, err := s.ledger.Deposit(ctx, req.DepositorID, amount)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	metrics.DepositsTotal.Inc()
	s.updateGauges()
	s.persistSnapshot(ctx, res.Snapshot)

	ev := s.newEvent(model.EventDeposit, res.DepositorID, res.TotalPooled, res.Epoch, res.Scale)
	ev.Amount = res.Amount.Dec()
	ev.Reward = res.RewardPaid.Dec()
	ev.Loss = res.Loss.Dec()
	s.journal(ctx, ev)
	if !res.RewardPaid.IsZero() {
		s.journalRewardPaid(ctx, res.DepositorID, res.RewardPaid, res.TotalPooled, res.Epoch, res.Scale)
	}

	log.Info().
		Str("depositor", res.DepositorID).
		Str("amount", res.Amount.Dec()).
		Str("reward_paid", res.RewardPaid.Dec()).
		Str("principal", res.Principal.Dec()).
		Str("total_pooled", res.TotalPooled.Dec()).
		Msg("deposit made")

	writeJSON(w, http.StatusCreated, DepositResponse{
		DepositorID: res.DepositorID,
		Amount:      res.Amount.Dec(),
		RewardPaid:  res.RewardPaid.Dec(),
		Loss:        res.Loss.Dec(),
		Principal:   res.Principal.Dec(),
		TotalPooled: res.TotalPooled.Dec(),
		Epoch:       res.Epoch,
		Scale:       res.Scale,
	})
}

// CreateWithdrawal handles POST /api/v1/withdrawals
func (s *Service) CreateWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.DepositorID == "" {
		writeError(w, "depositor_id is required", http.StatusBadRequest)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	res, err := s.ledger.Withdraw(ctx, req.DepositorID, amount)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	metrics.WithdrawalsTotal.Inc()
	s.updateGauges()
	if res.Closed {
		if err := s.store.DeleteSnapshot(ctx, res.DepositorID); err != nil {
			log.Error().Err(err).Str("depositor", res.DepositorID).Msg("snapshot delete failed")
		}
		s.persistAccumulator(ctx)
	} else {
		s.persistSnapshot(ctx, res.Snapshot)
	}

	ev := s.newEvent(model.EventWithdrawal, res.DepositorID, res.TotalPooled, res.Epoch, res.Scale)
	ev.Amount = res.Payout.Dec()
	ev.Reward = res.RewardPaid.Dec()
	ev.Loss = res.Loss.Dec()
	s.journal(ctx, ev)
	if !res.RewardPaid.IsZero() {
		s.journalRewardPaid(ctx, res.DepositorID, res.RewardPaid, res.TotalPooled, res.Epoch, res.Scale)
	}

	log.Info().
		Str("depositor", res.DepositorID).
		Str("payout", res.Payout.Dec()).
		Str("reward_paid", res.RewardPaid.Dec()).
		Bool("closed", res.Closed).
		Str("total_pooled", res.TotalPooled.Dec()).
		Msg("withdrawal made")

	writeJSON(w, http.StatusOK, WithdrawResponse{
		DepositorID: res.DepositorID,
		Payout:      res.Payout.Dec(),
		RewardPaid:  res.RewardPaid.Dec(),
		Loss:        res.Loss.Dec(),
		Principal:   res.Principal.Dec(),
		Closed:      res.Closed,
		TotalPooled: res.TotalPooled.Dec(),
		Epoch:       res.Epoch,
		Scale:       res.Scale,
	})
}

// CreateLiquidation handles POST /api/v1/liquidations
// Only allowlisted callers may trigger liquidations.
func (s *Service) CreateLiquidation(w http.ResponseWriter, r *http.Request) {
	var req LiquidationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.authz.Authorize(req.CallerID); err != nil {
		writeError(w, err.Error(), http.StatusForbidden)
		return
	}
	debt, err := parseAmountOrZero(req.DebtToOffset)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	reward, err := parseAmountOrZero(req.RewardToAdd)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	res, err := s.ledger.Liquidate(ctx, debt, reward)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	metrics.LiquidationsTotal.WithLabelValues(strconv.FormatBool(res.Applied)).Inc()
	s.updateGauges()

	resp := LiquidationResponse{
		Applied:     res.Applied,
		DebtOffset:  res.DebtOffset.Dec(),
		RewardAdded: res.RewardAdded.Dec(),
		TotalPooled: res.TotalPooled.Dec(),
		Epoch:       res.Epoch,
		Scale:       res.Scale,
	}

	if res.Applied {
		resp.LossPerUnit = res.LossPerUnit.Dec()
		resp.RewardPerUnit = res.RewardPerUnit.Dec()
		resp.EpochAdvanced = res.EpochAdvanced
		resp.ScaleAdvanced = res.ScaleAdvanced

		s.persistAccumulator(ctx)

		ev := s.newEvent(model.EventLiquidation, req.CallerID, res.TotalPooled, res.Epoch, res.Scale)
		ev.Amount = res.DebtOffset.Dec()
		ev.Reward = res.RewardAdded.Dec()
		s.journal(ctx, ev)
		if res.EpochAdvanced {
			s.journal(ctx, s.newEvent(model.EventEpochAdvanced, "", res.TotalPooled, res.Epoch, res.Scale))
		}
		if res.ScaleAdvanced {
			s.journal(ctx, s.newEvent(model.EventScaleAdvanced, "", res.TotalPooled, res.Epoch, res.Scale))
		}

		log.Info().
			Str("caller", req.CallerID).
			Str("debt_offset", res.DebtOffset.Dec()).
			Str("reward_added", res.RewardAdded.Dec()).
			Bool("epoch_advanced", res.EpochAdvanced).
			Bool("scale_advanced", res.ScaleAdvanced).
			Str("total_pooled", res.TotalPooled.Dec()).
			Msg("liquidation applied")

		// Broadcast to observers.
		if s.wsHub != nil {
			s.wsHub.Broadcast(WSMessage{
				Type:          model.EventLiquidation,
				DebtOffset:    res.DebtOffset.Dec(),
				RewardAdded:   res.RewardAdded.Dec(),
				TotalPooled:   res.TotalPooled.Dec(),
				Epoch:         res.Epoch,
				Scale:         res.Scale,
				EpochAdvanced: res.EpochAdvanced,
				ScaleAdvanced: res.ScaleAdvanced,
			})
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetDepositor handles GET /api/v1/depositors/{depositorID}
func (s *Service) GetDepositor(w http.ResponseWriter, r *http.Request) {
	depositorID := chi.URLParam(r, "depositorID")

	snap := s.ledger.Snapshot(depositorID)
	if snap == nil {
		writeError(w, "depositor not found", http.StatusNotFound)
		return
	}
	compounded, err := s.ledger.CompoundedDeposit(depositorID)
	if err != nil {
		writeError(w, "failed to realize deposit", http.StatusInternalServerError)
		return
	}
	gain, err := s.ledger.RewardGain(depositorID)
	if err != nil {
		writeError(w, "failed to realize reward", http.StatusInternalServerError)
		return
	}

	share := decimal.Zero
	if total := s.ledger.TotalPooled(); !total.IsZero() {
		share = decimal.NewFromBigInt(compounded.ToBig(), 0).
			Div(decimal.NewFromBigInt(total.ToBig(), 0)).
			Mul(decimal.NewFromInt(100)).Round(4)
	}

	writeJSON(w, http.StatusOK, DepositorResponse{
		DepositorID: depositorID,
		Principal:   snap.Principal.Dec(),
		Compounded:  compounded.Dec(),
		RewardGain:  gain.Dec(),
		PoolShare:   share.String(),
		Epoch:       snap.Epoch,
		Scale:       snap.Scale,
		UpdatedAt:   snap.UpdatedAt,
	})
}

// GetDepositorEvents handles GET /api/v1/depositors/{depositorID}/events
func (s *Service) GetDepositorEvents(w http.ResponseWriter, r *http.Request) {
	depositorID := chi.URLParam(r, "depositorID")

	events, err := s.store.ListEventsByDepositor(r.Context(), depositorID, eventLimit(r))
	if err != nil {
		writeError(w, "failed to list events", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// GetEvents handles GET /api/v1/events
// Returns the latest journal entries, optionally bounded by ?limit=<n>.
func (s *Service) GetEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.store.ListEvents(r.Context(), eventLimit(r))
	if err != nil {
		writeError(w, "failed to list events", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// --- Persistence and journaling ---

// persistSnapshot saves the accumulator and one snapshot after a mutation.
// The ledger has already committed; persistence failures are logged, not
// rolled back. Startup recovery reconciles from the last good write.
func (s *Service) persistSnapshot(ctx context.Context, snap *model.Snapshot) {
	s.persistAccumulator(ctx)
	if snap == nil {
		return
	}
	if err := s.store.UpsertSnapshot(ctx, snap); err != nil {
		log.Error().Err(err).Str("depositor", snap.DepositorID).Msg("snapshot persist failed")
	}
}

func (s *Service) persistAccumulator(ctx context.Context) {
	if err := s.store.SaveAccumulator(ctx, s.ledger.AccumulatorRecord()); err != nil {
		log.Error().Err(err).Msg("accumulator persist failed")
	}
}

func (s *Service) newEvent(typ, depositorID string, total *uint256.Int, epoch, scale uint64) *model.Event {
	return &model.Event{
		ID:          uuid.New().String(),
		Type:        typ,
		DepositorID: depositorID,
		TotalPooled: total.Dec(),
		Epoch:       epoch,
		Scale:       scale,
		Timestamp:   time.Now().UTC(),
	}
}

func (s *Service) journal(ctx context.Context, ev *model.Event) {
	if err := s.store.AppendEvent(ctx, ev); err != nil {
		log.Error().Err(err).Str("type", ev.Type).Msg("event journal failed")
	}
	if s.wsHub != nil && ev.DepositorID != "" {
		s.wsHub.Broadcast(WSMessage{
			Type:        ev.Type,
			DepositorID: ev.DepositorID,
			Amount:      ev.Amount,
			Reward:      ev.Reward,
			TotalPooled: ev.TotalPooled,
			Epoch:       ev.Epoch,
			Scale:       ev.Scale,
		})
	}
}

func (s *Service) journalRewardPaid(ctx context.Context, depositorID string, reward, total *uint256.Int, epoch, scale uint64) {
	metrics.RewardsPaidTotal.Add(decimal.NewFromBigInt(reward.ToBig(), 0).InexactFloat64())
	ev := s.newEvent(model.EventRewardPaid, depositorID, total, epoch, scale)
	ev.Reward = reward.Dec()
	s.journal(ctx, ev)
}

func (s *Service) updateGauges() {
	stats := s.ledger.Stats()
	metrics.TotalPooled.Set(decimal.NewFromBigInt(stats.TotalPooled.ToBig(), 0).InexactFloat64())
	metrics.Epoch.Set(float64(stats.Epoch))
	metrics.Scale.Set(float64(stats.Scale))
	metrics.Depositors.Set(float64(stats.Depositors))
}

// --- Helpers ---

func parseAmount(v string) (*uint256.Int, error) {
	n, err := parseAmountOrZero(v)
	if err != nil {
		return nil, err
	}
	if n.IsZero() {
		return nil, ErrInvalidAmount
	}
	return n, nil
}

func parseAmountOrZero(v string) (*uint256.Int, error) {
	if v == "" {
		return uint256.NewInt(0), nil
	}
	n, err := uint256.FromDecimal(v)
	if err != nil {
		return nil, errors.New("amount must be a non-negative integer string")
	}
	return n, nil
}

func eventLimit(r *http.Request) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return defaultEventLimit
}

func writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidAmount):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrNoDeposit):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, accumulator.ErrInsufficientPooledValue):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ErrTransferFailed):
		writeError(w, err.Error(), http.StatusConflict)
	default:
		log.Error().Err(err).Msg("ledger operation failed")
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
