package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/aifolio/invest-bot/internal/config"
	"github.com/aifolio/invest-bot/internal/logger"
	"github.com/aifolio/invest-bot/internal/model"
	"github.com/aifolio/invest-bot/internal/portfolio"
	"github.com/aifolio/invest-bot/internal/scheduler"
	"github.com/aifolio/invest-bot/internal/settings"
	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

type Log interface {
	ReadTransactions(ctx context.Context, limit int) ([]model.Transaction, error)
	ReadHistory(ctx context.Context) ([]model.ValuationPoint, error)
}

// Handler is the thin consumer-facing boundary: reads over the current
// state and the four commands (trigger, settings, deposit, reset). All
// business rules live below it.
type Handler struct {
	logger logger.Logger

	depositAmount float64
	portfolio     *portfolio.Portfolio
	scheduler     *scheduler.Scheduler
	settings      *settings.Registry
	ledger        Log
}

func NewHandler(
	cfg config.Config,
	p *portfolio.Portfolio,
	s *scheduler.Scheduler,
	registry *settings.Registry,
	ledger Log,
	logger logger.Logger,
) *Handler {
	return &Handler{
		logger:        logger,
		depositAmount: cfg.DepositAmount,
		portfolio:     p,
		scheduler:     s,
		settings:      registry,
		ledger:        ledger,
	}
}

func (h *Handler) Router(origins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", h.getStatus)
		r.Get("/history", h.getHistory)
		r.Get("/transactions", h.getTransactions)
		r.Get("/settings", h.getSettings)
		r.Post("/settings", h.updateSettings)
		r.Post("/run", h.runCycle)
		r.Post("/deposit", h.deposit)
		r.Post("/reset", h.reset)
	})

	return r
}

type positionResponse struct {
	Asset    string  `json:"asset"`
	Quantity float64 `json:"quantity"`
	AvgPrice float64 `json:"avg_price"`
	Value    float64 `json:"value"`
}

type statusResponse struct {
	Balance        float64            `json:"balance"`
	Invested       float64            `json:"invested"`
	TotalValue     float64            `json:"total_value"`
	TotalDeposited float64            `json:"total_deposited"`
	PerformancePct float64            `json:"performance_pct"`
	Running        bool               `json:"running"`
	Positions      []positionResponse `json:"positions"`
}

// getStatus values positions at cost basis; the market-priced series
// lives in /api/history.
func (h *Handler) getStatus(w http.ResponseWriter, r *http.Request) {
	view := h.portfolio.View()
	invested := view.InvestedValue()
	total := view.Balance + invested
	deposits := h.portfolio.TotalDeposits()

	positions := make([]positionResponse, 0, len(view.Holdings))
	for _, pos := range view.Holdings {
		positions = append(positions, positionResponse{
			Asset:    pos.Asset,
			Quantity: pos.Quantity,
			AvgPrice: pos.AvgPrice,
			Value:    pos.CostValue(),
		})
	}

	h.writeJSON(w, http.StatusOK, statusResponse{
		Balance:        view.Balance,
		Invested:       invested,
		TotalValue:     total,
		TotalDeposited: deposits,
		PerformancePct: portfolio.PerformancePct(total, deposits),
		Running:        h.scheduler.Running(),
		Positions:      positions,
	})
}

func (h *Handler) getHistory(w http.ResponseWriter, r *http.Request) {
	points, err := h.ledger.ReadHistory(r.Context())
	if err != nil {
		h.writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	h.writeJSON(w, http.StatusOK, points)
}

func (h *Handler) getTransactions(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	txs, err := h.ledger.ReadTransactions(r.Context(), limit)
	if err != nil {
		h.writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	h.writeJSON(w, http.StatusOK, txs)
}

func (h *Handler) getSettings(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.settings.Get())
}

func (h *Handler) updateSettings(w http.ResponseWriter, r *http.Request) {
	var patch model.SettingsPatch
	if err := sonic.ConfigDefault.NewDecoder(r.Body).Decode(&patch); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.settings.Update(patch))
}

func (h *Handler) runCycle(w http.ResponseWriter, r *http.Request) {
	if h.scheduler.TriggerCycle() {
		h.writeJSON(w, http.StatusAccepted, map[string]string{"status": "analysis started"})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "cycle already running"})
}

type depositRequest struct {
	Amount float64 `json:"amount"`
}

func (h *Handler) deposit(w http.ResponseWriter, r *http.Request) {
	req := depositRequest{Amount: h.depositAmount}
	if r.ContentLength > 0 {
		if err := sonic.ConfigDefault.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	balance, err := h.portfolio.Deposit(r.Context(), req.Amount)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]float64{"new_balance": balance})
}

type resetRequest struct {
	Confirm bool `json:"confirm"`
}

// reset is destructive and demands explicit confirmation in the body.
func (h *Handler) reset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if r.ContentLength > 0 {
		if err := sonic.ConfigDefault.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	if !req.Confirm {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "reset requires confirm=true"})
		return
	}

	if err := h.scheduler.Reset(r.Context()); err != nil {
		h.writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	h.logger.Infof("system reset: ledger wiped and reseeded")
	h.writeJSON(w, http.StatusOK, map[string]float64{"balance": h.portfolio.Balance()})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := sonic.Marshal(v)
	if err != nil {
		h.logger.Errorf("%s: can't marshal response", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		h.logger.Errorf("%s: can't write response", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.logger.Errorf("%s: request failed", err)
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}
