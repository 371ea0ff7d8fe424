package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"supply_agent/internal/core"
	apperrors "supply_agent/pkg/errors"
)

func limitParam(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > 1000 {
		return def
	}
	return n
}

type tokenRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if !s.tokens.Allow(r.RemoteAddr) {
		s.writeError(w, http.StatusTooManyRequests, errors.New("too many token requests"))
		return
	}

	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}

	token, expires, err := s.tokens.Issue(req.Username, req.Password)
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, apperrors.ErrInvalidCredential)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"access_token": token,
		"token_type":   "bearer",
		"expires_at":   expires.UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleRunOnce(w http.ResponseWriter, r *http.Request) {
	job, err := s.controller.RunOnce(r.Context())
	if err != nil {
		if errors.Is(err, apperrors.ErrJobPoolSaturated) {
			s.writeError(w, http.StatusTooManyRequests, err)
			return
		}
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id": job.ID,
		"status": job.Status,
	})
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.controller.Job(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, apperrors.ErrJobNotFound) {
			s.writeError(w, http.StatusNotFound, err)
			return
		}
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.controller.Jobs(r.Context(), limitParam(r, 50))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"recent_jobs": jobs})
}

// handleFinanceSummary reports the live budget position: what the next
// cycle would have to spend and what is already committed.
func (s *Server) handleFinanceSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	since := time.Now().UTC().AddDate(0, 0, -7)
	sales, err := s.store.ListSalesSince(ctx, since)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	inventory, err := s.store.ListInventory(ctx)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	prices := make(map[string]float64, len(inventory))
	for _, inv := range inventory {
		prices[inv.SKU] = inv.UnitPrice
	}

	var revenue float64
	for _, ev := range sales {
		revenue += float64(ev.SoldQuantity) * prices[ev.SKU]
	}

	pending, err := s.store.ListOrdersByStatus(ctx, core.OrderStatusPending)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	var committed float64
	for _, o := range pending {
		committed += float64(o.Quantity) * prices[o.SKU]
	}

	budget := s.cfg.Finance.DefaultBudget + s.cfg.Finance.RevenueReinvestmentRate*revenue
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"recent_revenue_7d":         revenue,
		"default_budget":            s.cfg.Finance.DefaultBudget,
		"revenue_reinvestment_rate": s.cfg.Finance.RevenueReinvestmentRate,
		"next_cycle_budget":         budget,
		"pending_orders":            len(pending),
		"pending_order_cost":        committed,
	})
}

func (s *Server) handleListInventory(w http.ResponseWriter, r *http.Request) {
	items, err := s.store.ListInventory(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (s *Server) handleUpsertInventory(w http.ResponseWriter, r *http.Request) {
	var rec core.InventoryRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		s.writeError(w, http.StatusBadRequest, errors.New("invalid inventory record"))
		return
	}
	if rec.SKU == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("sku is required"))
		return
	}
	if err := s.store.UpsertInventory(r.Context(), &rec); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeMutation(w, http.StatusOK, "inventory updated", rec)
}

func (s *Server) handleListSales(w http.ResponseWriter, r *http.Request) {
	sales, err := s.store.ListSales(r.Context(), limitParam(r, 100))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"sales": sales})
}

func (s *Server) handleInsertSale(w http.ResponseWriter, r *http.Request) {
	var sale core.SalesEvent
	if err := json.NewDecoder(r.Body).Decode(&sale); err != nil {
		s.writeError(w, http.StatusBadRequest, errors.New("invalid sales event"))
		return
	}
	if sale.SKU == "" || sale.SoldQuantity <= 0 {
		s.writeError(w, http.StatusBadRequest, errors.New("sku and a positive sold_quantity are required"))
		return
	}
	if sale.Date.IsZero() {
		sale.Date = time.Now().UTC()
	}

	inv, err := s.store.GetInventory(r.Context(), sale.SKU)
	if err != nil {
		if errors.Is(err, apperrors.ErrSKUNotFound) {
			s.writeError(w, http.StatusNotFound, err)
			return
		}
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !inv.IsActive {
		s.writeError(w, http.StatusConflict, apperrors.ErrInactiveSKU)
		return
	}

	// the sale depletes stock atomically with the insert being recorded
	if err := s.store.AdjustQuantity(r.Context(), sale.SKU, -sale.SoldQuantity); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	id, err := s.store.InsertSale(r.Context(), &sale)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	sale.ID = id
	s.writeMutation(w, http.StatusCreated, "sale recorded", sale)
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var order core.OrderRecord
	if err := json.NewDecoder(r.Body).Decode(&order); err != nil {
		s.writeError(w, http.StatusBadRequest, errors.New("invalid order record"))
		return
	}
	if order.SKU == "" || order.Quantity <= 0 {
		s.writeError(w, http.StatusBadRequest, errors.New("sku and a positive quantity are required"))
		return
	}
	if _, err := s.store.GetInventory(r.Context(), order.SKU); err != nil {
		if errors.Is(err, apperrors.ErrSKUNotFound) {
			s.writeError(w, http.StatusNotFound, err)
			return
		}
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if order.Status == "" {
		order.Status = core.OrderStatusPending
	}

	id, err := s.store.InsertOrder(r.Context(), &order)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	order.ID = id
	s.writeMutation(w, http.StatusCreated, "order created", order)
}

func (s *Server) handleCreateAlert(w http.ResponseWriter, r *http.Request) {
	var alert core.Alert
	if err := json.NewDecoder(r.Body).Decode(&alert); err != nil {
		s.writeError(w, http.StatusBadRequest, errors.New("invalid alert"))
		return
	}
	if alert.Message == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("message is required"))
		return
	}
	if alert.Type == "" {
		alert.Type = "manual"
	}
	if alert.Priority < 1 || alert.Priority > 4 {
		alert.Priority = core.PriorityForUrgency(core.UrgencyMedium)
	}

	id, err := s.store.InsertAlert(r.Context(), &alert)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	alert.ID = id
	s.writeMutation(w, http.StatusCreated, "alert created", alert)
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	if raw := r.URL.Query().Get("status"); raw != "" {
		orders, err := s.store.ListOrdersByStatus(r.Context(), core.OrderStatus(raw))
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"orders": orders})
		return
	}
	orders, err := s.store.ListOrders(r.Context(), limitParam(r, 100))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"orders": orders})
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := s.store.ListAlerts(r.Context(), limitParam(r, 100))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"alerts": alerts})
}

func (s *Server) handleCheckpoints(w http.ResponseWriter, r *http.Request) {
	cps, err := s.memory.History(r.Context(), limitParam(r, 20))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"checkpoints": cps})
}

func (s *Server) handleEpisodes(w http.ResponseWriter, r *http.Request) {
	eps, err := s.memory.Episodes(r.Context(), limitParam(r, 20))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"episodes": eps})
}

func (s *Server) handleFacts(w http.ResponseWriter, r *http.Request) {
	if sku := r.URL.Query().Get("sku"); sku != "" {
		facts, err := s.memory.RetrieveFacts(r.Context(), sku)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"facts": facts})
		return
	}
	facts, err := s.memory.Facts(r.Context(), limitParam(r, 50))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"facts": facts})
}

// handleStoreFact records an operator-entered semantic fact. Facts feed
// the forecast prompt context on the next cycle.
func (s *Server) handleStoreFact(w http.ResponseWriter, r *http.Request) {
	var fact core.SemanticFact
	if err := json.NewDecoder(r.Body).Decode(&fact); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if fact.Category == "" || fact.Key == "" || fact.Content == "" {
		s.writeError(w, http.StatusBadRequest,
			fmt.Errorf("category, key and content are required"))
		return
	}
	if fact.Source == "" {
		fact.Source = "operator"
	}
	if err := s.memory.StoreFact(r.Context(), &fact); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, fact)
}

func (s *Server) handleRecoveryPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := s.recovery.Plan(r.Context())
	if err != nil {
		if errors.Is(err, apperrors.ErrCheckpointNotFound) {
			s.writeError(w, http.StatusNotFound, err)
			return
		}
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, plan)
}

func (s *Server) handleRecoveryResume(w http.ResponseWriter, r *http.Request) {
	cycle, goal, err := s.recovery.Resume(r.Context())
	if err != nil {
		if errors.Is(err, apperrors.ErrCheckpointNotFound) {
			s.writeError(w, http.StatusNotFound, err)
			return
		}
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.controller.ResumeFrom(cycle)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"resumed":      true,
		"cycle_number": cycle,
		"goal":         goal,
	})
}
