package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"tradegate/internal/domain"
	"tradegate/internal/store"
)

// ---------------------------------------------------------------------------
// Orders
// ---------------------------------------------------------------------------

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	sub, err := req.toEngine()
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	o, err := s.engine.Submit(r.Context(), sub)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, orderView(o))
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.engine.Order(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, orderView(o))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	o, err := s.engine.Cancel(r.Context(), r.PathValue("id"), r.URL.Query().Get("reason"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, orderView(o))
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	o, err := s.engine.Accept(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, orderView(o))
}

func (s *Server) handleFill(w http.ResponseWriter, r *http.Request) {
	var req FillRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := s.engine.RecordFill(r.Context(), r.PathValue("id"), req.toEngine())
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	writeJSONStatus(w, status, FillView{
		Execution: res.Execution,
		Order:     orderView(&res.Order),
		Position:  res.Position,
		Duplicate: res.Duplicate,
	})
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	var req ReconcileRequest
	if !decodeBody(w, r, &req) {
		return
	}
	o, err := s.engine.ResolveReconciliation(r.Context(), r.PathValue("id"), domain.Status(req.Status), req.Note)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, orderView(o))
}

func (s *Server) handleExecutions(w http.ResponseWriter, r *http.Request) {
	execs, err := s.engine.Executions(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if execs == nil {
		execs = []domain.Execution{}
	}
	writeJSON(w, execs)
}

// ---------------------------------------------------------------------------
// Accounts
// ---------------------------------------------------------------------------

func (s *Server) handlePutAccount(w http.ResponseWriter, r *http.Request) {
	var req AccountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id := r.PathValue("id")
	var saved *domain.Account
	err := s.store.Atomic(r.Context(), func(tx store.Store) error {
		acct, err := tx.GetAccount(r.Context(), id)
		if errors.Is(err, domain.ErrNotFound) {
			acct = &domain.Account{ID: id}
		} else if err != nil {
			return err
		}
		req.apply(acct)
		acct.UpdatedAt = s.now().UTC()
		saved = acct
		return tx.SaveAccount(r.Context(), acct)
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, accountView(saved))
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := s.engine.Account(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, accountView(acct))
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.engine.Positions(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, positions)
}

func (s *Server) handleAccountOrders(w http.ResponseWriter, r *http.Request) {
	since, err := sinceParam(r, time.Time{})
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid since: "+err.Error())
		return
	}
	orders, err := s.engine.OrdersByAccount(r.Context(), r.PathValue("id"), since)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, orderViews(orders))
}

// handleArchivedExecutions reads archived fills in [start, end]; both
// default to the last 30 days.
func (s *Server) handleArchivedExecutions(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeError(w, http.StatusServiceUnavailable, "execution archive not configured")
		return
	}
	q := r.URL.Query()
	end := s.now().UTC()
	start := end.AddDate(0, 0, -30)
	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"start", &start}, {"end", &end}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid "+p.name+": "+err.Error())
			return
		}
		*p.dst = t
	}
	if end.Before(start) {
		writeError(w, http.StatusBadRequest, "end is before start")
		return
	}
	execs, err := s.archive.ReadExecutions(r.Context(), r.PathValue("id"), start, end)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if execs == nil {
		execs = []domain.Execution{}
	}
	writeJSON(w, execs)
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	alert, err := s.surv.Scan(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if alert == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSONStatus(w, http.StatusCreated, alert)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := s.store.AlertsByAccount(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if alerts == nil {
		alerts = []domain.Alert{}
	}
	writeJSON(w, alerts)
}

// ---------------------------------------------------------------------------
// Reference data
// ---------------------------------------------------------------------------

func (s *Server) handlePutSecurity(w http.ResponseWriter, r *http.Request) {
	var req SecurityRequest
	if !decodeBody(w, r, &req) {
		return
	}
	symbol := strings.ToUpper(r.PathValue("symbol"))
	var saved *domain.Security
	err := s.store.Atomic(r.Context(), func(tx store.Store) error {
		sec, err := tx.GetSecurityBySymbol(r.Context(), symbol)
		if errors.Is(err, domain.ErrNotFound) {
			sec = &domain.Security{ID: uuid.NewString(), Symbol: symbol}
		} else if err != nil {
			return err
		}
		sec.Type = domain.SecurityType(req.Type)
		sec.Restricted = req.Restricted
		sec.Halted = req.Halted
		sec.HardToBorrow = req.HardToBorrow
		sec.RegSHOThreshold = req.RegSHOThreshold
		sec.SSRActive = req.SSRActive
		sec.OutstandingShares = req.OutstandingShares
		sec.Multiplier = req.Multiplier
		sec.UnderlyingSymbol = req.UnderlyingSymbol
		sec.InitialMarginRate = req.InitialMarginRate
		sec.UpdatedAt = s.now().UTC()
		saved = sec
		return tx.SaveSecurity(r.Context(), sec)
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, saved)
}

func (s *Server) handleRestriction(w http.ResponseWriter, r *http.Request) {
	var req RestrictionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	sec, err := s.security(r)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	rs := &domain.Restriction{
		SecurityID:    sec.ID,
		AccountID:     req.AccountID,
		Reason:        req.Reason,
		HoldingMonths: req.HoldingMonths,
		AcquiredAt:    req.AcquiredAt,
		CreatedAt:     s.now().UTC(),
	}
	if err := s.store.AddRestriction(r.Context(), rs); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, rs)
}

func (s *Server) handleHalt(w http.ResponseWriter, r *http.Request) {
	var req HaltRequest
	if !decodeBody(w, r, &req) {
		return
	}
	sec, err := s.security(r)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	h := &domain.Halt{SecurityID: sec.ID, Reason: req.Reason, Start: req.Start, End: req.End}
	if h.Start.IsZero() {
		h.Start = s.now().UTC()
	}
	if !h.End.IsZero() && !h.End.After(h.Start) {
		writeError(w, http.StatusBadRequest, "halt end must be after start")
		return
	}
	if err := s.store.AddHalt(r.Context(), h); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, h)
}

func (s *Server) security(r *http.Request) (*domain.Security, error) {
	sec, err := s.store.GetSecurityBySymbol(r.Context(), strings.ToUpper(r.PathValue("symbol")))
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrSecurityNotFound
	}
	return sec, err
}

// ---------------------------------------------------------------------------
// Operations
// ---------------------------------------------------------------------------

func (s *Server) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	since, err := sinceParam(r, s.now().Add(-24*time.Hour))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid since: "+err.Error())
		return
	}
	anomalies, err := s.store.AnomaliesSince(r.Context(), since)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if anomalies == nil {
		anomalies = []domain.Anomaly{}
	}
	writeJSON(w, anomalies)
}

func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	evts := s.events.Recent(limitParam(r, 100))
	if evts == nil {
		evts = []domain.Event{}
	}
	writeJSON(w, evts)
}
