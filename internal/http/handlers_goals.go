package http

import (
	"net/http"
	"strings"

	"savtogether/internal/core"
)

type goalResponse struct {
	Goal *core.Goal `json:"goal"`
}

type goalsResponse struct {
	Goals []core.Goal `json:"goals"`
}

type transactionsResponse struct {
	Transactions []core.Transaction `json:"transactions"`
}

type contributionResponse struct {
	Goal         core.Goal          `json:"goal"`
	Transactions []core.Transaction `json:"transactions"`
}

type statusRequest struct {
	Status core.GoalStatus `json:"status"`
}

type openGoalRequest struct {
	GoalID string `json:"goalId"`
}

type activityResponse struct {
	Days []core.DayActivity `json:"days"`
}

func (s *Server) handleListGoals(w http.ResponseWriter, r *http.Request) {
	goals, err := s.facade.ListGoals(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, goalsResponse{Goals: nonNil(goals)})
}

func (s *Server) handleCreateGoal(w http.ResponseWriter, r *http.Request) {
	var in core.GoalInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	in.Name = sanitizeInput(in.Name)
	in.Deadline = strings.TrimSpace(in.Deadline)

	g, err := s.facade.CreateGoal(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, goalResponse{Goal: &g})
}

func (s *Server) handleGetGoal(w http.ResponseWriter, r *http.Request) {
	g, err := s.facade.GetGoal(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, goalResponse{Goal: &g})
}

// handleActiveGoal returns {"goal": null} when no goal is active.
func (s *Server) handleActiveGoal(w http.ResponseWriter, r *http.Request) {
	g, err := s.facade.ActiveGoal(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, goalResponse{Goal: g})
}

func (s *Server) handleSetGoalStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	g, err := s.facade.SetGoalStatus(r.Context(), r.PathValue("id"), req.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, goalResponse{Goal: &g})
}

func (s *Server) handleContribute(w http.ResponseWriter, r *http.Request) {
	g, txns, err := s.facade.Contribute(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, contributionResponse{Goal: g, Transactions: txns})
}

func (s *Server) handleGoalTransactions(w http.ResponseWriter, r *http.Request) {
	txns, err := s.facade.ListTransactions(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transactionsResponse{Transactions: nonNil(txns)})
}

func (s *Server) handleAllTransactions(w http.ResponseWriter, r *http.Request) {
	typ, err := ParseTransactionType(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	txns, err := s.facade.ListAllTransactions(r.Context(), typ)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transactionsResponse{Transactions: nonNil(txns)})
}

// handleActivity serves the activity feed: all transactions grouped by day,
// newest day first.
func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	typ, err := ParseTransactionType(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	txns, err := s.facade.ListAllTransactions(r.Context(), typ)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, activityResponse{Days: nonNil(core.GroupByDay(txns, s.location))})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.facade.Summary(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleOpenGoal(w http.ResponseWriter, r *http.Request) {
	var req openGoalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.GoalID) == "" {
		writeError(w, r, core.NewValidationError("goalId", "must not be empty"))
		return
	}
	txns, err := s.facade.OpenGoal(r.Context(), req.GoalID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transactionsResponse{Transactions: nonNil(txns)})
}

func (s *Server) handleCloseGoal(w http.ResponseWriter, r *http.Request) {
	if err := s.facade.CloseGoal(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// nonNil keeps empty collections encoded as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
