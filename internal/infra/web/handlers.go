package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Xybronix/ecomobile/internal/domain"
	"github.com/Xybronix/ecomobile/internal/domain/model"
	"github.com/Xybronix/ecomobile/internal/usecase"
)

// ===== auth =====

func (s *Server) loginHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if s.adminPassword == "" || req.Password != s.adminPassword {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if _, err := s.auth.Mint(w); err != nil {
		http.Error(w, "Failed to create session", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) logoutHandler(w http.ResponseWriter, _ *http.Request) {
	s.auth.Clear(w)
	w.WriteHeader(http.StatusNoContent)
}

// ===== rules =====

type ruleWriteRequest struct {
	Name                        *string           `json:"name"`
	Description                 *string           `json:"description"`
	NumberOfDays                *int              `json:"number_of_days"`
	Target                      *model.TargetType `json:"target"`
	TargetDaysSinceRegistration *int              `json:"target_days_since_registration"`
	TargetMinSpendIRR           *int64            `json:"target_min_spend_irr"`
	StartHour                   *int              `json:"start_hour"`
	EndHour                     *int              `json:"end_hour"`
	ClearWindow                 bool              `json:"clear_window"`
	ValidFrom                   *time.Time        `json:"valid_from"`
	ValidUntil                  *time.Time        `json:"valid_until"`
	ClearValidity               bool              `json:"clear_validity"`
	MaxBeneficiaries            *int              `json:"max_beneficiaries"`
	ClearMax                    bool              `json:"clear_max"`
	IsActive                    *bool             `json:"is_active"`
}

func (s *Server) rulesCreateHandler(w http.ResponseWriter, r *http.Request) {
	var req ruleWriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	in := usecase.CreateRuleInput{
		StartHour:        req.StartHour,
		EndHour:          req.EndHour,
		ValidFrom:        req.ValidFrom,
		ValidUntil:       req.ValidUntil,
		MaxBeneficiaries: req.MaxBeneficiaries,
	}
	if req.Name != nil {
		in.Name = *req.Name
	}
	if req.Description != nil {
		in.Description = *req.Description
	}
	if req.NumberOfDays != nil {
		in.NumberOfDays = *req.NumberOfDays
	}
	if req.Target != nil {
		in.Target = *req.Target
	}
	if req.TargetDaysSinceRegistration != nil {
		in.TargetDaysSinceRegistration = *req.TargetDaysSinceRegistration
	}
	if req.TargetMinSpendIRR != nil {
		in.TargetMinSpendIRR = *req.TargetMinSpendIRR
	}

	rule, err := s.ruleUC.Create(r.Context(), "admin", in)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func (s *Server) rulesListHandler(w http.ResponseWriter, r *http.Request) {
	includeInactive := r.URL.Query().Get("include_inactive") == "true"
	rules, err := s.ruleUC.List(r.Context(), includeInactive)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Data []*model.EntitlementRule `json:"data"`
	}{Data: rules})
}

func (s *Server) rulesGetHandler(w http.ResponseWriter, r *http.Request) {
	rule, roster, err := s.ruleUC.Get(r.Context(), chi.URLParam(r, "ruleID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Rule          *model.EntitlementRule `json:"rule"`
		Beneficiaries []*model.RosterEntry   `json:"beneficiaries"`
	}{Rule: rule, Beneficiaries: roster})
}

func (s *Server) rulesUpdateHandler(w http.ResponseWriter, r *http.Request) {
	var req ruleWriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	patch := usecase.UpdateRuleInput{
		Name:                        req.Name,
		Description:                 req.Description,
		NumberOfDays:                req.NumberOfDays,
		Target:                      req.Target,
		TargetDaysSinceRegistration: req.TargetDaysSinceRegistration,
		TargetMinSpendIRR:           req.TargetMinSpendIRR,
		StartHour:                   req.StartHour,
		EndHour:                     req.EndHour,
		ClearWindow:                 req.ClearWindow,
		ValidFrom:                   req.ValidFrom,
		ValidUntil:                  req.ValidUntil,
		ClearValidity:               req.ClearValidity,
		MaxBeneficiaries:            req.MaxBeneficiaries,
		ClearMax:                    req.ClearMax,
		IsActive:                    req.IsActive,
	}
	rule, err := s.ruleUC.Update(r.Context(), "admin", chi.URLParam(r, "ruleID"), patch)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) rulesDeleteHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.ruleUC.Delete(r.Context(), "admin", chi.URLParam(r, "ruleID")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ===== roster management =====

func (s *Server) beneficiaryAddHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	b, err := s.grantUC.AddBeneficiary(r.Context(), "admin", chi.URLParam(r, "ruleID"), req.UserID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) beneficiaryRemoveHandler(w http.ResponseWriter, r *http.Request) {
	err := s.grantUC.RemoveBeneficiary(r.Context(), "admin",
		chi.URLParam(r, "ruleID"), chi.URLParam(r, "userID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ===== collaborator hooks =====

func (s *Server) signupHookHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	granted, err := s.grantUC.GrantSignupRules(r.Context(), req.UserID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Granted int `json:"granted"`
	}{Granted: granted})
}

func (s *Server) rideSettleHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID        string    `json:"user_id"`
		RideStart     time.Time `json:"ride_start"`
		RideEnd       time.Time `json:"ride_end"`
		HourlyRateIRR int64     `json:"hourly_rate_irr"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if !req.RideEnd.After(req.RideStart) {
		http.Error(w, "ride_end must be after ride_start", http.StatusBadRequest)
		return
	}
	res, err := s.ledgerUC.ApplyFreeDay(r.Context(), req.UserID, req.RideStart, req.RideEnd, req.HourlyRateIRR)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Applied      bool   `json:"applied"`
		OvertimeCost int64  `json:"overtime_cost_irr"`
		RuleName     string `json:"rule_name"`
	}{Applied: res.Applied, OvertimeCost: res.OvertimeCost, RuleName: res.RuleName})
}

func (s *Server) userFreeDaysHandler(w http.ResponseWriter, r *http.Request) {
	days, err := s.ledgerUC.ListUserFreeDays(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Data []*model.UserFreeDay `json:"data"`
	}{Data: days})
}

func (s *Server) activateHandler(w http.ResponseWriter, r *http.Request) {
	b, err := s.ledgerUC.Activate(r.Context(),
		chi.URLParam(r, "beneficiaryID"), chi.URLParam(r, "userID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// ===== helpers =====

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrAlreadyExists), errors.Is(err, domain.ErrAlreadyActive):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, domain.ErrCapacityExceeded):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		s.log.Error().Err(err).Msg("request failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
