package api

import (
	"net/http"

	"github.com/technosupport/ts-ppe/internal/companies"
	"github.com/technosupport/ts-ppe/internal/middleware"
)

type CompanyHandler struct {
	Companies *companies.Service
}

// GET /api/company/{cid}/stats
func (h *CompanyHandler) Stats(w http.ResponseWriter, r *http.Request) {
	dash, err := h.Companies.Dashboard(r.Context(), r.PathValue("cid"))
	if err != nil {
		translateError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, dash)
}

// GET /api/company/{cid}/ppe-config
func (h *CompanyHandler) GetPPEConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.Companies.GetPPEConfig(r.Context(), r.PathValue("cid"))
	if err != nil {
		translateError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, cfg)
}

// PUT /api/company/{cid}/ppe-config
func (h *CompanyHandler) UpdatePPEConfig(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req struct {
		RequiredPPE []string `json:"required_ppe"`
		OptionalPPE []string `json:"optional_ppe"`
	}
	if err := readJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	cfg := companies.PPEConfig{Required: req.RequiredPPE, Optional: req.OptionalPPE}
	if err := h.Companies.UpdatePPEConfig(r.Context(), r.PathValue("cid"), p.UserID, cfg); err != nil {
		translateError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, cfg)
}

// GET /api/company/{cid}/subscription
func (h *CompanyHandler) Subscription(w http.ResponseWriter, r *http.Request) {
	sub, err := h.Companies.Subscription(r.Context(), r.PathValue("cid"))
	if err != nil {
		translateError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sub)
}

// DELETE /api/company/{cid}/account
func (h *CompanyHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	if err := h.Companies.DeleteAccount(r.Context(), r.PathValue("cid"), p.UserID); err != nil {
		translateError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "account deleted"})
}
