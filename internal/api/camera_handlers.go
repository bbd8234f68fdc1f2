package api

import (
	"net/http"

	"github.com/technosupport/ts-ppe/internal/cameras"
	"github.com/technosupport/ts-ppe/internal/middleware"
	"github.com/technosupport/ts-ppe/internal/probe"
)

type CameraHandler struct {
	Cameras *cameras.Service
}

// GET /api/company/{cid}/cameras
func (h *CameraHandler) List(w http.ResponseWriter, r *http.Request) {
	res, err := h.Cameras.List(r.Context(), r.PathValue("cid"))
	if err != nil {
		translateError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// POST /api/company/{cid}/cameras
func (h *CameraHandler) Create(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var in cameras.Input
	if err := readJSON(w, r, &in); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	cam, err := h.Cameras.Add(r.Context(), r.PathValue("cid"), p.UserID, in)
	if err != nil {
		translateError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"camera_id": cam.ID})
}

// PUT /api/company/{cid}/cameras/{camid}
func (h *CameraHandler) Update(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var in cameras.UpdateInput
	if err := readJSON(w, r, &in); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	cam, err := h.Cameras.Update(r.Context(), r.PathValue("cid"), p.UserID, r.PathValue("camid"), in)
	if err != nil {
		translateError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"camera_id": cam.ID, "status": cam.Status})
}

// DELETE /api/company/{cid}/cameras/{camid}
func (h *CameraHandler) Delete(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	if err := h.Cameras.Delete(r.Context(), r.PathValue("cid"), p.UserID, r.PathValue("camid")); err != nil {
		translateError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// POST /api/company/{cid}/cameras/test
func (h *CameraHandler) Test(w http.ResponseWriter, r *http.Request) {
	var src probe.Source
	if err := readJSON(w, r, &src); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.Cameras.TestConnection(r.Context(), r.PathValue("cid"), src)
	if err != nil {
		translateError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}
