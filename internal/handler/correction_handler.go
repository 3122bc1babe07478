package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sicoprot/sicoprot-api/internal/service"
	appErrors "github.com/sicoprot/sicoprot-api/pkg/errors"
	"github.com/sicoprot/sicoprot-api/pkg/response"
)

// CorrectionHandler exposes the correction lifecycle over HTTP.
type CorrectionHandler struct {
	service *service.CorrectionService
}

// NewCorrectionHandler creates a new handler.
func NewCorrectionHandler(svc *service.CorrectionService) *CorrectionHandler {
	return &CorrectionHandler{service: svc}
}

// Create godoc
// @Summary Submit correction
// @Description Submit a correction for a pending observation
// @Tags Corrections
// @Accept json
// @Produce json
// @Param id path string true "Observation ID"
// @Param payload body service.CreateCorrectionRequest true "Correction payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /observations/{id}/corrections [post]
func (h *CorrectionHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.CreateCorrectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	correction, err := h.service.Create(c.Request.Context(), c.Param("id"), req, claims.Actor())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, correction)
}

// Get godoc
// @Summary Get correction
// @Tags Corrections
// @Produce json
// @Param id path string true "Correction ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /corrections/{id} [get]
func (h *CorrectionHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	correction, err := h.service.Get(c.Request.Context(), c.Param("id"), claims.Actor())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, correction, nil)
}

// Update godoc
// @Summary Update correction
// @Description Edit the description or anchor of the active correction
// @Tags Corrections
// @Accept json
// @Produce json
// @Param id path string true "Correction ID"
// @Param payload body service.UpdateCorrectionRequest true "Fields to update"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /corrections/{id} [patch]
func (h *CorrectionHandler) Update(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.UpdateCorrectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	correction, err := h.service.Update(c.Request.Context(), c.Param("id"), req, claims.Actor())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, correction, nil)
}

// Delete godoc
// @Summary Withdraw correction
// @Description Withdraw the active correction, returning the observation to pending
// @Tags Corrections
// @Produce json
// @Param id path string true "Correction ID"
// @Success 204 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /corrections/{id} [delete]
func (h *CorrectionHandler) Delete(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if err := h.service.Delete(c.Request.Context(), c.Param("id"), claims.Actor()); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

// ListByObservation godoc
// @Summary List corrections for an observation
// @Description Full correction history, superseded entries included
// @Tags Corrections
// @Produce json
// @Param id path string true "Observation ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /observations/{id}/corrections [get]
func (h *CorrectionHandler) ListByObservation(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	corrections, err := h.service.ListByObservation(c.Request.Context(), c.Param("id"), claims.Actor())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, corrections, nil)
}
