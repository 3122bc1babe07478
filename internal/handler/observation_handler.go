package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/sicoprot/sicoprot-api/internal/service"
	appErrors "github.com/sicoprot/sicoprot-api/pkg/errors"
	"github.com/sicoprot/sicoprot-api/pkg/response"
)

// ObservationHandler exposes the observation lifecycle over HTTP.
type ObservationHandler struct {
	service *service.ObservationService
}

// NewObservationHandler creates a new handler.
func NewObservationHandler(svc *service.ObservationService) *ObservationHandler {
	return &ObservationHandler{service: svc}
}

// Create godoc
// @Summary Create observation
// @Description Raise an observation against a document version
// @Tags Observations
// @Accept json
// @Produce json
// @Param id path string true "Document ID"
// @Param payload body service.CreateObservationRequest true "Observation payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /documents/{id}/observations [post]
func (h *ObservationHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.CreateObservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	observation, err := h.service.Create(c.Request.Context(), c.Param("id"), req, claims.Actor())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, observation)
}

// Get godoc
// @Summary Get observation
// @Tags Observations
// @Produce json
// @Param id path string true "Observation ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /observations/{id} [get]
func (h *ObservationHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	observation, err := h.service.Get(c.Request.Context(), c.Param("id"), claims.Actor())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, observation, nil)
}

// Update godoc
// @Summary Update observation
// @Description Edit the content or anchor of an observation
// @Tags Observations
// @Accept json
// @Produce json
// @Param id path string true "Observation ID"
// @Param payload body service.UpdateObservationRequest true "Fields to update"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /observations/{id} [patch]
func (h *ObservationHandler) Update(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.UpdateObservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	observation, err := h.service.Update(c.Request.Context(), c.Param("id"), req, claims.Actor())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, observation, nil)
}

// Archive godoc
// @Summary Archive observation
// @Description Hide an observation from active listings. Idempotent.
// @Tags Observations
// @Produce json
// @Param id path string true "Observation ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /observations/{id}/archive [post]
func (h *ObservationHandler) Archive(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	observation, err := h.service.Archive(c.Request.Context(), c.Param("id"), claims.Actor())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, observation, nil)
}

// OpenReview godoc
// @Summary Open review of a corrected observation
// @Tags Observations
// @Produce json
// @Param id path string true "Observation ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /observations/{id}/review [post]
func (h *ObservationHandler) OpenReview(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	observation, err := h.service.OpenReview(c.Request.Context(), c.Param("id"), claims.Actor())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, observation, nil)
}

// Verify godoc
// @Summary Verify a corrected observation
// @Description Approve or reject the active correction
// @Tags Observations
// @Accept json
// @Produce json
// @Param id path string true "Observation ID"
// @Param payload body service.VerifyObservationRequest true "Verification decision"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /observations/{id}/verify [post]
func (h *ObservationHandler) Verify(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.VerifyObservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	observation, err := h.service.Verify(c.Request.Context(), c.Param("id"), req, claims.Actor())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, observation, nil)
}

// ListByDocument godoc
// @Summary List observations for a document
// @Tags Observations
// @Produce json
// @Param id path string true "Document ID"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /documents/{id}/observations [get]
func (h *ObservationHandler) ListByDocument(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	page, pageSize := paginationParams(c)
	observations, pagination, err := h.service.ListByDocument(c.Request.Context(), c.Param("id"), claims.Actor(), page, pageSize)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, observations, pagination)
}

// ListByProject godoc
// @Summary List observations for a project
// @Tags Observations
// @Produce json
// @Param id path string true "Project ID"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /projects/{id}/observations [get]
func (h *ObservationHandler) ListByProject(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	page, pageSize := paginationParams(c)
	observations, pagination, err := h.service.ListByProject(c.Request.Context(), c.Param("id"), claims.Actor(), page, pageSize)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, observations, pagination)
}

// ListMine godoc
// @Summary List the student's open observations
// @Tags Observations
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /observations/mine [get]
func (h *ObservationHandler) ListMine(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	observations, err := h.service.ListByStudent(c.Request.Context(), claims.Actor())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, observations, nil)
}

// Summary godoc
// @Summary Review summary for a project
// @Description Observation counts per review state
// @Tags Observations
// @Produce json
// @Param id path string true "Project ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /projects/{id}/review-summary [get]
func (h *ObservationHandler) Summary(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	summary, err := h.service.ProjectSummary(c.Request.Context(), c.Param("id"), claims.Actor())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, summary, nil)
}

func paginationParams(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "50"))
	return page, pageSize
}
