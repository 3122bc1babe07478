package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/sicoprot/sicoprot-api/internal/models"
	"github.com/sicoprot/sicoprot-api/internal/service"
	appErrors "github.com/sicoprot/sicoprot-api/pkg/errors"
	"github.com/sicoprot/sicoprot-api/pkg/response"
)

// ProjectHandler exposes project management over HTTP.
type ProjectHandler struct {
	service *service.ProjectService
}

// NewProjectHandler creates a new handler.
func NewProjectHandler(svc *service.ProjectService) *ProjectHandler {
	return &ProjectHandler{service: svc}
}

// Create godoc
// @Summary Create project
// @Description Bind a student and an advisor into a thesis project
// @Tags Projects
// @Accept json
// @Produce json
// @Param payload body service.CreateProjectRequest true "Project payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /projects [post]
func (h *ProjectHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	project, err := h.service.Create(c.Request.Context(), req, claims.Actor())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, project)
}

// Get godoc
// @Summary Get project
// @Tags Projects
// @Produce json
// @Param id path string true "Project ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /projects/{id} [get]
func (h *ProjectHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	project, err := h.service.Get(c.Request.Context(), c.Param("id"), claims.Actor())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, project, nil)
}

// List godoc
// @Summary List projects
// @Description Projects visible to the caller; admins see all
// @Tags Projects
// @Produce json
// @Param period_id query string false "Period ID"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /projects [get]
func (h *ProjectHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "50"))
	filter := models.ProjectFilter{
		PeriodID: c.Query("period_id"),
		Page:     page,
		PageSize: pageSize,
	}

	projects, pagination, err := h.service.List(c.Request.Context(), filter, claims.Actor())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, projects, pagination)
}

// ReassignAdvisor godoc
// @Summary Reassign project advisor
// @Tags Projects
// @Accept json
// @Produce json
// @Param id path string true "Project ID"
// @Param payload body service.ReassignAdvisorRequest true "New advisor"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /projects/{id}/advisor [put]
func (h *ProjectHandler) ReassignAdvisor(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.ReassignAdvisorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	project, err := h.service.ReassignAdvisor(c.Request.Context(), c.Param("id"), req, claims.Actor())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, project, nil)
}
