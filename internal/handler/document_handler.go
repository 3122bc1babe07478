package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sicoprot/sicoprot-api/internal/service"
	appErrors "github.com/sicoprot/sicoprot-api/pkg/errors"
	"github.com/sicoprot/sicoprot-api/pkg/response"
)

// DocumentHandler exposes the document version registry over HTTP.
type DocumentHandler struct {
	service *service.DocumentService
}

// NewDocumentHandler creates a new handler.
func NewDocumentHandler(svc *service.DocumentService) *DocumentHandler {
	return &DocumentHandler{service: svc}
}

// Upload godoc
// @Summary Upload document version
// @Description Register a new document version for a project
// @Tags Documents
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Project ID"
// @Param file formData file true "Document file"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /projects/{id}/documents [post]
func (h *DocumentHandler) Upload(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "file is required"))
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read upload"))
		return
	}
	defer file.Close() //nolint:errcheck

	document, err := h.service.RegisterUpload(
		c.Request.Context(),
		c.Param("id"),
		fileHeader.Filename,
		fileHeader.Header.Get("Content-Type"),
		fileHeader.Size,
		file,
		claims.Actor(),
	)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, document)
}

// Get godoc
// @Summary Get document metadata
// @Tags Documents
// @Produce json
// @Param id path string true "Document ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /documents/{id} [get]
func (h *DocumentHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	document, err := h.service.Get(c.Request.Context(), c.Param("id"), claims.Actor())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, document, nil)
}

// ListByProject godoc
// @Summary List document versions
// @Tags Documents
// @Produce json
// @Param id path string true "Project ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /projects/{id}/documents [get]
func (h *DocumentHandler) ListByProject(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	documents, err := h.service.ListByProject(c.Request.Context(), c.Param("id"), claims.Actor())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, documents, nil)
}
