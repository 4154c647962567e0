package handler

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/classroom-roster/internal/models"
	"github.com/noah-isme/classroom-roster/internal/service"
	appErrors "github.com/noah-isme/classroom-roster/pkg/errors"
	"github.com/noah-isme/classroom-roster/pkg/response"
)

const maxImportBytes = 8 << 20

// RosterHandler exposes the roster controller over HTTP.
type RosterHandler struct {
	roster  *service.RosterService
	reports *service.ExportService
}

// NewRosterHandler constructs RosterHandler.
func NewRosterHandler(roster *service.RosterService, reports *service.ExportService) *RosterHandler {
	return &RosterHandler{roster: roster, reports: reports}
}

// Snapshot returns the observable roster state.
func (h *RosterHandler) Snapshot(c *gin.Context) {
	response.JSON(c, http.StatusOK, h.roster.Snapshot())
}

// List returns the visible students.
func (h *RosterHandler) List(c *gin.Context) {
	snap := h.roster.Snapshot()
	response.JSON(c, http.StatusOK, snap.Visible, map[string]interface{}{
		"total":   snap.Total,
		"visible": len(snap.Visible),
		"filter":  snap.Filter,
		"sort":    snap.Sort,
	})
}

// Get returns one student of the canonical list.
func (h *RosterHandler) Get(c *gin.Context) {
	student, ok := h.roster.GetByID(c.Param("id"))
	if !ok {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "student not found"))
		return
	}
	response.JSON(c, http.StatusOK, student)
}

// Create adds a student.
func (h *RosterHandler) Create(c *gin.Context) {
	var req models.CreateStudentInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	student, err := h.roster.Add(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, student)
}

// Update patches a student.
func (h *RosterHandler) Update(c *gin.Context) {
	var patch models.StudentPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	student, err := h.roster.Update(c.Request.Context(), models.UpdateStudentInput{ID: c.Param("id"), StudentPatch: patch})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student)
}

// Delete removes a student.
func (h *RosterHandler) Delete(c *gin.Context) {
	if err := h.roster.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ClearAll deletes every student of the session.
func (h *RosterHandler) ClearAll(c *gin.Context) {
	deleted, err := h.roster.ClearAll(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"deleted": deleted})
}

// UploadPhoto attaches the multipart "photo" file to a student.
func (h *RosterHandler) UploadPhoto(c *gin.Context) {
	file, err := c.FormFile("photo")
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "photo file is required"))
		return
	}
	src, err := file.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "photo file is unreadable"))
		return
	}
	defer src.Close()
	data, err := io.ReadAll(src)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "photo file is unreadable"))
		return
	}

	student, err := h.roster.AttachPhoto(c.Request.Context(), c.Param("id"), data)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student)
}

// SetFilter replaces the roster filter.
func (h *RosterHandler) SetFilter(c *gin.Context) {
	var filter models.StudentFilter
	if err := c.ShouldBindJSON(&filter); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid filter"))
		return
	}
	h.roster.SetFilter(filter)
	response.JSON(c, http.StatusOK, h.roster.View())
}

// SetSort replaces the roster sort order.
func (h *RosterHandler) SetSort(c *gin.Context) {
	var spec models.SortSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid sort"))
		return
	}
	if err := h.roster.SetSort(spec); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, h.roster.View())
}

// Refresh reloads the roster from the store.
func (h *RosterHandler) Refresh(c *gin.Context) {
	if _, err := h.roster.Refresh(c.Request.Context()); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, h.roster.View())
}

// Stats summarises the roster.
func (h *RosterHandler) Stats(c *gin.Context) {
	stats, err := h.roster.Stats()
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats)
}

// Export downloads the whole roster as JSON.
func (h *RosterHandler) Export(c *gin.Context) {
	payload, err := h.roster.ExportAll(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	filename := "students-" + time.Now().UTC().Format("20060102") + ".json"
	response.Attachment(c, filename, "application/json", payload)
}

// Import replaces the roster with the JSON array in the request body.
func (h *RosterHandler) Import(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxImportBytes+1))
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInvalidImportData.Code, appErrors.ErrInvalidImportData.Status, "unreadable import body"))
		return
	}
	if len(payload) > maxImportBytes {
		response.Error(c, appErrors.Clone(appErrors.ErrInvalidImportData, "import body is too large"))
		return
	}
	count, err := h.roster.ImportAll(c.Request.Context(), payload)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"imported": count})
}

// Report renders the visible roster as CSV or PDF.
func (h *RosterHandler) Report(c *gin.Context) {
	req := models.ReportRequest{Format: models.ReportFormat(strings.TrimSpace(c.DefaultQuery("format", string(models.ReportFormatCSV))))}
	result, err := h.reports.Generate(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, result.Filename, result.ContentType, result.Data)
}

// Stream pushes roster snapshots as server-sent events until the client leaves.
func (h *RosterHandler) Stream(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	for snap := range h.roster.Watch(c.Request.Context()) {
		c.SSEvent("roster", snap)
		c.Writer.Flush()
	}
}
