package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"kids-rollcall/attendance"
	"kids-rollcall/models"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// APIHandler holds the dependencies for API handlers, like the attendance service
type APIHandler struct {
	Service *attendance.Service
}

// NewAPIHandler creates a new APIHandler
func NewAPIHandler(service *attendance.Service) *APIHandler {
	return &APIHandler{
		Service: service,
	}
}

// respondError maps domain error codes onto HTTP statuses
func respondError(c *gin.Context, err error) {
	var domainErr *attendance.Error
	if !errors.As(err, &domainErr) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	switch domainErr.Code {
	case attendance.CodeInvalidInput:
		c.JSON(http.StatusBadRequest, gin.H{"error": domainErr.Message})
	case attendance.CodeNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": domainErr.Message})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": domainErr.Message})
	}
}

func parseDayID(c *gin.Context) (int64, bool) {
	dayID, err := strconv.ParseInt(c.Param("dayId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "dayId must be an integer"})
		return 0, false
	}
	return dayID, true
}

// --- Kid Handlers ---

// AddKid handles POST /kids
func (h *APIHandler) AddKid(c *gin.Context) {
	var req models.NewKidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	kid, err := h.Service.AddKid(c.Request.Context(), req.Name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, kid)
}

// ListKids handles GET /kids
func (h *APIHandler) ListKids(c *gin.Context) {
	kids, err := h.Service.ListKids(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	if kids == nil {
		// Return empty list instead of null for JSON consistency
		c.JSON(http.StatusOK, []models.Kid{})
		return
	}
	c.JSON(http.StatusOK, kids)
}

// ImportKids handles POST /import/kids
func (h *APIHandler) ImportKids(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		log.Printf("Error getting form file: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Error retrieving uploaded file: " + err.Error()})
		return
	}
	defer file.Close()

	log.Printf("Received roster upload: %s", header.Filename)

	imported, err := h.Service.ImportKids(c.Request.Context(), file)
	if err != nil {
		log.Printf("Error importing kids from %s: %v", header.Filename, err)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":       "Import successful",
		"importedCount": imported,
	})
}

// --- Attendance Handlers ---

// TodaySheet handles GET /attendance/today
func (h *APIHandler) TodaySheet(c *gin.Context) {
	sheet, err := h.Service.TodaySheet(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sheet)
}

// SheetByDay handles GET /attendance/by-day/:dayId
func (h *APIHandler) SheetByDay(c *gin.Context) {
	dayID, ok := parseDayID(c)
	if !ok {
		return
	}
	sheet, err := h.Service.SheetByDay(c.Request.Context(), dayID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sheet)
}

// ExportDay handles GET /attendance/by-day/:dayId/export
func (h *APIHandler) ExportDay(c *gin.Context) {
	dayID, ok := parseDayID(c)
	if !ok {
		return
	}
	var buf bytes.Buffer
	sheet, err := h.Service.ExportDay(c.Request.Context(), dayID, &buf)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="attendance-%s.xlsx"`, sheet.Date))
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

// Mark handles POST /attendance/mark
func (h *APIHandler) Mark(c *gin.Context) {
	var req models.MarkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	if err := h.Service.Mark(c.Request.Context(), req.DayID, req.KidID, req.Present); err != nil {
		respondError(c, err)
		return
	}
	c.String(http.StatusOK, "OK")
}

// ListDays handles GET /days
func (h *APIHandler) ListDays(c *gin.Context) {
	days, err := h.Service.ListDays(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	if days == nil {
		c.JSON(http.StatusOK, []models.Day{})
		return
	}
	c.JSON(http.StatusOK, days)
}

// --- Health Handlers ---

// RootHandler handles GET /
func RootHandler(c *gin.Context) {
	c.String(http.StatusOK, "Backend running")
}

// PingHandler handles GET /ping
func PingHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Pong!"})
}
