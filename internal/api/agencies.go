package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/persistorai/queuecall/internal/middleware"
	"github.com/persistorai/queuecall/internal/models"
)

// AgencyHandler serves the staff-facing agency directory.
type AgencyHandler struct {
	dir AgencyDirectory
	log *logrus.Logger
}

// NewAgencyHandler creates an AgencyHandler.
func NewAgencyHandler(dir AgencyDirectory, log *logrus.Logger) *AgencyHandler {
	return &AgencyHandler{dir: dir, log: log}
}

// ListCounters handles GET /agencies/:agencyId/counters.
func (h *AgencyHandler) ListCounters(c *gin.Context) {
	agencyID := c.Param("agencyId")

	counters, err := h.dir.ListCounters(c.Request.Context(), agencyID)
	if err != nil {
		respondServiceError(c, h.log, err, "counter.list")
		return
	}

	if len(counters) == 0 {
		respondError(c, http.StatusNotFound, ErrCodeNotFound, models.ErrAgencyNotFound.Error())
		return
	}

	h.log.WithFields(logrus.Fields{
		"action":    "counter.list",
		"agency_id": agencyID,
		"staff_id":  c.GetString(middleware.StaffIDKey),
		"count":     len(counters),
	}).Debug("listed counters")

	c.JSON(http.StatusOK, gin.H{"counters": counters})
}

// ListServices handles GET /agencies/:agencyId/services.
func (h *AgencyHandler) ListServices(c *gin.Context) {
	services, err := h.dir.ListServices(c.Request.Context(), c.Param("agencyId"))
	if err != nil {
		respondServiceError(c, h.log, err, "service.list")
		return
	}

	c.JSON(http.StatusOK, gin.H{"services": services})
}
