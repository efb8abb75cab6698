package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/persistorai/queuecall/internal/models"
)

// TicketHandler serves ticket issuance, lookup, and rating.
type TicketHandler struct {
	svc TicketService
	log *logrus.Logger
}

// NewTicketHandler creates a TicketHandler.
func NewTicketHandler(svc TicketService, log *logrus.Logger) *TicketHandler {
	return &TicketHandler{svc: svc, log: log}
}

// Issue handles POST /agencies/:agencyId/tickets.
func (h *TicketHandler) Issue(c *gin.Context) {
	var req models.IssueTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request body")
		return
	}

	if err := req.Validate(); err != nil {
		respondError(c, http.StatusBadRequest, ErrCodeValidationError, err.Error())
		return
	}

	pos, err := h.svc.IssueTicket(c.Request.Context(), c.Param("agencyId"), req.ServiceID)
	if err != nil {
		respondServiceError(c, h.log, err, "ticket.issue")
		return
	}

	c.JSON(http.StatusCreated, pos)
}

// Get handles GET /tickets/:id.
func (h *TicketHandler) Get(c *gin.Context) {
	ticketID := c.Param("id")
	if err := validatePathID(ticketID); err != nil {
		respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}

	pos, err := h.svc.GetTicket(c.Request.Context(), ticketID)
	if err != nil {
		respondServiceError(c, h.log, err, "ticket.get")
		return
	}

	c.JSON(http.StatusOK, pos)
}

// Rate handles POST /tickets/:id/rating. The rating is stored asynchronously.
func (h *TicketHandler) Rate(c *gin.Context) {
	ticketID := c.Param("id")
	if err := validatePathID(ticketID); err != nil {
		respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}

	var req models.RateTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request body")
		return
	}

	if err := h.svc.RateTicket(c.Request.Context(), ticketID, &req); err != nil {
		respondServiceError(c, h.log, err, "ticket.rate")
		return
	}

	c.Status(http.StatusAccepted)
}
