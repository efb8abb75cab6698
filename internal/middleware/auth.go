package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/persistorai/queuecall/internal/models"
)

// authTimingFloor is the minimum response time for rejected tokens so that
// valid and invalid tokens cannot be told apart by latency.
const authTimingFloor = 50 * time.Millisecond

// Gin context keys set by StaffAuth.
const (
	StaffIDKey   = "staff_id"
	StaffNameKey = "staff_name"
	AgencyIDKey  = "agency_id"
)

// StaffLookup resolves a staff token to its operator.
type StaffLookup interface {
	GetStaffByToken(ctx context.Context, token string) (*models.Staff, error)
}

// truncateKey returns at most the first 4 characters of key followed by "...".
func truncateKey(key string) string {
	if len(key) > 4 {
		return key[:4] + "..."
	}
	return key
}

func enforceTimingFloor(start time.Time) {
	if elapsed := time.Since(start); elapsed < authTimingFloor {
		time.Sleep(authTimingFloor - elapsed)
	}
}

// StaffAuth returns Gin middleware that authenticates requests with a staff
// Bearer token. Failed attempts are counted by guard when it is non-nil.
func StaffAuth(lookup StaffLookup, log *logrus.Logger, guard *BruteForceGuard) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		defer func() {
			if c.Writer.Status() == http.StatusUnauthorized {
				enforceTimingFloor(start)
			}
		}()

		token := ExtractBearerToken(c)
		if token == "" {
			respondError(c, http.StatusUnauthorized, "unauthorized", "missing or invalid authorization header")
			return
		}

		staff, err := lookup.GetStaffByToken(c.Request.Context(), token)
		if err != nil {
			logAuthFailure(log, c, token)

			if guard != nil {
				guard.RecordFailure(token)
			}

			respondError(c, http.StatusUnauthorized, "unauthorized", "invalid staff token")
			return
		}

		if guard != nil {
			guard.ResetKey(token)
		}

		c.Set(StaffIDKey, staff.ID)
		c.Set(StaffNameKey, staff.Name)
		c.Set(AgencyIDKey, staff.AgencyID)
		c.Next()
	}
}

// RequireAgency rejects requests whose :agencyId path parameter differs
// from the authenticated staff member's agency.
func RequireAgency() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Param("agencyId") != c.GetString(AgencyIDKey) {
			respondError(c, http.StatusForbidden, "forbidden", "staff token is not valid for this agency")
			return
		}

		c.Next()
	}
}

// ExtractBearerToken extracts the token from the Authorization header.
func ExtractBearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" || !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(header, "Bearer ")
}

func logAuthFailure(log *logrus.Logger, c *gin.Context, token string) {
	log.WithFields(logrus.Fields{
		"client_ip":  c.ClientIP(),
		"method":     c.Request.Method,
		"path":       c.Request.URL.Path,
		"user_agent": c.Request.UserAgent(),
		"request_id": c.GetString(RequestIDKey),
		"key_prefix": truncateKey(token),
	}).Warn("authentication failed: invalid staff token")
}
