package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/persistorai/queuecall/internal/httputil"
	"github.com/persistorai/queuecall/internal/metrics"
)

func respondError(c *gin.Context, code int, errCode, message string) {
	metrics.ErrorsTotal.WithLabelValues(errCode).Inc()
	httputil.RespondError(c, code, errCode, message)
}
