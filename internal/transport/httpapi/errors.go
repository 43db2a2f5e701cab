package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketpay/internal/domain"
	"github.com/vladislavdragonenkov/marketpay/internal/service/idempotency"
)

// retryAfterSeconds подсказывает клиенту паузу при недоступном процессоре.
const retryAfterSeconds = 5

type problem struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeProblem(c *gin.Context, status int, code, message string) {
	c.JSON(status, problem{Error: message, Code: code})
}

// classify сводит доменные ошибки к HTTP-статусу и коду.
func classify(err error) (int, string) {
	switch {
	case domain.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, domain.ErrAlreadyOwned):
		return http.StatusConflict, "already_owned"
	case errors.Is(err, domain.ErrPaymentNotComplete):
		return http.StatusPaymentRequired, "payment_not_complete"
	case errors.Is(err, domain.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity, "insufficient_balance"
	case errors.Is(err, domain.ErrBelowMinimum):
		return http.StatusUnprocessableEntity, "below_minimum"
	case domain.IsGatewayUnavailable(err):
		return http.StatusServiceUnavailable, "gateway_unavailable"
	case errors.Is(err, domain.ErrGatewayRejected):
		return http.StatusBadGateway, "gateway_rejected"
	case errors.Is(err, domain.ErrSignatureInvalid):
		return http.StatusBadRequest, "signature_invalid"
	case domain.IsIdempotencyConflict(err), errors.Is(err, idempotency.ErrInProgress):
		return http.StatusConflict, "idempotency_conflict"
	case domain.IsValidation(err):
		return http.StatusBadRequest, "validation_failed"
	case errors.Is(err, errUnauthenticated):
		return http.StatusUnauthorized, "unauthenticated"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// writeError отвечает клиенту по виду ошибки. Внутренние детали 5xx в ответ не попадают.
func (h *handlers) writeError(c *gin.Context, err error) {
	status, code := classify(err)
	message := err.Error()

	entry := h.logger.WithError(err).WithFields(log.Fields{
		"path":   c.FullPath(),
		"status": status,
		"code":   code,
	})
	switch {
	case status == http.StatusServiceUnavailable:
		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds))
		entry.Warn("request failed")
	case status >= http.StatusInternalServerError:
		message = http.StatusText(status)
		entry.Error("request failed")
	default:
		entry.Debug("request rejected")
	}

	_ = c.Error(err)
	writeProblem(c, status, code, message)
}
