package httpapi

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketpay/internal/service/idempotency"
)

const (
	headerRequestID      = "X-Request-ID"
	headerIdempotencyKey = "Idempotency-Key"
	headerReplayed       = "Idempotent-Replayed"

	requestIDContextKey      = "marketpay.request_id"
	idempotencyKeyContextKey = "marketpay.idempotency_key"

	maxIdempotencyKeyLength = 255
	maxRequestBodyBytes     = 1 << 20
)

// RequestID проставляет X-Request-ID, если его не передал клиент.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(headerRequestID))
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDContextKey, id)
		c.Header(headerRequestID, id)
		c.Next()
	}
}

// RequestLogger пишет строку лога на каждый запрос; уровень зависит от статуса ответа.
func RequestLogger(logger *log.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		entry := logger.WithFields(log.Fields{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"route":      c.FullPath(),
			"status":     status,
			"latency_ms": time.Since(start).Milliseconds(),
			"client_ip":  c.ClientIP(),
			"request_id": c.GetString(requestIDContextKey),
		})
		if sub := subject(c); sub != "" {
			entry = entry.WithField("subject", sub)
		}

		switch {
		case status >= http.StatusInternalServerError:
			entry.Error("http request")
		case status >= http.StatusBadRequest:
			entry.Warn("http request")
		default:
			entry.Info("http request")
		}
	}
}

// bodyRecorder копирует тело ответа для кеша идемпотентности.
type bodyRecorder struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *bodyRecorder) Write(data []byte) (int, error) {
	w.body.Write(data)
	return w.ResponseWriter.Write(data)
}

func (w *bodyRecorder) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Idempotent сохраняет ответ на запрос с Idempotency-Key и отдаёт его при повторе.
// Ключ действует в пределах субъекта и операции; без ключа запрос проходит как есть.
func Idempotent(guard *idempotency.Guard, operation string, logger *log.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(headerIdempotencyKey))
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxIdempotencyKeyLength {
			writeProblem(c, http.StatusBadRequest, "validation_failed", "idempotency key is too long")
			c.Abort()
			return
		}

		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxRequestBodyBytes))
		if err != nil {
			writeProblem(c, http.StatusBadRequest, "validation_failed", "failed to read request body")
			c.Abort()
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		scoped := idempotency.ScopedKey(subject(c), operation, key)
		replay, err := guard.Begin(scoped, idempotency.HashRequest(body))
		if err != nil {
			status, code := classify(err)
			if status == http.StatusInternalServerError {
				logger.WithError(err).WithField("operation", operation).Error("idempotency guard failed")
			}
			writeProblem(c, status, code, err.Error())
			c.Abort()
			return
		}
		if replay != nil {
			c.Header(headerReplayed, "true")
			c.Data(replay.HTTPStatus, "application/json; charset=utf-8", replay.Body)
			c.Abort()
			return
		}

		recorder := &bodyRecorder{ResponseWriter: c.Writer}
		c.Writer = recorder
		c.Set(idempotencyKeyContextKey, key)
		c.Next()

		if err := guard.Complete(scoped, recorder.Status(), recorder.body.Bytes()); err != nil {
			logger.WithError(err).WithFields(log.Fields{
				"operation":       operation,
				"idempotency_key": key,
			}).Warn("failed to store idempotent response")
		}
	}
}

// idempotencyKey возвращает ключ из заголовка; middleware Idempotent уже проверил его длину.
func idempotencyKey(c *gin.Context) string {
	if key := c.GetString(idempotencyKeyContextKey); key != "" {
		return key
	}
	return strings.TrimSpace(c.GetHeader(headerIdempotencyKey))
}

var errBodyTooLarge = errors.New("request body too large")
