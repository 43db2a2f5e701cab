package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/marketpay/internal/domain"
)

// DefaultTTL - сколько хранится ответ на запрос с ключом идемпотентности.
const DefaultTTL = 24 * time.Hour

// ErrInProgress - запрос с этим ключом ещё обрабатывается.
var ErrInProgress = errors.New("request with this idempotency key is still in progress")

// Replay - сохранённый ответ на повтор запроса.
type Replay struct {
	HTTPStatus int
	Body       []byte
}

// Guard сериализует HTTP-запросы с одинаковым ключом идемпотентности.
// Ключ привязывается к субъекту, чтобы разные продавцы не делили пространство ключей.
type Guard struct {
	repo domain.IdempotencyRepository
	ttl  time.Duration
	now  func() time.Time
}

// NewGuard создаёт Guard поверх репозитория ключей.
func NewGuard(repo domain.IdempotencyRepository, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Guard{
		repo: repo,
		ttl:  ttl,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// ScopedKey связывает клиентский ключ с субъектом и операцией.
func ScopedKey(subject, operation, key string) string {
	return subject + ":" + operation + ":" + key
}

// HashRequest считает отпечаток тела запроса.
func HashRequest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Begin резервирует ключ. Возвращает Replay, если запрос уже завершён.
// Другое тело с тем же ключом даёт domain.ErrIdempotencyHashMismatch.
func (g *Guard) Begin(key, requestHash string) (*Replay, error) {
	_, err := g.repo.CreateProcessing(key, requestHash, g.now().Add(g.ttl))
	if err == nil {
		return nil, nil
	}
	if !errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists) {
		return nil, err
	}

	record, getErr := g.repo.Get(key)
	if getErr != nil {
		return nil, fmt.Errorf("load idempotency record: %w", getErr)
	}
	if !record.Replayable() {
		return nil, ErrInProgress
	}
	return &Replay{HTTPStatus: record.HTTPStatus, Body: record.ResponseBody}, nil
}

// Complete сохраняет итоговый ответ. Ответы 5xx помечаются failed и тоже отдаются при повторе.
func (g *Guard) Complete(key string, httpStatus int, body []byte) error {
	if httpStatus >= 500 {
		return g.repo.MarkFailed(key, body, httpStatus)
	}
	return g.repo.MarkDone(key, body, httpStatus)
}
