package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/vladislavdragonenkov/marketpay/internal/transport/httpapi"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	tokenTTL             = time.Hour
)

// apiClient ходит в платёжное HTTP API от имени произвольного пользователя.
type apiClient struct {
	baseURL       string
	http          *http.Client
	timeout       time.Duration
	jwtSecret     string
	jwtIssuer     string
	subjectHeader string
}

func newAPIClient(cfg config, httpClient *http.Client) *apiClient {
	if httpClient == nil {
		httpClient = &http.Client{Transport: &http.Transport{
			MaxIdleConns:        cfg.concurrency,
			MaxIdleConnsPerHost: cfg.concurrency,
			IdleConnTimeout:     90 * time.Second,
		}}
	}
	return &apiClient{
		baseURL:       strings.TrimRight(cfg.addr, "/"),
		http:          httpClient,
		timeout:       cfg.timeout,
		jwtSecret:     cfg.jwtSecret,
		jwtIssuer:     cfg.jwtIssuer,
		subjectHeader: cfg.subjectHeader,
	}
}

// authorize подписывает запрос JWT, если задан секрет, иначе ставит заголовок субъекта.
func (c *apiClient) authorize(req *http.Request, subject string) error {
	if c.jwtSecret == "" {
		req.Header.Set(c.subjectHeader, subject)
		return nil
	}
	now := time.Now()
	token, err := httpapi.SignToken(c.jwtSecret, subject, jwt.RegisteredClaims{
		Issuer:    c.jwtIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
	})
	if err != nil {
		return fmt.Errorf("sign token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

// post отправляет JSON и декодирует тело ответа в out при статусе 2xx.
func (c *apiClient) post(subject, path, idempotencyKey string, body, out any) outcome {
	raw, err := json.Marshal(body)
	if err != nil {
		return outcome{err: err}
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return outcome{err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set(headerIdempotencyKey, idempotencyKey)
	}
	if err := c.authorize(req, subject); err != nil {
		return outcome{err: err}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return outcome{err: err}
	}
	defer resp.Body.Close()

	result := outcome{status: resp.StatusCode}
	if !result.ok() || out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return result
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return outcome{status: resp.StatusCode, err: fmt.Errorf("decode %s response: %w", path, err)}
	}
	return result
}

type createIntentResponse struct {
	IntentID    string `json:"intentId"`
	AmountCents int64  `json:"amountCents"`
}

type confirmResponse struct {
	Purchase struct {
		ID              string `json:"id"`
		AmountPaidCents int64  `json:"amountPaidCents"`
	} `json:"purchase"`
}

func (c *apiClient) createIntent(buyerID, itemID string, col *collector) (createIntentResponse, error) {
	var resp createIntentResponse
	start := time.Now()
	result := c.post(buyerID, "/payments/create-intent", "", map[string]string{"itemId": itemID}, &resp)
	col.record("CreateIntent", time.Since(start), result)
	if err := resultError("create intent", result); err != nil {
		return resp, err
	}
	if resp.IntentID == "" {
		return resp, errors.New("create intent returned empty intent id")
	}
	return resp, nil
}

func (c *apiClient) confirm(buyerID, intentID string, col *collector) (confirmResponse, error) {
	var resp confirmResponse
	start := time.Now()
	result := c.post(buyerID, "/payments/confirm", "", map[string]string{"intentId": intentID}, &resp)
	col.record("Confirm", time.Since(start), result)
	if err := resultError("confirm", result); err != nil {
		return resp, err
	}
	if resp.Purchase.ID == "" {
		return resp, errors.New("confirm returned no purchase")
	}
	return resp, nil
}

func (c *apiClient) requestPayout(sellerID string, amountMinor int64, key string, col *collector) error {
	start := time.Now()
	result := c.post(sellerID, "/payments/payout", key, map[string]int64{"amountCents": amountMinor}, nil)
	col.record("RequestPayout", time.Since(start), result)
	return resultError("request payout", result)
}

func resultError(op string, result outcome) error {
	if result.err != nil {
		return fmt.Errorf("%s: %w", op, result.err)
	}
	if !result.ok() {
		return fmt.Errorf("%s: unexpected status %d", op, result.status)
	}
	return nil
}

// runScenario прогоняет один сценарий покупки от имени отдельного покупателя.
func runScenario(client *apiClient, cfg config, index int, runID string, col *collector) (err error) {
	scenarioStart := time.Now()
	defer func() {
		result := outcome{status: http.StatusOK}
		if err != nil {
			result = outcome{err: err}
		}
		col.record(scenarioMethod, time.Since(scenarioStart), result)
	}()

	buyerID := fmt.Sprintf("%s-%s-%d", cfg.buyerTag, runID, index)
	intent, err := client.createIntent(buyerID, cfg.itemID, col)
	if err != nil {
		return err
	}
	if cfg.mode == modeIntent {
		return nil
	}

	purchase, err := client.confirm(buyerID, intent.IntentID, col)
	if err != nil {
		return err
	}
	col.addVolume(purchase.Purchase.AmountPaidCents)

	if cfg.mode == modePurchasePayout && shouldPayout(index, cfg.payoutRate) {
		key := fmt.Sprintf("lt-payout-%s-%d", runID, index)
		if err := client.requestPayout(cfg.sellerID, cfg.payoutMinor, key, col); err != nil {
			return err
		}
	}
	return nil
}

func shouldPayout(index, payoutRate int) bool {
	if payoutRate <= 0 {
		return false
	}
	if payoutRate >= 100 {
		return true
	}
	return index%100 < payoutRate
}
