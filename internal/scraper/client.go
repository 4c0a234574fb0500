// Package scraper — HTTP-клиент для вызова внешних scrapers.
//
// Scraper — непрозрачный HTTP-коллаборатор: POST {base_url}/scrapers/{name}
// с JSON {scraper_name, parameters, workflow_name}. Любая неудача вызова
// возвращается как *retry.Failure, чтобы её можно было классифицировать.
package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/shaiso/Harvest/internal/retry"
	"github.com/shaiso/Harvest/internal/telemetry"
)

// Статусы в ответе scraper'а.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

const maxErrorBody = 200

// Request — тело запроса к scraper'у.
type Request struct {
	ScraperName  string         `json:"scraper_name"`
	Parameters   map[string]any `json:"parameters"`
	WorkflowName string         `json:"workflow_name"`
}

// Response — ответ scraper'а.
type Response struct {
	ExecutionID  string         `json:"execution_id"`
	Status       string         `json:"status"`
	RecordCount  int64          `json:"record_count"`
	ErrorMessage string         `json:"error_message,omitempty"`
	DataSummary  map[string]any `json:"data_summary,omitempty"`
}

// Config — настройки клиента.
type Config struct {
	// BaseURL — адрес сервиса scrapers (обязательно).
	BaseURL string

	// HTTPClient (default: &http.Client{}). Таймаут задаётся контекстом вызова.
	HTTPClient *http.Client

	// Headers — дополнительные заголовки (например, авторизация).
	Headers map[string]string

	// Logger
	Logger *slog.Logger
}

// Client вызывает scrapers по HTTP.
type Client struct {
	baseURL string
	http    *http.Client
	headers map[string]string
	logger  *slog.Logger
}

// New создаёт клиент.
func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    httpClient,
		headers: cfg.Headers,
		logger:  telemetry.OrDefault(cfg.Logger),
	}
}

// Invoke вызывает scraper один раз (без retry).
//
// Ошибки:
//   - транспорт и таймаут: Failure{Kind: connection|timeout}
//   - не-2xx ответ: Failure{Kind: http, StatusCode}
//   - 2xx со status "failed": Failure{Kind: scraper_failed}
//   - отмена контекста вызывающим: ошибка контекста как есть
func (c *Client) Invoke(ctx context.Context, req Request) (*Response, error) {
	if req.ScraperName == "" {
		return nil, fmt.Errorf("%w: scraper name is required", ErrInvalidRequest)
	}
	if req.Parameters == nil {
		req.Parameters = map[string]any{}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal body: %v", ErrInvalidRequest, err)
	}

	endpoint := c.baseURL + "/scrapers/" + url.PathEscape(req.ScraperName)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrInvalidRequest, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, c.transportFailure(ctx, req.ScraperName, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.transportFailure(ctx, req.ScraperName, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &retry.Failure{
			StatusCode: resp.StatusCode,
			Message:    errorMessage(respBody),
			Kind:       retry.KindHTTP,
			Resource:   req.ScraperName,
		}
	}

	var out Response
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, &retry.Failure{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("%v: %v", ErrInvalidResponse, err),
			Kind:       retry.KindScraperFailed,
			Resource:   req.ScraperName,
			Err:        ErrInvalidResponse,
		}
	}

	if out.Status == StatusFailed {
		msg := out.ErrorMessage
		if msg == "" {
			msg = "scraper reported failure"
		}
		return &out, &retry.Failure{
			Message:  msg,
			Kind:     retry.KindScraperFailed,
			Resource: req.ScraperName,
		}
	}

	c.logger.Debug("scraper responded",
		"scraper", req.ScraperName,
		"execution_id", out.ExecutionID,
		"record_count", out.RecordCount,
	)
	return &out, nil
}

// transportFailure превращает ошибку транспорта в Failure.
func (c *Client) transportFailure(ctx context.Context, scraperName string, err error) error {
	// отмена вызывающим не повод для retry
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}

	kind := retry.KindConnection
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		kind = retry.KindTimeout
	}

	return &retry.Failure{
		Message:  err.Error(),
		Kind:     kind,
		Resource: scraperName,
		Err:      err,
	}
}

// errorMessage достаёт error_message из JSON-тела или возвращает начало тела.
func errorMessage(body []byte) string {
	var parsed struct {
		ErrorMessage string `json:"error_message"`
		Error        string `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.ErrorMessage != "" {
			return parsed.ErrorMessage
		}
		if parsed.Error != "" {
			return parsed.Error
		}
	}
	return truncate(strings.TrimSpace(string(body)), maxErrorBody)
}

// truncate обрезает строку до указанной длины.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
