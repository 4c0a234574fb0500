package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// DecisionAcceptedResponse — принятое решение.
type DecisionAcceptedResponse struct {
	WorkflowName string   `json:"workflow_name"`
	DecisionID   string   `json:"decision_id"`
	Key          string   `json:"key"`
	Scrapers     []string `json:"scrapers"`
}

// ScraperExecutionResponse — результат scraper'а из API.
type ScraperExecutionResponse struct {
	ScraperName  string         `json:"scraper_name"`
	Status       string         `json:"status"`
	ExecutionID  string         `json:"execution_id,omitempty"`
	Attempts     int            `json:"attempts"`
	DurationMs   int64          `json:"duration_ms"`
	RecordCount  int64          `json:"record_count"`
	ErrorClass   string         `json:"error_class,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	DataSummary  map[string]any `json:"data_summary,omitempty"`
	StartedAt    string         `json:"started_at"`
}

// ExecutionResponse — выполнение workflow из API.
type ExecutionResponse struct {
	ExecutionID       string                     `json:"execution_id"`
	WorkflowName      string                     `json:"workflow_name"`
	DecisionID        string                     `json:"decision_id"`
	ExecutionTime     string                     `json:"execution_time"`
	Status            string                     `json:"status"`
	ScrapersRequested []string                   `json:"scrapers_requested"`
	SkippedScrapers   []string                   `json:"skipped_scrapers,omitempty"`
	ScrapersTriggered int                        `json:"scrapers_triggered"`
	ScrapersSucceeded int                        `json:"scrapers_succeeded"`
	ScrapersFailed    int                        `json:"scrapers_failed"`
	DurationMs        int64                      `json:"duration_ms"`
	Error             string                     `json:"error,omitempty"`
	ScraperExecutions []ScraperExecutionResponse `json:"scraper_executions,omitempty"`
}

// BreakerResponse — состояние breaker'а из API.
type BreakerResponse struct {
	Resource            string `json:"resource"`
	State               string `json:"state"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	LastFailureAt       string `json:"last_failure_at,omitempty"`
	OpenedAt            string `json:"opened_at,omitempty"`
	ProbeInFlight       bool   `json:"probe_in_flight"`
}

// BreakersResponse — все breakers процесса.
type BreakersResponse struct {
	Enabled  bool              `json:"enabled"`
	Breakers []BreakerResponse `json:"breakers"`
}

// LockReleaseResponse — результат освобождения блокировки.
type LockReleaseResponse struct {
	LockKey  string `json:"lock_key"`
	Released bool   `json:"released"`
}

// --- Request types ---

// SubmitDecisionRequest — решение запустить workflow.
type SubmitDecisionRequest struct {
	DecisionID   string                    `json:"decision_id,omitempty"`
	Scrapers     []string                  `json:"scrapers"`
	Inputs       map[string]any            `json:"inputs,omitempty"`
	Parameters   map[string]map[string]any `json:"parameters,omitempty"`
	BusinessDate string                    `json:"business_date,omitempty"`
}

// ListExecutionsOpts — параметры фильтрации выполнений.
type ListExecutionsOpts struct {
	DecisionID string
	Limit      int
	Offset     int
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// APIError — ошибка, которую вернул API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("API error: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// --- Client ---

// Client — HTTP-клиент для Harvest API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Decisions ---

// SubmitDecision отправляет решение запустить workflow.
func (c *Client) SubmitDecision(workflow string, req SubmitDecisionRequest) (*DecisionAcceptedResponse, error) {
	var accepted DecisionAcceptedResponse
	err := c.post("/api/v1/workflows/"+url.PathEscape(workflow)+"/decisions", req, &accepted)
	return &accepted, err
}

// --- Executions ---

// ListExecutions возвращает выполнения workflow.
func (c *Client) ListExecutions(workflow string, opts ListExecutionsOpts) ([]ExecutionResponse, error) {
	params := url.Values{}
	if opts.DecisionID != "" {
		params.Set("decision_id", opts.DecisionID)
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		params.Set("offset", strconv.Itoa(opts.Offset))
	}

	var executions []ExecutionResponse
	err := c.list("/api/v1/workflows/"+url.PathEscape(workflow)+"/executions", params, &executions)
	return executions, err
}

// GetExecution возвращает выполнение с результатами scrapers.
func (c *Client) GetExecution(id string) (*ExecutionResponse, error) {
	var execution ExecutionResponse
	err := c.get("/api/v1/executions/"+url.PathEscape(id), &execution)
	return &execution, err
}

// --- Breakers ---

// ListBreakers возвращает состояние circuit breakers.
func (c *Client) ListBreakers() (*BreakersResponse, error) {
	var breakers BreakersResponse
	err := c.get("/api/v1/breakers", &breakers)
	return &breakers, err
}

// ResetBreaker возвращает breaker ресурса в CLOSED.
func (c *Client) ResetBreaker(resource string) (*BreakerResponse, error) {
	var b BreakerResponse
	err := c.post("/api/v1/breakers/"+url.PathEscape(resource)+"/reset", nil, &b)
	return &b, err
}

// --- Locks ---

// ReleaseLock принудительно освобождает блокировку по бизнес-ключу.
func (c *Client) ReleaseLock(businessKey string) (*LockReleaseResponse, error) {
	var released LockReleaseResponse
	err := c.doData(http.MethodDelete, "/api/v1/locks/"+url.PathEscape(businessKey), nil, &released)
	return &released, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return &APIError{StatusCode: resp.StatusCode}
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Code:       er.Error.Code,
		Message:    er.Error.Message,
	}
}
