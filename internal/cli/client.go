package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// RequestResponse — request из API.
type RequestResponse struct {
	ID             string         `json:"id"`
	TenantID       string         `json:"tenant_id"`
	Kind           string         `json:"kind"`
	Params         map[string]any `json:"params,omitempty"`
	Status         string         `json:"status"`
	ResultSummary  string         `json:"result_summary,omitempty"`
	ResultData     map[string]any `json:"result_data,omitempty"`
	Error          string         `json:"error,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	StartedAt      string         `json:"started_at,omitempty"`
	CompletedAt    string         `json:"completed_at,omitempty"`
	CreatedAt      string         `json:"created_at"`
}

// TaskResponse — task из API.
type TaskResponse struct {
	ID         string         `json:"id"`
	RequestID  string         `json:"request_id"`
	Department string         `json:"department"`
	Sequence   int            `json:"sequence"`
	DependsOn  []string       `json:"depends_on,omitempty"`
	Status     string         `json:"status"`
	RetryCount int            `json:"retry_count"`
	Output     map[string]any `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	StartedAt  string         `json:"started_at,omitempty"`
	FinishedAt string         `json:"finished_at,omitempty"`
	CreatedAt  string         `json:"created_at"`
}

// ProposalResponse — proposal из API.
type ProposalResponse struct {
	ID            string         `json:"id"`
	RequestID     string         `json:"request_id"`
	TenantID      string         `json:"tenant_id"`
	Description   string         `json:"description"`
	ActionType    string         `json:"action_type"`
	Parameters    map[string]any `json:"parameters,omitempty"`
	Status        string         `json:"status"`
	ExecutionLogs string         `json:"execution_logs,omitempty"`
	ReviewedBy    string         `json:"reviewed_by,omitempty"`
	ReviewComment string         `json:"review_comment,omitempty"`
	CreatedAt     string         `json:"created_at"`
}

// ScheduleResponse — schedule из API.
type ScheduleResponse struct {
	ID            string         `json:"id"`
	TenantID      string         `json:"tenant_id"`
	Name          string         `json:"name"`
	Kind          string         `json:"kind"`
	Params        map[string]any `json:"params,omitempty"`
	CronExpr      string         `json:"cron_expr,omitempty"`
	IntervalSec   int            `json:"interval_sec,omitempty"`
	Timezone      string         `json:"timezone"`
	Enabled       bool           `json:"enabled"`
	NextDueAt     string         `json:"next_due_at,omitempty"`
	LastRunAt     string         `json:"last_run_at,omitempty"`
	LastRequestID string         `json:"last_request_id,omitempty"`
	CreatedAt     string         `json:"created_at"`
	UpdatedAt     string         `json:"updated_at"`
}

// --- Request types ---

// SubmitRequestRequest — создание request.
type SubmitRequestRequest struct {
	Kind           string         `json:"kind"`
	Params         map[string]any `json:"params,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

// ReviewProposalRequest — решение по proposal.
type ReviewProposalRequest struct {
	ReviewedBy string `json:"reviewed_by"`
	Comment    string `json:"comment,omitempty"`
}

// CreateScheduleRequest — создание schedule.
type CreateScheduleRequest struct {
	Name        string         `json:"name"`
	Kind        string         `json:"kind"`
	Params      map[string]any `json:"params,omitempty"`
	CronExpr    string         `json:"cron_expr,omitempty"`
	IntervalSec int            `json:"interval_sec,omitempty"`
	Timezone    string         `json:"timezone,omitempty"`
	Enabled     bool           `json:"enabled"`
}

// UpdateScheduleRequest — обновление schedule.
type UpdateScheduleRequest struct {
	Name        *string `json:"name,omitempty"`
	Kind        *string `json:"kind,omitempty"`
	CronExpr    *string `json:"cron_expr,omitempty"`
	IntervalSec *int    `json:"interval_sec,omitempty"`
	Timezone    *string `json:"timezone,omitempty"`
}

// ListRequestsOpts — параметры фильтрации requests.
type ListRequestsOpts struct {
	Status string
	Limit  int
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

// --- Client ---

// Client — HTTP-клиент для Hivemind API.
type Client struct {
	baseURL    string
	tenantID   string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL, tenantID string) *Client {
	return &Client{
		baseURL:  baseURL,
		tenantID: tenantID,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Requests ---

// ListRequests возвращает список requests с фильтрацией.
func (c *Client) ListRequests(opts ListRequestsOpts) ([]RequestResponse, error) {
	params := url.Values{}
	if opts.Status != "" {
		params.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", opts.Limit))
	}

	var requests []RequestResponse
	err := c.list("/api/v1/requests", params, &requests)
	return requests, err
}

// SubmitRequest создаёт request на анализ.
func (c *Client) SubmitRequest(req SubmitRequestRequest) (*RequestResponse, error) {
	var request RequestResponse
	err := c.post("/api/v1/requests", req, &request)
	return &request, err
}

// GetRequest возвращает request по ID.
func (c *Client) GetRequest(id string) (*RequestResponse, error) {
	var request RequestResponse
	err := c.get("/api/v1/requests/"+id, &request)
	return &request, err
}

// CancelRequest отменяет request.
func (c *Client) CancelRequest(id string) (*RequestResponse, error) {
	var request RequestResponse
	err := c.post("/api/v1/requests/"+id+"/cancel", nil, &request)
	return &request, err
}

// ListTasks возвращает tasks для request.
func (c *Client) ListTasks(requestID string) ([]TaskResponse, error) {
	var tasks []TaskResponse
	err := c.list("/api/v1/requests/"+requestID+"/tasks", nil, &tasks)
	return tasks, err
}

// ListRequestProposals возвращает proposals для request.
func (c *Client) ListRequestProposals(requestID string) ([]ProposalResponse, error) {
	var proposals []ProposalResponse
	err := c.list("/api/v1/requests/"+requestID+"/proposals", nil, &proposals)
	return proposals, err
}

// --- Proposals ---

// ListProposals возвращает proposals. Если status не пустой — фильтрует.
func (c *Client) ListProposals(status string) ([]ProposalResponse, error) {
	params := url.Values{}
	if status != "" {
		params.Set("status", status)
	}

	var proposals []ProposalResponse
	err := c.list("/api/v1/proposals", params, &proposals)
	return proposals, err
}

// GetProposal возвращает proposal по ID.
func (c *Client) GetProposal(id string) (*ProposalResponse, error) {
	var proposal ProposalResponse
	err := c.get("/api/v1/proposals/"+id, &proposal)
	return &proposal, err
}

// ApproveProposal одобряет proposal.
func (c *Client) ApproveProposal(id string, req ReviewProposalRequest) (*ProposalResponse, error) {
	var proposal ProposalResponse
	err := c.post("/api/v1/proposals/"+id+"/approve", req, &proposal)
	return &proposal, err
}

// RejectProposal отклоняет proposal.
func (c *Client) RejectProposal(id string, req ReviewProposalRequest) (*ProposalResponse, error) {
	var proposal ProposalResponse
	err := c.post("/api/v1/proposals/"+id+"/reject", req, &proposal)
	return &proposal, err
}

// --- Schedules ---

// ListSchedules возвращает schedules.
func (c *Client) ListSchedules() ([]ScheduleResponse, error) {
	var schedules []ScheduleResponse
	err := c.list("/api/v1/schedules", nil, &schedules)
	return schedules, err
}

// CreateSchedule создаёт schedule.
func (c *Client) CreateSchedule(req CreateScheduleRequest) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	err := c.post("/api/v1/schedules", req, &schedule)
	return &schedule, err
}

// GetSchedule возвращает schedule по ID.
func (c *Client) GetSchedule(id string) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	err := c.get("/api/v1/schedules/"+id, &schedule)
	return &schedule, err
}

// UpdateSchedule обновляет schedule.
func (c *Client) UpdateSchedule(id string, req UpdateScheduleRequest) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	err := c.put("/api/v1/schedules/"+id, req, &schedule)
	return &schedule, err
}

// DeleteSchedule удаляет schedule.
func (c *Client) DeleteSchedule(id string) error {
	return c.delete("/api/v1/schedules/" + id)
}

// EnableSchedule включает schedule.
func (c *Client) EnableSchedule(id string) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	body := map[string]bool{"enabled": true}
	err := c.put("/api/v1/schedules/"+id+"/enabled", body, &schedule)
	return &schedule, err
}

// DisableSchedule выключает schedule.
func (c *Client) DisableSchedule(id string) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	body := map[string]bool{"enabled": false}
	err := c.put("/api/v1/schedules/"+id+"/enabled", body, &schedule)
	return &schedule, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) put(path string, body any, result any) error {
	return c.doData(http.MethodPut, path, body, result)
}

func (c *Client) delete(path string) error {
	resp, err := c.do(http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.checkError(resp)
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

	// 204 No Content
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
	if c.tenantID != "" {
		req.Header.Set("X-Tenant-ID", c.tenantID)
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}

	return fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
}
