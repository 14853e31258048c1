package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// DeviceOutcome — итог задачи на одном устройстве.
type DeviceOutcome struct {
	Status      string `json:"status"`
	Message     string `json:"message,omitempty"`
	PreBackupID string `json:"pre_backup_id,omitempty"`
	Attempts    int    `json:"attempts,omitempty"`
}

// BlockedGroup — OTP-группа, из-за которой задача стоит на паузе.
type BlockedGroup struct {
	Key struct {
		Department string `json:"department"`
		Group      string `json:"group"`
	} `json:"key"`
	DeviceIDs []string `json:"device_ids"`
}

// PauseInfo — описание паузы задачи в ожидании OTP.
type PauseInfo struct {
	Stage    string         `json:"stage"`
	Groups   []BlockedGroup `json:"groups"`
	PausedAt string         `json:"paused_at"`
}

// TaskResponse — задача из API.
type TaskResponse struct {
	ID             string                   `json:"id"`
	Type           string                   `json:"type"`
	Status         string                   `json:"status"`
	Progress       int                      `json:"progress"`
	TemplateID     string                   `json:"template_id,omitempty"`
	SourceTaskID   string                   `json:"source_task_id,omitempty"`
	DeviceIDs      []string                 `json:"device_ids"`
	DryRun         bool                     `json:"dry_run"`
	Devices        map[string]DeviceOutcome `json:"devices,omitempty"`
	SuccessCount   int                      `json:"success_count"`
	FailureCount   int                      `json:"failure_count"`
	Result         map[string]any           `json:"result,omitempty"`
	Rollback       map[string][]string      `json:"rollback,omitempty"`
	Pause          *PauseInfo               `json:"pause,omitempty"`
	Error          string                   `json:"error,omitempty"`
	ApprovalLevels int                      `json:"approval_levels"`
	CurrentLevel   int                      `json:"current_level"`
	ApprovalStatus string                   `json:"approval_status"`
	Operator       string                   `json:"operator"`
	CreatedAt      string                   `json:"created_at"`
	StartedAt      string                   `json:"started_at,omitempty"`
	FinishedAt     string                   `json:"finished_at,omitempty"`
}

// ApprovalStepResponse — шаг согласования из API.
type ApprovalStepResponse struct {
	Level     int    `json:"level"`
	Status    string `json:"status"`
	Approver  string `json:"approver,omitempty"`
	Comment   string `json:"comment,omitempty"`
	DecidedAt string `json:"decided_at,omitempty"`
}

// SubmitOTPResponse — итог ввода OTP-кода.
type SubmitOTPResponse struct {
	TTLSeconds int      `json:"ttl_seconds"`
	Resumed    []string `json:"resumed"`
}

// --- Request types ---

// CreateTaskRequest — создание задачи деплоя.
type CreateTaskRequest struct {
	Type           string         `json:"type"`
	TemplateID     string         `json:"template_id,omitempty"`
	DeviceIDs      []string       `json:"device_ids"`
	Params         map[string]any `json:"params,omitempty"`
	DryRun         bool           `json:"dry_run,omitempty"`
	ApprovalLevels int            `json:"approval_levels"`
}

// RollbackRequest — создание задачи отката.
type RollbackRequest struct {
	DeviceIDs      []string `json:"device_ids,omitempty"`
	ApprovalLevels int      `json:"approval_levels"`
}

// ApproveRequest — решение по текущему уровню согласования.
type ApproveRequest struct {
	Approve bool   `json:"approve"`
	Comment string `json:"comment,omitempty"`
}

// SubmitOTPRequest — OTP-код группы устройств.
type SubmitOTPRequest struct {
	Department string `json:"department"`
	Group      string `json:"group"`
	Code       string `json:"code"`
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

// Client — HTTP-клиент для Netomata API.
type Client struct {
	baseURL    string
	user       string
	httpClient *http.Client
}

// NewClient создаёт клиент для API. user передаётся в заголовке X-User.
func NewClient(baseURL, user string) *Client {
	return &Client{
		baseURL: baseURL,
		user:    user,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Tasks ---

// CreateTask создаёт задачу.
func (c *Client) CreateTask(req CreateTaskRequest) (*TaskResponse, error) {
	var task TaskResponse
	err := c.post("/api/v1/tasks", req, &task)
	return &task, err
}

// GetTask возвращает задачу по ID.
func (c *Client) GetTask(id string) (*TaskResponse, error) {
	var task TaskResponse
	err := c.get("/api/v1/tasks/"+id, &task)
	return &task, err
}

// ListApprovals возвращает шаги согласования задачи.
func (c *Client) ListApprovals(id string) ([]ApprovalStepResponse, error) {
	var steps []ApprovalStepResponse
	err := c.list("/api/v1/tasks/"+id+"/approvals", &steps)
	return steps, err
}

// Approve фиксирует решение по текущему уровню согласования.
func (c *Client) Approve(id string, req ApproveRequest) (*TaskResponse, error) {
	var task TaskResponse
	err := c.post("/api/v1/tasks/"+id+"/approve", req, &task)
	return &task, err
}

// Execute отправляет согласованную задачу на выполнение.
func (c *Client) Execute(id string) (*TaskResponse, error) {
	var task TaskResponse
	err := c.post("/api/v1/tasks/"+id+"/execute", nil, &task)
	return &task, err
}

// Rollback создаёт задачу отката задачи id.
func (c *Client) Rollback(id string, req RollbackRequest) (*TaskResponse, error) {
	var task TaskResponse
	err := c.post("/api/v1/tasks/"+id+"/rollback", req, &task)
	return &task, err
}

// --- OTP ---

// SubmitOTP передаёт OTP-код группы.
func (c *Client) SubmitOTP(req SubmitOTPRequest) (*SubmitOTPResponse, error) {
	var resp SubmitOTPResponse
	err := c.post("/api/v1/otp", req, &resp)
	return &resp, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) list(path string, result any) error {
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
	if c.user != "" {
		req.Header.Set("X-User", c.user)
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
