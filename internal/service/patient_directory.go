package service

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"pillbox/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// PatientDirectory 外部账号服务（只读）
type PatientDirectory interface {
	GetPatient(ctx context.Context, patientID int64) (*models.Patient, error)
	// 角色在查询时一次性确定
	GetAccount(ctx context.Context, username string) (*models.Account, error)
}

// ============================================
// HTTP 实现
// ============================================

// accountServiceResponse 账号服务响应（与 httpapi.Result 同构）
type accountServiceResponse[T any] struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
	Result  T      `json:"result"`
}

type accountPayload struct {
	Username  string `json:"username"`
	Role      string `json:"role"`
	PatientID *int64 `json:"patient_id"`
	DoctorID  *int64 `json:"doctor_id"`
}

// HTTPPatientDirectory 通过 HTTP 访问账号服务
type HTTPPatientDirectory struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewHTTPPatientDirectory 创建账号服务客户端
func NewHTTPPatientDirectory(baseURL string, logger *zap.Logger) *HTTPPatientDirectory {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(5 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(1 * time.Second).
		SetHeader("Accept", "application/json")

	return &HTTPPatientDirectory{httpClient: client, logger: logger}
}

var _ PatientDirectory = (*HTTPPatientDirectory)(nil)

// GetPatient 查询患者
func (d *HTTPPatientDirectory) GetPatient(ctx context.Context, patientID int64) (*models.Patient, error) {
	var response accountServiceResponse[*models.Patient]
	resp, err := d.httpClient.R().
		SetContext(ctx).
		SetPathParam("id", strconv.FormatInt(patientID, 10)).
		SetResult(&response).
		Get("/api/v1/patients/{id}")
	if err != nil {
		d.logger.Error("Account service call failed", zap.Int64("patient_id", patientID), zap.Error(err))
		return nil, fmt.Errorf("failed to call account service: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound || (resp.IsSuccess() && response.Result == nil) {
		return nil, fmt.Errorf("%w: patient %d", models.ErrNotFound, patientID)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("account service error: %s (status: %d)", response.Message, resp.StatusCode())
	}
	return response.Result, nil
}

// GetAccount 查询账号并解析角色
func (d *HTTPPatientDirectory) GetAccount(ctx context.Context, username string) (*models.Account, error) {
	var response accountServiceResponse[*accountPayload]
	resp, err := d.httpClient.R().
		SetContext(ctx).
		SetPathParam("username", username).
		SetResult(&response).
		Get("/api/v1/accounts/{username}")
	if err != nil {
		d.logger.Error("Account service call failed", zap.String("username", username), zap.Error(err))
		return nil, fmt.Errorf("failed to call account service: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound || (resp.IsSuccess() && response.Result == nil) {
		return nil, fmt.Errorf("%w: account %s", models.ErrNotFound, username)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("account service error: %s (status: %d)", response.Message, resp.StatusCode())
	}
	p := response.Result
	return &models.Account{
		Username:  p.Username,
		Role:      resolveRole(p),
		PatientID: p.PatientID,
		DoctorID:  p.DoctorID,
	}, nil
}

func resolveRole(p *accountPayload) models.Role {
	switch {
	case p.Role == string(models.RolePatient) || (p.Role == "" && p.PatientID != nil):
		return models.RolePatient
	case p.Role == string(models.RoleDoctor) || (p.Role == "" && p.DoctorID != nil):
		return models.RoleDoctor
	default:
		return models.RoleUnknown
	}
}

// ============================================
// 内存实现（开发与测试）
// ============================================

// MemoryPatientDirectory 内存账号目录
type MemoryPatientDirectory struct {
	mu       sync.RWMutex
	patients map[int64]models.Patient
	accounts map[string]models.Account
}

func NewMemoryPatientDirectory() *MemoryPatientDirectory {
	return &MemoryPatientDirectory{
		patients: map[int64]models.Patient{},
		accounts: map[string]models.Account{},
	}
}

var _ PatientDirectory = (*MemoryPatientDirectory)(nil)

// AddPatient 登记患者
func (d *MemoryPatientDirectory) AddPatient(p models.Patient) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.patients[p.ID] = p
}

// AddAccount 登记账号
func (d *MemoryPatientDirectory) AddAccount(a models.Account) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.accounts[a.Username] = a
}

func (d *MemoryPatientDirectory) GetPatient(_ context.Context, patientID int64) (*models.Patient, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.patients[patientID]
	if !ok {
		return nil, fmt.Errorf("%w: patient %d", models.ErrNotFound, patientID)
	}
	return &p, nil
}

func (d *MemoryPatientDirectory) GetAccount(_ context.Context, username string) (*models.Account, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.accounts[username]
	if !ok {
		return nil, fmt.Errorf("%w: account %s", models.ErrNotFound, username)
	}
	if a.Role == "" {
		a.Role = models.RoleUnknown
	}
	return &a, nil
}
