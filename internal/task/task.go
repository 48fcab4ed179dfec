package task

import (
	stdErrors "errors"
	"net/http"

	xerrors "LeadFlow/internal/errors"
	"LeadFlow/internal/state"
)

// Status 表示运行任务在生命周期中的状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	// StatusAborted 表示运行因步数耗尽或取消而中止，Result 中保留了部分线索。
	StatusAborted Status = "aborted"
)

// RunSummary 保存一次运行结束时的结果。
type RunSummary struct {
	Steps      int             `json:"steps"`
	Aborted    bool            `json:"aborted"`
	Leads      []state.Lead    `json:"leads"`
	Transcript []state.Message `json:"transcript,omitempty"`
	StartedAt  int64           `json:"started_at,omitempty"`
	FinishedAt int64           `json:"finished_at,omitempty"`
}

// Task 描述排队执行的一次线索挖掘运行。
type Task struct {
	ID           string      `json:"id"`
	Instructions string      `json:"instructions"`
	Status       Status      `json:"status"`
	Attempts     int         `json:"attempts"`
	MaxRetries   int         `json:"max_retries"`
	LastError    string      `json:"last_error,omitempty"`
	ErrorCode    string      `json:"error_code,omitempty"`
	Result       *RunSummary `json:"result,omitempty"`
	CreatedAt    int64       `json:"created_at"`
	UpdatedAt    int64       `json:"updated_at"`
}

// Terminal 判断任务是否已经不会再被执行。
func (t *Task) Terminal() bool {
	switch t.Status {
	case StatusSucceeded, StatusAborted:
		return true
	case StatusFailed:
		return t.Attempts >= t.MaxRetries
	}
	return false
}

// interruptedMessage 是进程退出时仍在运行的任务被记下的错误文案。
const interruptedMessage = "运行在进程退出时中断"

var (
	// ErrTaskNotFound 表示指定的任务不存在。
	ErrTaskNotFound = xerrors.New(CodeTaskNotFound, "task not found")
	// ErrTaskConflict 表示任务在当前状态下无法进行所请求的操作。
	ErrTaskConflict = xerrors.New(CodeTaskConflict, "task conflict")
	// ErrTaskCompleted 表示任务已经结束（成功或中止）。
	ErrTaskCompleted = xerrors.New(CodeTaskCompleted, "task already completed")
	// ErrTaskExhausted 表示任务的重试次数已经耗尽。
	ErrTaskExhausted = xerrors.New(CodeTaskExhausted, "task retries exhausted")
)

const (
	CodeTaskNotFound   xerrors.Code = "TASK_NOT_FOUND"
	CodeTaskConflict   xerrors.Code = "TASK_CONFLICT"
	CodeTaskCompleted  xerrors.Code = "TASK_COMPLETED"
	CodeTaskExhausted  xerrors.Code = "TASK_RETRIES_EXHAUSTED"
	CodeTaskValidation xerrors.Code = "TASK_VALIDATION_FAILED"
	CodeTaskPublish    xerrors.Code = "TASK_PUBLISH_FAILED"
	CodeTaskProcessing xerrors.Code = "TASK_PROCESSING_FAILED"
)

func init() {
	for code, attr := range map[xerrors.Code]xerrors.Attributes{
		CodeTaskNotFound:   {Message: "task not found", Severity: xerrors.SeverityInfo, HTTPStatus: http.StatusNotFound},
		CodeTaskConflict:   {Message: "task conflict", Severity: xerrors.SeverityWarning, HTTPStatus: http.StatusConflict},
		CodeTaskCompleted:  {Message: "task already completed", Severity: xerrors.SeverityInfo, HTTPStatus: http.StatusConflict},
		CodeTaskExhausted:  {Message: "task retries exhausted", Severity: xerrors.SeverityCritical, HTTPStatus: http.StatusConflict},
		CodeTaskValidation: {Message: "task validation failed", Severity: xerrors.SeverityInfo, HTTPStatus: http.StatusBadRequest},
		CodeTaskPublish:    {Message: "failed to publish task", Severity: xerrors.SeverityCritical, Retryable: true, HTTPStatus: http.StatusServiceUnavailable},
		CodeTaskProcessing: {Message: "task execution failed", Severity: xerrors.SeverityWarning, Retryable: true},
	} {
		xerrors.Register(code, attr)
	}
}

// IsTaskError 判断错误是否为指定的任务错误。
func IsTaskError(err error, target xerrors.Code) bool {
	if err == nil {
		return false
	}
	for _, known := range []*xerrors.Error{ErrTaskNotFound, ErrTaskConflict, ErrTaskCompleted, ErrTaskExhausted} {
		if stdErrors.Is(err, known) {
			return known.Code() == target
		}
	}
	return false
}

// IsValidStatus 检查给定的任务状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusRunning, StatusSucceeded, StatusFailed, StatusAborted:
		return true
	default:
		return false
	}
}

func cloneSummary(summary *RunSummary) *RunSummary {
	if summary == nil {
		return nil
	}
	clone := *summary
	clone.Leads = state.CloneLeads(summary.Leads)
	if summary.Transcript != nil {
		clone.Transcript = append([]state.Message(nil), summary.Transcript...)
	}
	return &clone
}

func cloneTask(task *Task) *Task {
	clone := *task
	clone.Result = cloneSummary(task.Result)
	return &clone
}
