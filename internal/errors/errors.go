// Package errors 定义带错误码的统一错误类型。
//
// 每个错误码在注册表中登记默认文案、严重程度、是否可重试以及对外的 HTTP 状态，
// 具体错误可以通过 Option 覆盖这些默认值。
package errors

import (
	stdErrors "errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"sync"
)

// Code 表示系统内的统一错误码。
type Code string

// Severity 描述错误的严重程度，决定失败日志的级别。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Level 把严重程度映射为 slog 级别。
func (s Severity) Level() slog.Level {
	switch s {
	case SeverityCritical:
		return slog.LevelError
	case SeverityWarning:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// Attributes 是错误码的默认行为。HTTPStatus 为 0 时按 500 处理。
type Attributes struct {
	Message    string
	Severity   Severity
	Retryable  bool
	HTTPStatus int
}

const (
	CodeUnknown               Code = "UNKNOWN"
	CodeInvalidArgument       Code = "INVALID_ARGUMENT"
	CodeNotFound              Code = "NOT_FOUND"
	CodeConflict              Code = "CONFLICT"
	CodeInitializationFailure Code = "INITIALIZATION_FAILURE"
	CodeStorageFailure        Code = "STORAGE_FAILURE"
	CodeQueueFailure          Code = "QUEUE_FAILURE"
	CodeTimeout               Code = "TIMEOUT"

	// 编排过程中的错误码。
	CodeSetupFailure      Code = "SETUP_FAILURE"
	CodeBackendFailure    Code = "BACKEND_FAILURE"
	CodeMalformedResponse Code = "MALFORMED_RESPONSE"
	CodeStepLimitExceeded Code = "STEP_LIMIT_EXCEEDED"
	CodeCancelled         Code = "CANCELLED"
)

var (
	registryMu sync.RWMutex
	registry   = map[Code]Attributes{}
)

func init() {
	for code, attr := range map[Code]Attributes{
		CodeUnknown:               {"unknown error", SeverityCritical, false, http.StatusInternalServerError},
		CodeInvalidArgument:       {"invalid argument", SeverityInfo, false, http.StatusBadRequest},
		CodeNotFound:              {"resource not found", SeverityInfo, false, http.StatusNotFound},
		CodeConflict:              {"resource conflict", SeverityWarning, false, http.StatusConflict},
		CodeInitializationFailure: {"service not initialized", SeverityWarning, true, http.StatusServiceUnavailable},
		CodeStorageFailure:        {"storage failure", SeverityCritical, true, http.StatusInternalServerError},
		CodeQueueFailure:          {"queue failure", SeverityCritical, true, http.StatusServiceUnavailable},
		CodeTimeout:               {"operation timed out", SeverityWarning, true, http.StatusGatewayTimeout},
		CodeSetupFailure:          {"run setup failed", SeverityCritical, false, http.StatusInternalServerError},
		CodeBackendFailure:        {"backend call failed", SeverityWarning, true, http.StatusBadGateway},
		CodeMalformedResponse:     {"malformed backend response", SeverityWarning, false, http.StatusBadGateway},
		CodeStepLimitExceeded:     {"step limit exceeded", SeverityCritical, false, http.StatusInternalServerError},
		CodeCancelled:             {"run cancelled", SeverityInfo, false, http.StatusServiceUnavailable},
	} {
		Register(code, attr)
	}
}

// Register 登记或覆盖错误码的默认行为，供各业务包在 init 中调用。
func Register(code Code, attr Attributes) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[code] = attr
}

// AttributesOf 返回错误码的默认行为，未登记的错误码按 UNKNOWN 处理。
func AttributesOf(code Code) Attributes {
	if attr, ok := lookup(code); ok {
		return attr
	}
	attr, _ := lookup(CodeUnknown)
	return attr
}

func lookup(code Code) (Attributes, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	attr, ok := registry[code]
	return attr, ok
}

// Error 是系统内统一的错误类型。
type Error struct {
	code      Code
	message   string
	cause     error
	metadata  map[string]string
	retryable *bool
	severity  *Severity
}

// Option 调整单个错误的属性。
type Option func(*Error)

// WithMetadata 附加一个键值对，重复的键以最后一次为准。
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = map[string]string{}
		}
		e.metadata[key] = value
	}
}

// WithRetryable 覆盖错误码默认的可重试属性。
func WithRetryable(retryable bool) Option {
	return func(e *Error) { e.retryable = &retryable }
}

// WithSeverity 覆盖错误码默认的严重程度。
func WithSeverity(sev Severity) Option {
	return func(e *Error) { e.severity = &sev }
}

// New 创建错误。message 为空时使用错误码登记的默认文案。
func New(code Code, message string, opts ...Option) *Error {
	e := &Error{code: code, message: message}
	if e.message == "" {
		e.message = AttributesOf(code).Message
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Wrap 与 New 相同，但保留 cause 以便 errors.Is/As 继续向下查找。
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := "[" + string(e.code) + "] " + e.message
	if e.cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.cause)
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is 按错误码比较，两个不同实例只要错误码相同即视为匹配。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e != nil && t != nil && e.code == t.code
}

// Code 返回错误码，nil 接收者返回 UNKNOWN。
func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Message 返回不含错误码与 cause 的文案。
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Metadata 返回附加信息的副本。
func (e *Error) Metadata() map[string]string {
	if e == nil || len(e.metadata) == 0 {
		return nil
	}
	return maps.Clone(e.metadata)
}

func (e *Error) Retryable() bool {
	switch {
	case e == nil:
		return false
	case e.retryable != nil:
		return *e.retryable
	default:
		return AttributesOf(e.code).Retryable
	}
}

func (e *Error) Severity() Severity {
	switch {
	case e == nil:
		return SeverityInfo
	case e.severity != nil:
		return *e.severity
	default:
		return AttributesOf(e.code).Severity
	}
}

// From 取出错误链上最外层的 *Error。
func From(err error) (*Error, bool) {
	var target *Error
	if err == nil || !stdErrors.As(err, &target) {
		return nil, false
	}
	return target, true
}

// CodeOf 返回最外层 *Error 的错误码，普通 error 返回 UNKNOWN。
func CodeOf(err error) Code {
	e, _ := From(err)
	return e.Code()
}

// HasCode 判断错误链上是否出现过指定错误码。
func HasCode(err error, code Code) bool {
	return walk(err, func(e *Error) bool { return e.code == code }) != nil
}

// RetryableError 判断任意 error 是否可重试。
func RetryableError(err error) bool {
	e, _ := From(err)
	return e.Retryable()
}

// SeverityOf 返回错误的严重程度，普通 error 视为 critical。
func SeverityOf(err error) Severity {
	if e, ok := From(err); ok {
		return e.Severity()
	}
	return AttributesOf(CodeUnknown).Severity
}

// HTTPStatusOf 返回错误链上第一个登记了 HTTP 状态的错误码对应的状态，找不到时返回 500。
func HTTPStatusOf(err error) int {
	status := http.StatusInternalServerError
	walk(err, func(e *Error) bool {
		attr, ok := lookup(e.code)
		if ok && attr.HTTPStatus != 0 {
			status = attr.HTTPStatus
			return true
		}
		return false
	})
	return status
}

func walk(err error, match func(*Error) bool) *Error {
	for err != nil {
		if e, ok := err.(*Error); ok && match(e) {
			return e
		}
		err = stdErrors.Unwrap(err)
	}
	return nil
}
