package httpapi

import (
	"net/http"

	"pillbox/internal/models"
)

// Result 统一响应包装
// - code: 2000 成功，-1 失败
// - type: 'success' | 'error'
// - message: string
// - result: any
type Result[T any] struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
	Result  T      `json:"result"`
}

const (
	ResultSuccess = 2000
	ResultError   = -1
)

// ErrorDetail 失败时 result 字段内容
type ErrorDetail struct {
	Kind models.ErrorKind `json:"kind"`
}

func Ok[T any](result T) Result[T] {
	return Result[T]{Code: ResultSuccess, Type: "success", Message: "ok", Result: result}
}

func Fail(message string) Result[any] {
	return Result[any]{Code: ResultError, Type: "error", Message: message, Result: nil}
}

// FailKind 带错误类别的失败响应
func FailKind(message string, kind models.ErrorKind) Result[ErrorDetail] {
	return Result[ErrorDetail]{Code: ResultError, Type: "error", Message: message, Result: ErrorDetail{Kind: kind}}
}

// statusOf 错误类别对应的 HTTP 状态码
func statusOf(kind models.ErrorKind) int {
	switch kind {
	case models.KindNotFound:
		return http.StatusNotFound
	case models.KindInvalidArgument:
		return http.StatusBadRequest
	case models.KindConflict:
		return http.StatusConflict
	case models.KindTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
