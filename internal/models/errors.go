package models

import "errors"

// 错误分类（调用方通过 errors.Is 判断）
var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrConflict        = errors.New("conflict")
	ErrTransport       = errors.New("transport error")
)

// ErrorKind 错误类别名称（用于 API 响应）
type ErrorKind string

const (
	KindNotFound        ErrorKind = "NotFound"
	KindInvalidArgument ErrorKind = "InvalidArgument"
	KindConflict        ErrorKind = "Conflict"
	KindTransport       ErrorKind = "TransportError"
	KindInternal        ErrorKind = "Internal"
)

// KindOf 返回错误所属类别
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidArgument):
		return KindInvalidArgument
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrTransport):
		return KindTransport
	default:
		return KindInternal
	}
}
