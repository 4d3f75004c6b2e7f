package model

import "errors"

// Error 定义控制面操作可能返回的错误类型
type Error struct {
	Code    int
	Message string
}

// Error 实现error接口
func (e *Error) Error() string {
	return e.Message
}

// 定义错误代码
const (
	// ErrNotFound 资源不存在
	ErrNotFound = iota + 1
	// ErrConflict 资源冲突（重复部署、试探调用冲突）
	ErrConflict
	// ErrInvalidArgument 参数无效
	ErrInvalidArgument
	// ErrUnavailable 后端不可达
	ErrUnavailable
	// ErrIndeterminate 操作结果未知（超时后无法确认）
	ErrIndeterminate
	// ErrInternal 内部错误
	ErrInternal
)

// NewNotFoundError 创建资源不存在错误
func NewNotFoundError(message string) *Error {
	return &Error{
		Code:    ErrNotFound,
		Message: message,
	}
}

// NewConflictError 创建资源冲突错误
func NewConflictError(message string) *Error {
	return &Error{
		Code:    ErrConflict,
		Message: message,
	}
}

// NewInvalidArgumentError 创建参数无效错误
func NewInvalidArgumentError(message string) *Error {
	return &Error{
		Code:    ErrInvalidArgument,
		Message: message,
	}
}

// NewUnavailableError 创建后端不可达错误
func NewUnavailableError(message string) *Error {
	return &Error{
		Code:    ErrUnavailable,
		Message: message,
	}
}

// NewIndeterminateError 创建结果未知错误
func NewIndeterminateError(message string) *Error {
	return &Error{
		Code:    ErrIndeterminate,
		Message: message,
	}
}

// NewInternalError 创建内部错误
func NewInternalError(message string) *Error {
	return &Error{
		Code:    ErrInternal,
		Message: message,
	}
}

// ErrorCode 返回错误代码，非本类型错误返回ErrInternal
func ErrorCode(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrInternal
}

// IsNotFound 判断是否为资源不存在错误
func IsNotFound(err error) bool {
	return ErrorCode(err) == ErrNotFound
}

// IsConflict 判断是否为资源冲突错误
func IsConflict(err error) bool {
	return ErrorCode(err) == ErrConflict
}

// IsInvalidArgument 判断是否为参数无效错误
func IsInvalidArgument(err error) bool {
	return ErrorCode(err) == ErrInvalidArgument
}

// IsUnavailable 判断是否为后端不可达错误
func IsUnavailable(err error) bool {
	return ErrorCode(err) == ErrUnavailable
}

// IsIndeterminate 判断是否为结果未知错误
func IsIndeterminate(err error) bool {
	return ErrorCode(err) == ErrIndeterminate
}
