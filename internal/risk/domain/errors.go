package domain

import (
	"errors"
	"fmt"
)

// ErrorKind 错误分类，调用方据此分支处理
type ErrorKind string

const (
	KindInsufficientData  ErrorKind = "INSUFFICIENT_DATA"
	KindMisalignedSeries  ErrorKind = "MISALIGNED_SERIES"
	KindEmptyPortfolio    ErrorKind = "EMPTY_PORTFOLIO"
	KindInvalidTransition ErrorKind = "INVALID_TRANSITION"
	KindConfiguration     ErrorKind = "CONFIGURATION_ERROR"
	KindInvalidInput      ErrorKind = "INVALID_INPUT"
	KindNotFound          ErrorKind = "NOT_FOUND"
)

// 哨兵错误，配合 errors.Is 使用
var (
	ErrInsufficientData  = &RiskError{Kind: KindInsufficientData}
	ErrMisalignedSeries  = &RiskError{Kind: KindMisalignedSeries}
	ErrEmptyPortfolio    = &RiskError{Kind: KindEmptyPortfolio}
	ErrInvalidTransition = &RiskError{Kind: KindInvalidTransition}
	ErrConfiguration     = &RiskError{Kind: KindConfiguration}
	ErrInvalidInput      = &RiskError{Kind: KindInvalidInput}
	ErrNotFound          = &RiskError{Kind: KindNotFound}
)

// RiskError 结构化错误 (kind + 上下文)
type RiskError struct {
	Kind    ErrorKind
	Op      string // 出错的操作，例如 "sharpe" / "alert.acknowledge"
	Field   string // 相关字段或实体 ID
	Message string
	Err     error
}

func (e *RiskError) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Field != "" {
		msg += " [" + e.Field + "]"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RiskError) Unwrap() error { return e.Err }

// Is 按 Kind 比较，使 errors.Is(err, ErrNotFound) 对任意上下文的同类错误成立
func (e *RiskError) Is(target error) bool {
	var t *RiskError
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

func newError(kind ErrorKind, op, field, format string, args ...any) *RiskError {
	return &RiskError{Kind: kind, Op: op, Field: field, Message: fmt.Sprintf(format, args...)}
}

// KindOf 提取错误分类，非 RiskError 返回空串
func KindOf(err error) ErrorKind {
	var re *RiskError
	if errors.As(err, &re) {
		return re.Kind
	}
	return ""
}

// NotFound 构造实体不存在错误
func NotFound(entity, id string) error {
	return newError(KindNotFound, entity, id, "not found")
}
