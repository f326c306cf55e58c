package models

import (
	"fmt"
	"strings"
)

// ValidationError 输入校验错误（缺少必需列、序列为空等），流水线在检测前终止
type ValidationError struct {
	Reason  string
	Missing []string
}

func (e *ValidationError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("%s: %s", e.Reason, strings.Join(e.Missing, ", "))
	}
	return e.Reason
}

// ErrEmptySeries 序列为空
var ErrEmptySeries = &ValidationError{Reason: "vitals series is empty"}

// NewMissingColumnsError 缺少必需列
func NewMissingColumnsError(missing []string) *ValidationError {
	return &ValidationError{
		Reason:  "missing required columns",
		Missing: missing,
	}
}
