package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrNoPriorGeneration 修改请求没有可供修改的历史回复
	ErrNoPriorGeneration = errors.New("no prior generation to revise")
	// ErrMissingContext 修改需要生成上下文，但状态里没有且调用方也没提供
	ErrMissingContext = errors.New("generation context is missing, supply the vacancy again")
	// ErrPersistenceUnavailable 状态存储读写失败
	ErrPersistenceUnavailable = errors.New("workflow state persistence unavailable")
	// ErrInvalidRequest 请求参数不合法
	ErrInvalidRequest = errors.New("invalid workflow request")
)

// PersistenceError 状态存储失败，与大模型调用失败区分开，调用方可整体重试
type PersistenceError struct {
	Op     string // load / save / delete
	UserID string
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("workflow state %s for user %s failed: %v", e.Op, e.UserID, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Is 使 errors.Is(err, ErrPersistenceUnavailable) 成立
func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistenceUnavailable
}
