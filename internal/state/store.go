package state

import (
	"context"

	"coverletter-agent/internal/types"
)

// Store 定义了工作流会话状态的存储接口。
// 每个 userID 只保留最新一条状态，后写覆盖先写，不保留历史。
type Store interface {
	// Load 读取指定用户的状态。
	// 不存在或已过期时返回 found=false 和 nil 错误，调用方应当按新用户处理。
	Load(ctx context.Context, userID string) (state types.WorkItemState, found bool, err error)

	// Save 覆盖写入指定用户的状态，并刷新过期时间。
	Save(ctx context.Context, userID string, state types.WorkItemState) error

	// Delete 删除指定用户的状态。不存在时静默成功。
	Delete(ctx context.Context, userID string) error
}
