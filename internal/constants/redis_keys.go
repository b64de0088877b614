package constants

// Redis Key 前缀和格式常量
// 使用统一的命名规范: app:{module}:{entity}:{unique_id}
const (
	// AppPrefix 是所有Redis Key的统一应用前缀
	AppPrefix = "app"

	// WorkflowModulePrefix 回复生成工作流模块
	WorkflowModulePrefix = "workflow"

	// EntityState 会话状态实体
	EntityState = "state"

	// KeyWorkflowStatePrefix 工作流会话状态 (STRING, JSON)
	// 格式: app:workflow:state:{userID}
	KeyWorkflowStatePrefix = AppPrefix + ":" + WorkflowModulePrefix + ":" + EntityState + ":"
)
