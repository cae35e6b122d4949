package rbac

// 权限常量
const (
	PermissionReadPipeline   = "pipeline:read"
	PermissionManagePipeline = "pipeline:manage"

	PermissionReadDeal   = "deal:read"
	PermissionWriteDeal  = "deal:write"
	PermissionDeleteDeal = "deal:delete"

	PermissionReadAnalytics = "analytics:read"
)

// 角色常量
const (
	RoleAgent   = "agent"
	RoleManager = "manager"
	RoleAdmin   = "admin"
)

// 角色权限映射，高级角色包含低级角色的全部权限
var rolePermissions = map[string][]string{
	RoleAgent: {
		PermissionReadPipeline,
		PermissionReadDeal,
		PermissionWriteDeal,
	},
	RoleManager: {
		PermissionReadPipeline,
		PermissionReadDeal,
		PermissionWriteDeal,
		PermissionDeleteDeal,
		PermissionReadAnalytics,
	},
	RoleAdmin: {
		PermissionReadPipeline,
		PermissionManagePipeline,
		PermissionReadDeal,
		PermissionWriteDeal,
		PermissionDeleteDeal,
		PermissionReadAnalytics,
	},
}

// IsKnownRole 判断角色是否存在
func IsKnownRole(role string) bool {
	_, ok := rolePermissions[role]
	return ok
}

// HasPermission 检查角色是否有指定权限
func HasPermission(role string, permission string) bool {
	for _, p := range rolePermissions[role] {
		if p == permission {
			return true
		}
	}
	return false
}

// CheckPermission 检查用户是否有指定权限（返回错误而不是布尔值，便于处理）
func CheckPermission(userID, role, permission string) error {
	if !HasPermission(role, permission) {
		return &PermissionDeniedError{
			UserID:     userID,
			Role:       role,
			Permission: permission,
		}
	}
	return nil
}

// PermissionDeniedError 表示权限不足的错误
type PermissionDeniedError struct {
	UserID     string
	Role       string
	Permission string
}

func (e *PermissionDeniedError) Error() string {
	return "insufficient permissions: " + e.Permission + " required"
}
