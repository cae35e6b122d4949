package handler

// Keys set on the gin context by the auth middleware.
const (
	ContextUserID = "user_id"
	ContextRole   = "role"
)
