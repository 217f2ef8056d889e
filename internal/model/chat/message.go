package chat

import "time"

// Role 是消息角色的封闭集合，与数据库 CHECK 约束保持一致。
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the three persisted roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Message is one immutable entry of a session's append-only transcript.
// CreatedAt (millisecond precision) is the ordering key; ties fall back to
// insertion order via the auto-increment row id.
type Message struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"sessionId"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Turn 是拼装提示词上下文时使用的精简形式，只保留角色与内容。
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}
