package session_models

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single entry in a session's ordered conversation history.
// CacheControl marks the message as a provider-side cache breakpoint; at most
// one message per session may carry it.
type Message struct {
	Role         Role   `json:"role"`
	Content      string `json:"content"`
	CacheControl bool   `json:"cache_control,omitempty"`
}
