package domain

// Role defines the sender of a conversation message.
type Role string

const (
	// RoleUser indicates a message typed by the human.
	RoleUser Role = "user"
	// RoleAssistant indicates a reply fragment delivered by the agent.
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// LogLevel is the severity of a log panel entry.
type LogLevel string

const (
	LevelError LogLevel = "ERROR"
	LevelWarn  LogLevel = "WARN"
	LevelInfo  LogLevel = "INFO"
	LevelDebug LogLevel = "DEBUG"
)
