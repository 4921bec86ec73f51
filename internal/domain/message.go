package domain

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the roles the message log accepts.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Kind separates real conversation content from locally generated fallback bubbles.
type Kind string

const (
	KindContent  Kind = "content"
	KindFallback Kind = "fallback"
)

// DefaultFallbackMessage is the assistant text shown when no reply arrives.
const DefaultFallbackMessage = "A system error prevented a response. Please try again shortly."

// Message is a single persisted entry of the message log.
type Message struct {
	ID      int64
	Role    Role
	Content string
	Kind    Kind
}

// Meta is a record of the metadata collection.
type Meta struct {
	Key   string
	Value string
}
