package llm

import "fmt"

// Role identifies the author of a chat message.
type Role string

const (
	// RoleSystem is the system prompt author.
	RoleSystem Role = "system"
	// RoleUser is the human author.
	RoleUser Role = "user"
	// RoleAssistant is the model author.
	RoleAssistant Role = "assistant"
)

type (
	// ChatMessage is one turn of a conversation.
	ChatMessage struct {
		Role    Role   `json:"role"`
		Content string `json:"content"`
	}

	// Chat is an ordered conversation history passed to Respond. The zero
	// value is an empty conversation.
	Chat struct {
		messages []ChatMessage
	}
)

// NewChat constructs a conversation, optionally seeded with a system prompt.
// Pass the empty string to omit it.
func NewChat(systemPrompt string) *Chat {
	c := &Chat{}
	if systemPrompt != "" {
		c.messages = append(c.messages, ChatMessage{Role: RoleSystem, Content: systemPrompt})
	}
	return c
}

// AddUserMessage appends a user turn.
func (c *Chat) AddUserMessage(content string) *Chat {
	c.messages = append(c.messages, ChatMessage{Role: RoleUser, Content: content})
	return c
}

// AddAssistantMessage appends an assistant turn.
func (c *Chat) AddAssistantMessage(content string) *Chat {
	c.messages = append(c.messages, ChatMessage{Role: RoleAssistant, Content: content})
	return c
}

// Messages returns a copy of the conversation in order.
func (c *Chat) Messages() []ChatMessage {
	return append([]ChatMessage(nil), c.messages...)
}

// LastUserMessage returns the content of the most recent user turn, or the
// empty string when there is none.
func (c *Chat) LastUserMessage() string {
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].Role == RoleUser {
			return c.messages[i].Content
		}
	}
	return ""
}

// validate rejects empty conversations and unknown roles before any channel
// traffic.
func (c *Chat) validate() error {
	if c == nil || len(c.messages) == 0 {
		return &ValidationError{Param: "chat", Err: fmt.Errorf("conversation is empty")}
	}
	for i, m := range c.messages {
		switch m.Role {
		case RoleSystem, RoleUser, RoleAssistant:
		default:
			return &ValidationError{
				Param: fmt.Sprintf("chat.%d.role", i),
				Err:   fmt.Errorf("unknown role %q", m.Role),
			}
		}
	}
	return nil
}
