package protocol

// Event types used by the session client.
const (
	TypeSessionUpdate          = "session.update"
	TypeConversationItemCreate = "conversation.item.create"
	TypeResponseCreate         = "response.create"

	TypeSessionCreated = "session.created"
	TypeSessionUpdated = "session.updated"
	TypeResponseDone   = "response.done"
	TypeError          = "error"
)

// Conversation item and content types.
const (
	ItemTypeMessage            = "message"
	ItemTypeFunctionCall       = "function_call"
	ItemTypeFunctionCallOutput = "function_call_output"

	ContentTypeInputText = "input_text"

	RoleUser = "user"
)

// ToolChoiceAuto lets the model decide when to call tools.
const ToolChoiceAuto = "auto"

// UserText builds the conversation.item.create event carrying a user text
// message.
func UserText(text string) Event {
	return NewEvent(TypeConversationItemCreate, map[string]any{
		"item": map[string]any{
			"type": ItemTypeMessage,
			"role": RoleUser,
			"content": []any{
				map[string]any{
					"type": ContentTypeInputText,
					"text": text,
				},
			},
		},
	})
}

// ResponseCreate asks the model to produce a response to the conversation so far.
func ResponseCreate() Event {
	return NewEvent(TypeResponseCreate, nil)
}

// ResponseCreateWithInstructions is ResponseCreate with per-response instructions.
func ResponseCreateWithInstructions(instructions string) Event {
	return NewEvent(TypeResponseCreate, map[string]any{
		"response": map[string]any{
			"instructions": instructions,
		},
	})
}

// FunctionCallOutput reports the result of a tool call back to the model.
func FunctionCallOutput(callID, output string) Event {
	return NewEvent(TypeConversationItemCreate, map[string]any{
		"item": map[string]any{
			"type":    ItemTypeFunctionCallOutput,
			"call_id": callID,
			"output":  output,
		},
	})
}

// SessionConfig is the body of a session.update event.
type SessionConfig struct {
	// Tools are JSON-encodable function definitions.
	Tools        []any
	ToolChoice   string
	Instructions string
}

// SessionUpdate builds a session.update event. Empty fields are omitted.
func SessionUpdate(cfg SessionConfig) Event {
	session := map[string]any{}
	if len(cfg.Tools) > 0 {
		session["tools"] = cfg.Tools
	}
	if cfg.ToolChoice != "" {
		session["tool_choice"] = cfg.ToolChoice
	}
	if cfg.Instructions != "" {
		session["instructions"] = cfg.Instructions
	}
	return NewEvent(TypeSessionUpdate, map[string]any{"session": session})
}
