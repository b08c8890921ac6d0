package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Response is the response object carried by a response.done event.
type Response struct {
	ID     string       `json:"id,omitempty"`
	Status string       `json:"status,omitempty"`
	Output []OutputItem `json:"output"`
}

// OutputItem is one entry of response.output.
type OutputItem struct {
	ID        string        `json:"id,omitempty"`
	Type      string        `json:"type"`
	Role      string        `json:"role,omitempty"`
	Name      string        `json:"name,omitempty"`
	CallID    string        `json:"call_id,omitempty"`
	Arguments string        `json:"arguments,omitempty"`
	Content   []ContentPart `json:"content,omitempty"`
}

type ContentPart struct {
	Type       string  `json:"type"`
	Text       *string `json:"text,omitempty"`
	Transcript *string `json:"transcript,omitempty"`
}

// ParseResponseDone extracts the typed response from a response.done event.
func ParseResponseDone(ev Event) (Response, error) {
	if ev.Type != TypeResponseDone {
		return Response{}, fmt.Errorf("%w: expected %s, got %q", ErrDecode, TypeResponseDone, ev.Type)
	}
	raw, ok := ev.Field("response")
	if !ok || raw == nil {
		return Response{}, fmt.Errorf("%w: response.done without response", ErrDecode)
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	var resp Response
	if err := json.Unmarshal(b, &resp); err != nil {
		return Response{}, fmt.Errorf("%w: response: %v", ErrDecode, err)
	}
	return resp, nil
}

// FunctionCalls returns the function_call items in output order.
func (r Response) FunctionCalls() []OutputItem {
	var out []OutputItem
	for _, item := range r.Output {
		if item.Type == ItemTypeFunctionCall {
			out = append(out, item)
		}
	}
	return out
}

// Text returns the assistant's reply carried by the first output item: the
// audio transcript when present, otherwise the text part.
func (r Response) Text() string {
	if len(r.Output) == 0 || r.Output[0].Type != ItemTypeMessage {
		return ""
	}
	content := r.Output[0].Content
	for _, part := range content {
		if part.Transcript != nil {
			return *part.Transcript
		}
	}
	for _, part := range content {
		if part.Text != nil {
			return *part.Text
		}
	}
	return ""
}

// MessageText returns the human readable text of a chat event: the user text of
// a conversation.item.create or the assistant reply of a response.done.
func MessageText(ev Event) (string, bool) {
	switch ev.Type {
	case TypeConversationItemCreate:
		item, ok := ev.Field("item")
		if !ok {
			return "", false
		}
		m, ok := item.(map[string]any)
		if !ok || m["role"] != RoleUser {
			return "", false
		}
		content, ok := m["content"].([]any)
		if !ok || len(content) == 0 {
			return "", false
		}
		first, ok := content[0].(map[string]any)
		if !ok {
			return "", false
		}
		text, ok := first["text"].(string)
		return text, ok
	case TypeResponseDone:
		resp, err := ParseResponseDone(ev)
		if err != nil {
			return "", false
		}
		text := resp.Text()
		return text, text != ""
	default:
		return "", false
	}
}

// IsDelta reports whether typ names a partial streaming event.
func IsDelta(typ string) bool {
	return strings.Contains(typ, "delta")
}
