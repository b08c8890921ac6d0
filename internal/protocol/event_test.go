package protocol

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func TestDecode_LiftsTypeAndIDAndKeepsPayload(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"session.created","event_id":"event_abc","session":{"id":"sess_1","tools":[]},"n":12345678901234567}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ev.Type != TypeSessionCreated {
		t.Fatalf("type=%q, want %q", ev.Type, TypeSessionCreated)
	}
	if ev.ID != "event_abc" {
		t.Fatalf("id=%q, want event_abc", ev.ID)
	}
	if _, ok := ev.Payload["type"]; ok {
		t.Fatalf("type leaked into payload: %v", ev.Payload)
	}
	if got := ev.Payload["n"]; got != json.Number("12345678901234567") {
		t.Fatalf("n=%#v, want exact json.Number", got)
	}

	wire, err := Encode(ev)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	again, err := Decode([]byte(wire))
	if err != nil {
		t.Fatalf("Decode(Encode): %v", err)
	}
	if !reflect.DeepEqual(ev, again) {
		t.Fatalf("round trip changed event:\n got %#v\nwant %#v", again, ev)
	}
}

func TestDecode_Malformed(t *testing.T) {
	cases := map[string]string{
		"empty":           ``,
		"not json":        `hello`,
		"array":           `[1,2]`,
		"truncated":       `{"type":"x"`,
		"trailing":        `{"type":"x"} {}`,
		"non-string type": `{"type":1}`,
		"non-string id":   `{"type":"x","event_id":7}`,
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Decode([]byte(in)); !errors.Is(err, ErrDecode) {
				t.Fatalf("Decode(%q) err=%v, want ErrDecode", in, err)
			}
		})
	}
}

func TestIsClientOriginated(t *testing.T) {
	if (Event{ID: "event_123"}).IsClientOriginated() {
		t.Fatalf("server id classified as client")
	}
	if !(Event{ID: NewEventID()}).IsClientOriginated() {
		t.Fatalf("uuid id classified as server")
	}
	if (Event{}).IsClientOriginated() {
		t.Fatalf("missing id classified as client")
	}
}

func TestNewEventID_Unique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		id := NewEventID()
		if id == "" {
			t.Fatalf("empty id")
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = struct{}{}
	}
}

func TestClone_IsDeep(t *testing.T) {
	ev := UserText("hello")
	cp := ev.Clone()

	item := cp.Payload["item"].(map[string]any)
	item["role"] = "assistant"

	if text, ok := MessageText(ev); !ok || text != "hello" {
		t.Fatalf("original mutated through clone: %q %v", text, ok)
	}
}

func TestUserText_Shape(t *testing.T) {
	wire, err := Encode(UserText("hello"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var got struct {
		Type    string `json:"type"`
		EventID string `json:"event_id"`
		Item    struct {
			Type    string `json:"type"`
			Role    string `json:"role"`
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"item"`
	}
	if err := json.Unmarshal([]byte(wire), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Type != TypeConversationItemCreate || got.Item.Role != RoleUser || got.Item.Type != ItemTypeMessage {
		t.Fatalf("unexpected item: %+v", got)
	}
	if len(got.Item.Content) != 1 || got.Item.Content[0].Text != "hello" || got.Item.Content[0].Type != ContentTypeInputText {
		t.Fatalf("unexpected content: %+v", got.Item.Content)
	}
	if got.EventID != "" {
		t.Fatalf("event_id set before send: %q", got.EventID)
	}
}

func TestSessionUpdate_OmitsEmptyFields(t *testing.T) {
	ev := SessionUpdate(SessionConfig{ToolChoice: ToolChoiceAuto})
	session := ev.Payload["session"].(map[string]any)
	if _, ok := session["instructions"]; ok {
		t.Fatalf("instructions present without document: %v", session)
	}
	if session["tool_choice"] != ToolChoiceAuto {
		t.Fatalf("tool_choice=%v", session["tool_choice"])
	}
}
