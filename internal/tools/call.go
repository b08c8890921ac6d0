// Package tools models the document-editing functions the assistant may call
// and runs them against the document service.
package tools

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Function names understood by the document service.
const (
	NameEditParagraph = "editParagraph"
	NameAddParagraph  = "addParagraph"
	NameDeleteText    = "deleteText"
)

// ErrInvalidArguments is returned when a recognized function is called with
// arguments that do not match its parameter list.
var ErrInvalidArguments = errors.New("tools: invalid arguments")

// Call is a decoded function call. The concrete type is one of EditParagraph,
// AddParagraph, DeleteText or Unknown.
type Call interface {
	Name() string
	// Arguments returns the argument object sent to the document service.
	Arguments() map[string]string
	isCall()
}

// EditParagraph replaces a paragraph of the document.
type EditParagraph struct {
	OldParagraph string
	NewParagraph string
}

func (EditParagraph) Name() string { return NameEditParagraph }
func (c EditParagraph) Arguments() map[string]string {
	return map[string]string{"oldParagraph": c.OldParagraph, "newParagraph": c.NewParagraph}
}
func (EditParagraph) isCall() {}

// AddParagraph inserts a paragraph after the one containing TextBefore.
type AddParagraph struct {
	TextBefore string
	AddedText  string
}

func (AddParagraph) Name() string { return NameAddParagraph }
func (c AddParagraph) Arguments() map[string]string {
	return map[string]string{"textBefore": c.TextBefore, "addedText": c.AddedText}
}
func (AddParagraph) isCall() {}

// DeleteText removes a span of text.
type DeleteText struct {
	Text string
}

func (DeleteText) Name() string { return NameDeleteText }
func (c DeleteText) Arguments() map[string]string {
	return map[string]string{"text": c.Text}
}
func (DeleteText) isCall() {}

// Unknown is a call to a function this client does not implement. It is never
// executed.
type Unknown struct {
	FunctionName string
	Raw          string
}

func (c Unknown) Name() string                { return c.FunctionName }
func (Unknown) Arguments() map[string]string { return nil }
func (Unknown) isCall()                      {}

// Decode turns a function_call output item into a Call. Unrecognized names
// yield Unknown with a nil error; recognized names with malformed arguments
// yield ErrInvalidArguments.
func Decode(name, arguments string) (Call, error) {
	switch name {
	case NameEditParagraph:
		args, err := stringArgs(name, arguments, "oldParagraph", "newParagraph")
		if err != nil {
			return nil, err
		}
		return EditParagraph{OldParagraph: args["oldParagraph"], NewParagraph: args["newParagraph"]}, nil
	case NameAddParagraph:
		args, err := stringArgs(name, arguments, "textBefore", "addedText")
		if err != nil {
			return nil, err
		}
		return AddParagraph{TextBefore: args["textBefore"], AddedText: args["addedText"]}, nil
	case NameDeleteText:
		args, err := stringArgs(name, arguments, "text")
		if err != nil {
			return nil, err
		}
		return DeleteText{Text: args["text"]}, nil
	default:
		return Unknown{FunctionName: name, Raw: arguments}, nil
	}
}

// stringArgs parses a JSON object whose keys are exactly want and whose values
// are all strings.
func stringArgs(name, arguments string, want ...string) (map[string]string, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(strings.TrimSpace(arguments))))
	var raw map[string]json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidArguments, name, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: %s: arguments must be an object", ErrInvalidArguments, name)
	}
	if len(raw) != len(want) {
		got := make([]string, 0, len(raw))
		for k := range raw {
			got = append(got, k)
		}
		sort.Strings(got)
		return nil, fmt.Errorf("%w: %s takes %d arguments (%s), got %d (%s)",
			ErrInvalidArguments, name, len(want), strings.Join(want, ", "), len(raw), strings.Join(got, ", "))
	}

	out := make(map[string]string, len(want))
	for _, key := range want {
		v, ok := raw[key]
		if !ok {
			return nil, fmt.Errorf("%w: %s: missing %s", ErrInvalidArguments, name, key)
		}
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return nil, fmt.Errorf("%w: %s: %s must be a string", ErrInvalidArguments, name, key)
		}
		out[key] = s
	}
	return out, nil
}
