package tools

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Definition is a function tool advertised to the model in session.update.
type Definition struct {
	Type        string     `json:"type" yaml:"type"`
	Name        string     `json:"name" yaml:"name"`
	Description string     `json:"description,omitempty" yaml:"description"`
	Parameters  Parameters `json:"parameters" yaml:"parameters"`
}

type Parameters struct {
	Type       string              `json:"type" yaml:"type"`
	Properties map[string]Property `json:"properties" yaml:"properties"`
	Required   []string            `json:"required,omitempty" yaml:"required"`
}

type Property struct {
	Type        string `json:"type" yaml:"type"`
	Description string `json:"description,omitempty" yaml:"description"`
}

func stringParam(description string) Property {
	return Property{Type: "string", Description: description}
}

// Builtin returns the definitions for the functions the document service
// implements.
func Builtin() []Definition {
	return []Definition{
		{
			Type:        "function",
			Name:        NameEditParagraph,
			Description: "Replace a paragraph of the document with new text",
			Parameters: Parameters{
				Type: "object",
				Properties: map[string]Property{
					"oldParagraph": stringParam("Exact text of the paragraph to replace"),
					"newParagraph": stringParam("Text that replaces it"),
				},
				Required: []string{"oldParagraph", "newParagraph"},
			},
		},
		{
			Type:        "function",
			Name:        NameAddParagraph,
			Description: "Insert a new paragraph after the paragraph containing some text",
			Parameters: Parameters{
				Type: "object",
				Properties: map[string]Property{
					"textBefore": stringParam("Text of the paragraph after which to insert"),
					"addedText":  stringParam("Text of the new paragraph"),
				},
				Required: []string{"textBefore", "addedText"},
			},
		},
		{
			Type:        "function",
			Name:        NameDeleteText,
			Description: "Delete a span of text from the document",
			Parameters: Parameters{
				Type: "object",
				Properties: map[string]Property{
					"text": stringParam("Exact text to delete"),
				},
				Required: []string{"text"},
			},
		},
	}
}

// LoadDefinitions reads a list of definitions from a YAML file. JSON arrays are
// valid YAML and load the same way.
func LoadDefinitions(path string) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseDefinitions(data)
}

func ParseDefinitions(data []byte) ([]Definition, error) {
	var defs []Definition
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("parse tool definitions: %w", err)
	}
	if len(defs) == 0 {
		return nil, errors.New("tool definitions: empty list")
	}
	seen := make(map[string]struct{}, len(defs))
	for i := range defs {
		d := &defs[i]
		if d.Type == "" {
			d.Type = "function"
		}
		if d.Parameters.Type == "" {
			d.Parameters.Type = "object"
		}
		if d.Name == "" {
			return nil, fmt.Errorf("tool definitions[%d]: missing name", i)
		}
		if _, dup := seen[d.Name]; dup {
			return nil, fmt.Errorf("tool definitions[%d]: duplicate name %q", i, d.Name)
		}
		seen[d.Name] = struct{}{}
		for _, req := range d.Parameters.Required {
			if _, ok := d.Parameters.Properties[req]; !ok {
				return nil, fmt.Errorf("tool definitions[%d] %s: required %q is not a property", i, d.Name, req)
			}
		}
	}
	return defs, nil
}

// AsTools converts definitions to the session.update tools list.
func AsTools(defs []Definition) []any {
	out := make([]any, len(defs))
	for i, d := range defs {
		out[i] = d
	}
	return out
}
