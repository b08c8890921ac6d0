package tools

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuiltin_MatchesDecoder(t *testing.T) {
	for _, d := range Builtin() {
		args := make(map[string]string, len(d.Parameters.Required))
		for _, name := range d.Parameters.Required {
			args[name] = "x"
		}
		raw, err := json.Marshal(args)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		call, err := Decode(d.Name, string(raw))
		if err != nil {
			t.Fatalf("Decode(%s) with required args: %v", d.Name, err)
		}
		if _, ok := call.(Unknown); ok {
			t.Fatalf("builtin %s decoded as unknown", d.Name)
		}
	}
}

func TestBuiltin_WireShape(t *testing.T) {
	b, err := json.Marshal(AsTools(Builtin())[0])
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["type"] != "function" || got["name"] != NameEditParagraph {
		t.Fatalf("unexpected definition: %v", got)
	}
	params := got["parameters"].(map[string]any)
	if params["type"] != "object" {
		t.Fatalf("parameters.type=%v", params["type"])
	}
}

func TestLoadDefinitions_YAMLAndJSON(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "tools.yaml")
	yamlDoc := `
- name: deleteText
  description: Delete text
  parameters:
    properties:
      text:
        type: string
    required: [text]
`
	if err := os.WriteFile(yamlPath, []byte(yamlDoc), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	defs, err := LoadDefinitions(yamlPath)
	if err != nil {
		t.Fatalf("LoadDefinitions(yaml): %v", err)
	}
	if len(defs) != 1 || defs[0].Type != "function" || defs[0].Parameters.Type != "object" {
		t.Fatalf("defaults not applied: %+v", defs)
	}

	jsonPath := filepath.Join(dir, "tools.json")
	jsonDoc := `[{"type":"function","name":"addParagraph","parameters":{"type":"object","properties":{"textBefore":{"type":"string"},"addedText":{"type":"string"}},"required":["textBefore","addedText"]}}]`
	if err := os.WriteFile(jsonPath, []byte(jsonDoc), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	defs, err = LoadDefinitions(jsonPath)
	if err != nil {
		t.Fatalf("LoadDefinitions(json): %v", err)
	}
	if defs[0].Name != NameAddParagraph || len(defs[0].Parameters.Properties) != 2 {
		t.Fatalf("unexpected: %+v", defs)
	}
}

func TestParseDefinitions_Invalid(t *testing.T) {
	cases := map[string]string{
		"empty":            `[]`,
		"missing name":     `[{"parameters":{}}]`,
		"duplicate":        `[{"name":"a"},{"name":"a"}]`,
		"unknown required": `[{"name":"a","parameters":{"required":["x"]}}]`,
		"not a list":       `name: a`,
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseDefinitions([]byte(in)); err == nil {
				t.Fatalf("ParseDefinitions(%q) succeeded", in)
			}
		})
	}
}

func TestLoadDefinitions_MissingFile(t *testing.T) {
	_, err := LoadDefinitions(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "nope.yaml") {
		t.Fatalf("err=%v", err)
	}
}
