package validation

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/untoldecay/ctxgraph/internal/types"
)

const jsonBatch = `{
  "file": {"path": "calls/acme.md", "metadataChecksum": "m1", "contentChecksum": "c1"},
  "sourceType": "call",
  "occurredAt": "2024-05-01T10:00:00Z",
  "participants": [{"raw": "Alex Chen", "handle": "alex@acme.com", "handleKind": "email"}],
  "items": [{
    "type": "action_item",
    "ownerRaw": "Alex Chen",
    "sourceType": "call",
    "sourcePath": "calls/acme.md",
    "sourceQuote": "I will send the updated pricing deck over to the Acme team by Friday",
    "sourceSpan": "L10-L12"
  }]
}`

const yamlBatch = `file:
  path: mail/thread-42.eml
  contentChecksum: c2
sourceType: email
occurredAt: 2024-05-02T09:30:00Z
items:
  - type: promise
    ownerRaw: Sam Lee
    targetRaw: Alex Chen
    sourceQuote: We will get the signed order form back to you before the end of the month
    sourcePath: mail/thread-42.eml
    sourceSpan: msg-3
---
file:
  path: mail/thread-43.eml
  contentChecksum: c3
sourceType: email
items: []
`

func TestDecodeJSONShapes(t *testing.T) {
	lines := strings.ReplaceAll(jsonBatch, "\n", "") + "\n" + strings.ReplaceAll(jsonBatch, "\n", "") + "\n"
	tests := []struct {
		name  string
		input string
		want  int
	}{
		{"single object", jsonBatch, 1},
		{"array", "[" + jsonBatch + "," + jsonBatch + "]", 2},
		{"json lines", lines, 2},
		{"empty", "  \n", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(strings.NewReader(tt.input), FormatJSON)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if len(got) != tt.want {
				t.Fatalf("decoded %d extractions, want %d", len(got), tt.want)
			}
			for _, e := range got {
				if err := PrepareExtraction(&e); err != nil {
					t.Errorf("decoded batch does not validate: %v", err)
				}
			}
		})
	}
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	bad := strings.Replace(jsonBatch, `"sourceSpan": "L10-L12"`, `"sourceSpan": "L10-L12", "trustLevel": "high"`, 1)
	_, err := Decode(strings.NewReader(bad), FormatJSON)
	if !errors.Is(err, types.ErrInvalidPayload) {
		t.Fatalf("Decode() = %v, want ErrInvalidPayload", err)
	}
	if !strings.Contains(err.Error(), "trustLevel") {
		t.Errorf("error does not name the field: %v", err)
	}
}

func TestDecodeYAMLDocuments(t *testing.T) {
	got, err := Decode(strings.NewReader(yamlBatch), FormatYAML)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("decoded %d documents, want 2", len(got))
	}
	first := got[0]
	if first.OccurredAt == nil || first.OccurredAt.Hour() != 9 {
		t.Errorf("occurredAt = %v", first.OccurredAt)
	}
	if len(first.Items) != 1 || first.Items[0].TargetRaw != "Alex Chen" {
		t.Errorf("items = %+v", first.Items)
	}
	if err := PrepareExtraction(&first); err != nil {
		t.Errorf("PrepareExtraction failed: %v", err)
	}
	if first.Items[0].SourceType != types.SourceEmail {
		t.Errorf("item source type = %q, want inherited email", first.Items[0].SourceType)
	}
}

func TestDecodeYAMLRejectsUnknownFields(t *testing.T) {
	bad := strings.Replace(yamlBatch, "    sourceSpan: msg-3", "    sourceSpan: msg-3\n    confidence: 0.9", 1)
	_, err := Decode(strings.NewReader(bad), FormatYAML)
	if !errors.Is(err, types.ErrInvalidPayload) {
		t.Fatalf("Decode() = %v, want ErrInvalidPayload", err)
	}
}

func TestDecodeFile(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "batch.json")
	if err := os.WriteFile(jsonPath, []byte(jsonBatch), 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := DecodeFile(jsonPath)
	if err != nil || len(got) != 1 {
		t.Fatalf("DecodeFile = %d, %v", len(got), err)
	}

	txt := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(txt, []byte("hi"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := DecodeFile(txt); !errors.Is(err, types.ErrInvalidPayload) {
		t.Errorf("DecodeFile(.txt) = %v, want ErrInvalidPayload", err)
	}
}

func TestFormatFromPath(t *testing.T) {
	for path, want := range map[string]Format{
		"a.json":  FormatJSON,
		"a.JSONL": FormatJSON,
		"a.yml":   FormatYAML,
		"a.yaml":  FormatYAML,
		"a.md":    "",
	} {
		if got := FormatFromPath(path); got != want {
			t.Errorf("FormatFromPath(%q) = %q, want %q", path, got, want)
		}
	}
}
