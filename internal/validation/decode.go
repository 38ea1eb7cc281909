package validation

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/untoldecay/ctxgraph/internal/types"
)

// Format is the encoding of an extraction batch file.
type Format string

const (
	FormatJSON Format = "json" // one object, an array of objects, or JSON lines
	FormatYAML Format = "yaml" // one extraction per document
)

// FormatFromPath picks the batch format from a file extension. It returns
// "" for files the indexer does not read.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonl":
		return FormatJSON
	case ".yaml", ".yml":
		return FormatYAML
	}
	return ""
}

// DecodeFile reads every extraction in a batch file. Unknown fields are
// rejected; the result has not been validated yet.
func DecodeFile(path string) ([]types.Extraction, error) {
	format := FormatFromPath(path)
	if format == "" {
		return nil, fmt.Errorf("%w: unsupported batch file %s", types.ErrInvalidPayload, path)
	}
	// #nosec G304 - batch paths come from the operator or the watched inbox
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open batch %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	out, err := Decode(f, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return out, nil
}

// Decode reads every extraction from r in the given format.
func Decode(r io.Reader, format Format) ([]types.Extraction, error) {
	switch format {
	case FormatJSON:
		return decodeJSON(r)
	case FormatYAML:
		return decodeYAML(r)
	}
	return nil, fmt.Errorf("%w: unknown format %q", types.ErrInvalidPayload, format)
}

func decodeJSON(r io.Reader) ([]types.Extraction, error) {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(br)
	dec.DisallowUnknownFields()

	if first == '[' {
		var batch []types.Extraction
		if err := dec.Decode(&batch); err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrInvalidPayload, err)
		}
		return batch, nil
	}

	// A single object or JSON lines.
	var batch []types.Extraction
	for n := 1; ; n++ {
		var e types.Extraction
		err := dec.Decode(&e)
		if errors.Is(err, io.EOF) {
			return batch, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: record %d: %v", types.ErrInvalidPayload, n, err)
		}
		batch = append(batch, e)
	}
}

func decodeYAML(r io.Reader) ([]types.Extraction, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var batch []types.Extraction
	for n := 1; ; n++ {
		var e types.Extraction
		err := dec.Decode(&e)
		if errors.Is(err, io.EOF) {
			return batch, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: document %d: %v", types.ErrInvalidPayload, n, err)
		}
		batch = append(batch, e)
	}
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		if !bytes.ContainsRune([]byte(" \t\r\n"), rune(b)) {
			return b, br.UnreadByte()
		}
	}
}
