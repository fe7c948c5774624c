package llm

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

const (
	schemaJudgments = "judgments.schema.json"
	schemaClusters  = "clusters.schema.json"
	schemaBullets   = "bullets.schema.json"
)

// ErrEmptyResponse is returned when the model produced no content.
var ErrEmptyResponse = errors.New("model response was empty")

// ParseError reports model output that does not match the documented response shape.
type ParseError struct {
	Schema string
	Raw    string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s response: %v", strings.TrimSuffix(e.Schema, ".schema.json"), e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// IsParseError reports whether err came from malformed model output.
func IsParseError(err error) bool {
	var parseErr *ParseError
	return errors.As(err, &parseErr)
}

var fencePattern = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*\\n?(.*?)\\n?\\s*```$")

// StripFences removes a surrounding markdown code fence such as ```json ... ```.
func StripFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if m := fencePattern.FindStringSubmatch(trimmed); m != nil {
		return strings.TrimSpace(m[1])
	}
	return trimmed
}

var (
	compileOnce     sync.Once
	compiledSchemas map[string]*jsonschema.Schema
	compileErr      error
)

func loadSchema(name string) (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020

		names := []string{schemaJudgments, schemaClusters, schemaBullets}
		for _, n := range names {
			raw, err := schemaFS.ReadFile("schemas/" + n)
			if err != nil {
				compileErr = fmt.Errorf("read schema %s: %w", n, err)
				return
			}
			if err := compiler.AddResource(n, bytes.NewReader(raw)); err != nil {
				compileErr = fmt.Errorf("add schema resource %s: %w", n, err)
				return
			}
		}

		compiled := make(map[string]*jsonschema.Schema, len(names))
		for _, n := range names {
			schema, err := compiler.Compile(n)
			if err != nil {
				compileErr = fmt.Errorf("compile schema %s: %w", n, err)
				return
			}
			compiled[n] = schema
		}
		compiledSchemas = compiled
	})

	if compileErr != nil {
		return nil, compileErr
	}
	schema, ok := compiledSchemas[name]
	if !ok {
		return nil, fmt.Errorf("unknown schema %s", name)
	}
	return schema, nil
}

// decodeValidated strips fences, strictly decodes the payload, validates it against the named
// schema and unmarshals the normalized JSON into out.
func decodeValidated(raw, schemaName string, out any) error {
	text := StripFences(raw)
	if text == "" {
		return &ParseError{Schema: schemaName, Raw: raw, Err: ErrEmptyResponse}
	}

	value, err := decodeStrictJSON([]byte(text))
	if err != nil {
		return &ParseError{Schema: schemaName, Raw: raw, Err: fmt.Errorf("decode JSON: %w", err)}
	}

	schema, err := loadSchema(schemaName)
	if err != nil {
		return fmt.Errorf("load schema: %w", err)
	}
	if err := schema.Validate(value); err != nil {
		return &ParseError{Schema: schemaName, Raw: raw, Err: fmt.Errorf("schema validation failed: %w", err)}
	}

	normalized, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("normalize JSON: %w", err)
	}
	decoder := json.NewDecoder(bytes.NewReader(normalized))
	decoder.UseNumber()
	if err := decoder.Decode(out); err != nil {
		return &ParseError{Schema: schemaName, Raw: raw, Err: fmt.Errorf("unmarshal: %w", err)}
	}
	return nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("payload contains trailing content")
	}
	return value, nil
}

// flexibleID accepts identifiers the model emits either as strings or as bare numbers.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*f = flexibleID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return fmt.Errorf("identifier must be a string or number: %w", err)
	}
	*f = flexibleID(n.String())
	return nil
}
