// Package schema validates the emitted report against an externally
// supplied JSON Schema. The result is advisory and never fails a run.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ValidationFile is the advisory marker written next to the report.
const ValidationFile = "schema_validation.json"

// Status of a schema check.
type Status string

const (
	StatusValid       Status = "valid"
	StatusInvalid     Status = "invalid"
	StatusUnavailable Status = "unavailable"
)

// Advisory is the outcome of a schema check. It is a value, not an error.
type Advisory struct {
	Schema string   `json:"schema"`
	Status Status   `json:"status"`
	Errors []string `json:"errors"`
}

// Valid reports whether the document passed.
func (a Advisory) Valid() bool { return a.Status == StatusValid }

func unavailable(schemaPath string, err error) Advisory {
	return Advisory{Schema: filepath.Base(schemaPath), Status: StatusUnavailable, Errors: []string{err.Error()}}
}

// Validate checks document (JSON bytes) against the schema at schemaPath.
func Validate(schemaPath string, document []byte) Advisory {
	if schemaPath == "" {
		return Advisory{Status: StatusUnavailable, Errors: []string{"no schema configured"}}
	}
	raw, err := os.ReadFile(schemaPath)
	if err != nil {
		return unavailable(schemaPath, err)
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := "file:///regpack/" + filepath.Base(schemaPath)
	if err := c.AddResource(url, bytes.NewReader(raw)); err != nil {
		return unavailable(schemaPath, fmt.Errorf("schema load failed: %w", err))
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return unavailable(schemaPath, fmt.Errorf("schema compile failed: %w", err))
	}

	dec := json.NewDecoder(bytes.NewReader(document))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return Advisory{Schema: filepath.Base(schemaPath), Status: StatusInvalid, Errors: []string{"document is not JSON: " + err.Error()}}
	}
	if err := compiled.Validate(doc); err != nil {
		return Advisory{Schema: filepath.Base(schemaPath), Status: StatusInvalid, Errors: flatten(err)}
	}
	return Advisory{Schema: filepath.Base(schemaPath), Status: StatusValid, Errors: []string{}}
}

// flatten turns a validation error tree into sorted leaf messages.
func flatten(err error) []string {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []string{err.Error()}
	}
	var out []string
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			out = append(out, fmt.Sprintf("%s: %s", loc, e.Message))
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	sort.Strings(out)
	return out
}
