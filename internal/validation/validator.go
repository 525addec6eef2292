package validation

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/keypad-relay/keypad-relay-server/internal/protocol"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// ErrUnknownKind is returned for event kinds without a schema
var ErrUnknownKind = errors.New("no schema for event kind")

// Error describes a payload that failed schema validation
type Error struct {
	Kind    protocol.MessageType
	Details []string
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Kind, strings.Join(e.Details, "; "))
}

// Validator validates ingestion payloads against the embedded JSON schemas
type Validator struct {
	schemas map[protocol.MessageType]*jsonschema.Schema
}

var eventKinds = []protocol.MessageType{
	protocol.TypeConnectEvent,
	protocol.TypeVoteEvent,
	protocol.TypeKeyEvent,
	protocol.TypeHDParamEvent,
	protocol.TypeKeypadParamEvent,
}

// NewValidator compiles one schema per event kind
func NewValidator() (*Validator, error) {
	v := &Validator{schemas: make(map[protocol.MessageType]*jsonschema.Schema, len(eventKinds))}

	for _, kind := range eventKinds {
		name := "schemas/" + string(kind) + ".json"
		raw, err := schemaFS.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", name, err)
		}

		c := jsonschema.NewCompiler()
		if err := c.AddResource(name, bytes.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", name, err)
		}
		sch, err := c.Compile(name)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		v.schemas[kind] = sch
	}

	return v, nil
}

// Validate checks a raw JSON body for the given event kind
func (v *Validator) Validate(kind protocol.MessageType, body []byte) error {
	sch, ok := v.schemas[kind]
	if !ok {
		return fmt.Errorf("%s: %w", kind, ErrUnknownKind)
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return &Error{Kind: kind, Details: []string{"body is not valid JSON"}}
	}

	if err := sch.Validate(doc); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return &Error{Kind: kind, Details: flatten(verr)}
		}
		return &Error{Kind: kind, Details: []string{err.Error()}}
	}
	return nil
}

// flatten collects leaf messages as "location: message"
func flatten(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := verr.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		return []string{loc + ": " + verr.Message}
	}

	var out []string
	for _, c := range verr.Causes {
		out = append(out, flatten(c)...)
	}
	return out
}
