// ABOUTME: JSON Schema validation for agent and reorder request bodies
// ABOUTME: Compiles embedded schemas once and turns failures into field-level details

package validation

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Kind names a request body shape.
type Kind string

const (
	AgentCreate Kind = "agent_create"
	AgentUpdate Kind = "agent_update"
	Reorder     Kind = "reorder"
)

var allKinds = []Kind{AgentCreate, AgentUpdate, Reorder}

// ErrMalformed is returned when a body is not JSON at all.
var ErrMalformed = errors.New("request body is not valid JSON")

// Detail is one field-level problem.
type Detail struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// Error lists every problem found in a body.
type Error struct {
	Details []Detail
}

func (e *Error) Error() string {
	parts := make([]string, 0, len(e.Details))
	for _, d := range e.Details {
		if d.Path == "" {
			parts = append(parts, d.Message)
			continue
		}
		parts = append(parts, fmt.Sprintf("%s at %q", d.Message, d.Path))
	}
	return "Validation error: " + strings.Join(parts, "; ")
}

// Validator holds the compiled schemas.
type Validator struct {
	schemas map[Kind]*jsonschema.Schema
}

// New compiles the embedded schemas.
func New() (*Validator, error) {
	c := jsonschema.NewCompiler()
	for _, k := range allKinds {
		data, err := schemaFS.ReadFile("schemas/" + string(k) + ".json")
		if err != nil {
			return nil, fmt.Errorf("reading schema %s: %w", k, err)
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("parsing schema %s: %w", k, err)
		}
		if err := c.AddResource(string(k)+".json", doc); err != nil {
			return nil, fmt.Errorf("adding schema %s: %w", k, err)
		}
	}

	v := &Validator{schemas: make(map[Kind]*jsonschema.Schema, len(allKinds))}
	for _, k := range allKinds {
		sch, err := c.Compile(string(k) + ".json")
		if err != nil {
			return nil, fmt.Errorf("compiling schema %s: %w", k, err)
		}
		v.schemas[k] = sch
	}
	return v, nil
}

	return v
}

// Validate checks body against the schema for k. It returns ErrMalformed for
// non-JSON input and *Error for schema violations.
func (v *Validator) Validate(k Kind, body []byte) error {
	sch, ok := v.schemas[k]
	if !ok {
		return fmt.Errorf("unknown schema %q", k)
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	err = sch.Validate(inst)
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err
	}
	return &Error{Details: collect(ve)}
}

func collect(root *jsonschema.ValidationError) []Detail {
	var out []Detail
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			out = append(out, describe(e)...)
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(root)

	sort.SliceStable(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// fieldLabels gives user-facing names for known properties.
var fieldLabels = map[string]string{
	"name":      "Name",
	"role":      "Role",
	"goal":      "Goal",
	"backstory": "Backstory",
	"tasks":     "Tasks",
	"agents":    "Agents",
	"id":        "Agent ID",
	"order":     "Order",
}

func label(field string) string {
	if l, ok := fieldLabels[field]; ok {
		return l
	}
	return field
}

func describe(e *jsonschema.ValidationError) []Detail {
	loc := e.InstanceLocation
	path := strings.Join(loc, ".")
	field := ""
	if len(loc) > 0 {
		field = loc[len(loc)-1]
	}
	// Array elements are described by their parent
	isTask := len(loc) == 2 && loc[0] == "tasks"

	switch k := e.ErrorKind.(type) {
	case *kind.Required:
		details := make([]Detail, 0, len(k.Missing))
		for _, m := range k.Missing {
			p := m
			if path != "" {
				p = path + "." + m
			}
			details = append(details, Detail{Path: p, Message: label(m) + " is required"})
		}
		return details
	case *kind.MinLength:
		if isTask {
			return []Detail{{Path: path, Message: "Task cannot be empty"}}
		}
		return []Detail{{Path: path, Message: label(field) + " is required"}}
	case *kind.MaxLength:
		if isTask {
			return []Detail{{Path: path, Message: fmt.Sprintf("Each task must be less than %d characters", k.Want)}}
		}
		return []Detail{{Path: path, Message: fmt.Sprintf("%s must be less than %d characters", label(field), k.Want)}}
	case *kind.MinItems:
		if field == "tasks" {
			return []Detail{{Path: path, Message: "At least one task is required"}}
		}
		return []Detail{{Path: path, Message: label(field) + " array cannot be empty"}}
	case *kind.MaxItems:
		if field == "tasks" {
			return []Detail{{Path: path, Message: fmt.Sprintf("Maximum %d tasks allowed per agent", k.Want)}}
		}
		return []Detail{{Path: path, Message: fmt.Sprintf("Too many %s at once (maximum %d)", strings.ToLower(label(field)), k.Want)}}
	case *kind.MinProperties:
		return []Detail{{Path: path, Message: "At least one field must be provided"}}
	case *kind.Minimum:
		return []Detail{{Path: path, Message: label(field) + " must be a non-negative integer"}}
	case *kind.Type:
		return []Detail{{Path: path, Message: fmt.Sprintf("Expected %s, received %s", strings.Join(k.Want, " or "), k.Got)}}
	case *kind.AdditionalProperties:
		return []Detail{{Path: path, Message: "Unrecognized key(s): " + strings.Join(k.Properties, ", ")}}
	default:
		return []Detail{{Path: path, Message: "Invalid value (" + strings.Join(e.ErrorKind.KeywordPath(), "/") + ")"}}
	}
}
