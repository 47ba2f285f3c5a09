package tools

import (
	"fmt"
	"strconv"

	"github.com/dkoren/tagsmith/internal/llm"
)

// ValidationError reports a malformed tool invocation. It is detected
// before any write occurs, so a ValidationError always means zero
// storage mutations happened for the offending call.
type ValidationError struct {
	Tool   string
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid invocation of %q: %s", e.Tool, e.Reason)
}

// Invocation is a validated, concrete batch mutation: pairs of
// (filepath, value) for one field. Filepaths and Values always have
// equal length; ModeSame and ModeSingle are expanded during parsing.
type Invocation struct {
	Spec      *Spec
	Filepaths []string
	Values    []string
}

// Parse validates a proposed tool call against the catalog and its
// argument contract. All failures are *ValidationError.
func Parse(call llm.ToolCall) (*Invocation, error) {
	name := call.Function.Name
	spec, ok := Lookup(name)
	if !ok {
		return nil, &ValidationError{Tool: name, Reason: "unknown tool"}
	}

	args := call.Function.Arguments

	switch spec.Mode {
	case ModeSingle:
		path, ok := asString(args["filepath"])
		if !ok || path == "" {
			return nil, &ValidationError{Tool: name, Reason: "filepath is required"}
		}
		value, ok := asString(args[spec.ValueArg])
		if !ok {
			return nil, &ValidationError{Tool: name, Reason: spec.ValueArg + " is required"}
		}
		return &Invocation{Spec: spec, Filepaths: []string{path}, Values: []string{value}}, nil

	case ModePerFile:
		paths, ok := asStringSlice(args["filepaths"])
		if !ok || len(paths) == 0 {
			return nil, &ValidationError{Tool: name, Reason: "filepaths is required"}
		}
		values, ok := asStringSlice(args[spec.ValueArg])
		if !ok {
			return nil, &ValidationError{Tool: name, Reason: spec.ValueArg + " is required"}
		}
		if len(paths) != len(values) {
			return nil, &ValidationError{
				Tool:   name,
				Reason: fmt.Sprintf("filepaths and %s must be the same length (%d != %d)", spec.ValueArg, len(paths), len(values)),
			}
		}
		return &Invocation{Spec: spec, Filepaths: paths, Values: values}, nil

	default: // ModeSame
		paths, ok := asStringSlice(args["filepaths"])
		if !ok || len(paths) == 0 {
			return nil, &ValidationError{Tool: name, Reason: "filepaths is required"}
		}
		value, ok := asString(args[spec.ValueArg])
		if !ok {
			return nil, &ValidationError{Tool: name, Reason: spec.ValueArg + " is required"}
		}
		values := make([]string, len(paths))
		for i := range values {
			values[i] = value
		}
		return &Invocation{Spec: spec, Filepaths: paths, Values: values}, nil
	}
}

// asString accepts the scalar shapes models actually emit: strings,
// and numbers for fields like year and track.
func asString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10), true
		}
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	default:
		return "", false
	}
}

func asStringSlice(v any) ([]string, bool) {
	switch t := v.(type) {
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out, true
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			s, ok := asString(e)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}
