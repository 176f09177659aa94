package service

import (
	"fmt"
	"strconv"
	"strings"
)

// ParamType is the closed set of parameter value types.
type ParamType string

const (
	// ParamString accepts any string value.
	ParamString ParamType = "string"
	// ParamNumber accepts numeric values (JSON numbers or numeric strings).
	ParamNumber ParamType = "number"
	// ParamEnum accepts one of the declared options.
	ParamEnum ParamType = "enum"
)

// ParamSpec declares one parameter of a trigger or reaction kind.
type ParamSpec struct {
	Name     string
	Type     ParamType
	Required bool
	Options  []string // Enum options; empty for other types.
}

// OperationSpec declares one trigger or reaction kind with its parameters.
type OperationSpec struct {
	Kind        string
	Description string
	Params      []ParamSpec
}

// Descriptor declares a provider's capabilities. Static, not persisted.
type Descriptor struct {
	Name      string
	Triggers  []OperationSpec
	Reactions []OperationSpec
	// MaxConcurrent caps concurrent calls to this provider across all Areas.
	// Zero means only the shared evaluation pool budget applies.
	MaxConcurrent int
	// RequiresCredential reports whether the provider needs a per-user OAuth
	// credential. False for timer and API-key providers.
	RequiresCredential bool
}

// TriggerSpec returns the trigger kind declaration, if declared.
func (d Descriptor) TriggerSpec(kind string) (OperationSpec, bool) {
	return findOperation(d.Triggers, kind)
}

// ReactionSpec returns the reaction kind declaration, if declared.
func (d Descriptor) ReactionSpec(kind string) (OperationSpec, bool) {
	return findOperation(d.Reactions, kind)
}

func findOperation(ops []OperationSpec, kind string) (OperationSpec, bool) {
	kind = strings.TrimSpace(kind)
	for _, op := range ops {
		if op.Kind == kind {
			return op, true
		}
	}
	return OperationSpec{}, false
}

// ValidateParams checks params against the operation's declared schema.
func (op OperationSpec) ValidateParams(params map[string]any) error {
	for _, spec := range op.Params {
		raw, ok := params[spec.Name]
		if !ok || raw == nil {
			if spec.Required {
				return fmt.Errorf("missing required parameter %q", spec.Name)
			}
			continue
		}
		if errCheck := spec.check(raw); errCheck != nil {
			return errCheck
		}
	}
	return nil
}

func (spec ParamSpec) check(raw any) error {
	switch spec.Type {
	case ParamString:
		if _, ok := raw.(string); !ok {
			return fmt.Errorf("parameter %q must be a string", spec.Name)
		}
	case ParamNumber:
		if _, ok := toFloat(raw); !ok {
			return fmt.Errorf("parameter %q must be a number", spec.Name)
		}
	case ParamEnum:
		value, ok := raw.(string)
		if !ok {
			return fmt.Errorf("parameter %q must be one of %v", spec.Name, spec.Options)
		}
		for _, option := range spec.Options {
			if option == value {
				return nil
			}
		}
		return fmt.Errorf("parameter %q must be one of %v, got %q", spec.Name, spec.Options, value)
	default:
		return fmt.Errorf("parameter %q has unknown type %q", spec.Name, spec.Type)
	}
	return nil
}

func toFloat(raw any) (float64, bool) {
	switch typed := raw.(type) {
	case float64:
		return typed, true
	case float32:
		return float64(typed), true
	case int:
		return float64(typed), true
	case int64:
		return float64(typed), true
	case string:
		parsed, errParse := strconv.ParseFloat(strings.TrimSpace(typed), 64)
		if errParse != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

// StringParam extracts a string parameter from params.
func StringParam(params map[string]any, name string) string {
	if params == nil {
		return ""
	}
	if value, ok := params[name].(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

// NumberParam extracts a numeric parameter from params.
func NumberParam(params map[string]any, name string) (float64, bool) {
	if params == nil {
		return 0, false
	}
	raw, ok := params[name]
	if !ok {
		return 0, false
	}
	return toFloat(raw)
}
