// Package paramschema implements the typed per-executor parameter set
// declared by an agent.executors config's params.<name> section: a
// small registry of coercion rules (int, bool, str, list, host) plus
// the required/optional flag carried alongside each declared param.
package paramschema

import (
	"strconv"
	"strings"

	agenterrors "github.com/doyler/faraday-agent-dispatcher/internal/errors"
)

// Type names accepted in an executor's params.<name> section. The
// config records the required flag per param plus an optional ":type"
// suffix on its value (internal/config.loadParams), defaulting to str;
// every declared param is a string argument from the run request,
// checked against its Type at validation time.
type Type string

const (
	TypeInt  Type = "int"
	TypeStr  Type = "str"
	TypeBool Type = "bool"
	TypeList Type = "list"
	TypeHost Type = "host"
)

// Param is one declared parameter of an executor.
type Param struct {
	Name     string
	Type     Type
	Required bool
	Nullable bool // only meaningful for TypeInt
}

// Schema is the full declared parameter set of one executor, keyed by
// param name.
type Schema struct {
	Params map[string]Param
}

// New builds a Schema from an ordered param list, failing on an
// unrecognized type exactly as a malformed config would.
func New(params []Param) (*Schema, error) {
	s := &Schema{Params: make(map[string]Param, len(params))}
	for _, p := range params {
		switch p.Type {
		case TypeInt, TypeStr, TypeBool, TypeList, TypeHost:
		default:
			return nil, agenterrors.NewConfigError("params", "unknown param type "+string(p.Type))
		}
		s.Params[p.Name] = p
	}
	return s, nil
}

// Validate coerces and checks a RunRequest's args map against the
// schema. It fails with an *errors.ArgError whose Kind is Missing for
// an absent required param, Unexpected for a key the executor never
// declared, or BadType for a value that fails its type's coercion.
func (s *Schema) Validate(args map[string]string) error {
	for name, p := range s.Params {
		if p.Required {
			if _, ok := args[name]; !ok {
				return agenterrors.NewArgError(agenterrors.ArgKindMissing, name, "missing required argument "+name)
			}
		}
	}
	for name, value := range args {
		p, ok := s.Params[name]
		if !ok {
			return agenterrors.NewArgError(agenterrors.ArgKindUnexpected, name, "unexpected argument "+name)
		}
		if err := coerce(p, value); err != nil {
			return agenterrors.NewArgError(agenterrors.ArgKindBadType, name, err.Error())
		}
	}
	return nil
}

func coerce(p Param, value string) error {
	switch p.Type {
	case TypeInt:
		if value == "" && p.Nullable {
			return nil
		}
		if _, err := strconv.Atoi(value); err != nil {
			return agenterrors.NewConfigError(p.Name, "must be an int")
		}
	case TypeStr, TypeHost:
		// any string is acceptable; both types carry through verbatim
	case TypeBool:
		switch strings.ToLower(value) {
		case "true", "false", "t", "f":
		default:
			return agenterrors.NewConfigError(p.Name, "must be a bool")
		}
	case TypeList:
		parts := strings.Split(value, ",")
		seen := make(map[string]struct{}, len(parts))
		for _, part := range parts {
			if _, dup := seen[part]; dup {
				return agenterrors.NewConfigError(p.Name, "contains repeated values")
			}
			seen[part] = struct{}{}
		}
	}
	return nil
}
