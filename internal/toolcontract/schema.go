package toolcontract

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ValidateLenient enforces the small set of structural rules every tool
// schema must satisfy at registration time: a top-level object type, a
// properties map, every required field present in properties, and every
// array property declaring items. It deliberately does not validate
// against the full JSON Schema spec — that is StrictValidate's job,
// reserved for CI.
func ValidateLenient(schema map[string]any) error {
	typ, ok := schema["type"]
	if !ok {
		return fmt.Errorf("schema missing top-level \"type\"")
	}
	if typ != "object" {
		return fmt.Errorf("schema top-level \"type\" must be \"object\", got %v", typ)
	}

	propsRaw, hasProps := schema["properties"]
	var props map[string]any
	if hasProps {
		p, ok := propsRaw.(map[string]any)
		if !ok {
			return fmt.Errorf("schema \"properties\" must be an object")
		}
		props = p
	} else {
		props = map[string]any{}
	}

	if requiredRaw, ok := schema["required"]; ok {
		required, ok := requiredRaw.([]any)
		if !ok {
			return fmt.Errorf("schema \"required\" must be an array")
		}
		for _, r := range required {
			name, ok := r.(string)
			if !ok {
				return fmt.Errorf("schema \"required\" entries must be strings")
			}
			if _, ok := props[name]; !ok {
				return fmt.Errorf("required field %q not present in properties", name)
			}
		}
	}

	for name, raw := range props {
		prop, ok := raw.(map[string]any)
		if !ok {
			return fmt.Errorf("property %q must be an object", name)
		}
		if err := validateProperty(name, prop); err != nil {
			return err
		}
	}

	return nil
}

func validateProperty(name string, prop map[string]any) error {
	typ, hasType := prop["type"]
	if !hasType {
		// Properties without a type are allowed under the lenient rules.
		return nil
	}

	if typ == "array" {
		if _, ok := prop["items"]; !ok {
			return fmt.Errorf("array property %q missing \"items\"", name)
		}
	}

	if typ == "object" {
		if nestedRaw, ok := prop["properties"]; ok {
			nested, ok := nestedRaw.(map[string]any)
			if !ok {
				return fmt.Errorf("property %q \"properties\" must be an object", name)
			}
			for nestedName, rawNested := range nested {
				nestedProp, ok := rawNested.(map[string]any)
				if !ok {
					return fmt.Errorf("property %q.%q must be an object", name, nestedName)
				}
				if err := validateProperty(name+"."+nestedName, nestedProp); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

// StrictValidate compiles schema as a full JSON Schema document and
// reports any compile error. This is reserved for CI-only checks — it is
// never run on the hot registration path, since tool schemas authored by
// hand routinely omit detail lenient validation tolerates (missing
// titles, loose additionalProperties, etc.) that a strict compiler would
// reject.
func StrictValidate(name string, schema map[string]any) error {
	encoded, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("encode schema %s: %w", name, err)
	}
	if _, err := jsonschema.CompileString(name, string(encoded)); err != nil {
		return fmt.Errorf("strict schema validation failed for %s: %w", name, err)
	}
	return nil
}
