// Package params turns flat hyperparameter samples into modified model
// definitions. A sample keys values by dotted path ("training.learning_rate");
// substitution builds the nested form once per trial and applies it to every
// feature and top-level section of a deep copy of the base definition.
package params

import (
	"fmt"
	"sort"

	"github.com/luwei0711/ludwig/internal/domain"
)

// NestedParameters converts a flat dotted-path sample into a nested map:
// {"a.b": 1, "a.c": 2} becomes {"a": {"b": 1, "c": 2}}. Keys are processed
// in sorted order so the result is deterministic. A path that descends
// through an already-set scalar value is an error, never a silent merge.
func NestedParameters(sample domain.Sample) (map[string]any, error) {
	nested := map[string]any{}

	names := make([]string, 0, len(sample))
	for name := range sample {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		curr := nested
		elems := splitPath(name)
		for i, elem := range elems {
			if elem == "" {
				return nil, fmt.Errorf("malformed parameter path %q", name)
			}
			if i == len(elems)-1 {
				if _, exists := curr[elem]; exists {
					return nil, fmt.Errorf("parameter path %q collides with a nested parameter", name)
				}
				curr[elem] = sample[name]
				continue
			}
			next, exists := curr[elem]
			if !exists {
				child := map[string]any{}
				curr[elem] = child
				curr = child
				continue
			}
			child, ok := next.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("parameter path %q collides with scalar value at %q", name, elem)
			}
			curr = child
		}
	}
	return nested, nil
}

// SetValues copies the child key/value pairs of nested[name] onto section.
// Map-valued children merge one level deeper: matching sub-keys are
// overwritten, other sub-keys in the section are left untouched. A missing
// sub-section in the target is created before merging.
func SetValues(section map[string]any, name string, nested map[string]any) {
	overrides, ok := nested[name].(map[string]any)
	if !ok {
		return
	}
	for key, value := range overrides {
		sub, isMap := value.(map[string]any)
		if !isMap {
			section[key] = value
			continue
		}
		target, ok := section[key].(map[string]any)
		if !ok {
			target = map[string]any{}
			section[key] = target
		}
		for subKey, subValue := range sub {
			target[subKey] = subValue
		}
	}
}

// Substitute returns a new definition with the sample applied to every
// input feature (keyed by feature name), every output feature (keyed by
// feature name) and the combiner, training and preprocessing sections.
// The base definition is never mutated.
func Substitute(def domain.Definition, sample domain.Sample) (domain.Definition, error) {
	nested, err := NestedParameters(sample)
	if err != nil {
		return nil, err
	}

	modified := DeepCopy(def)

	for _, feature := range features(modified["input_features"]) {
		if name, ok := feature["name"].(string); ok {
			SetValues(feature, name, nested)
		}
	}
	for _, feature := range features(modified["output_features"]) {
		if name, ok := feature["name"].(string); ok {
			SetValues(feature, name, nested)
		}
	}
	for _, section := range []string{"combiner", "training", "preprocessing"} {
		if m, ok := modified[section].(map[string]any); ok {
			SetValues(m, section, nested)
		}
	}
	return modified, nil
}

// DeepCopy returns a structurally independent copy of the definition.
// Trials mutate their own copy only.
func DeepCopy(def domain.Definition) domain.Definition {
	return copyValue(map[string]any(def)).(map[string]any)
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = copyValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	default:
		return v
	}
}

// features normalizes a feature list to []map[string]any. YAML decoding
// yields []any elements; tests often build []map[string]any directly.
func features(v any) []map[string]any {
	switch list := v.(type) {
	case []map[string]any:
		return list
	case []any:
		out := make([]map[string]any, 0, len(list))
		for _, e := range list {
			if m, ok := e.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	default:
		return nil
	}
}

func splitPath(name string) []string {
	var elems []string
	start := 0
	for i := 0; i < len(name); i++ {
		if name[i] == '.' {
			elems = append(elems, name[start:i])
			start = i + 1
		}
	}
	return append(elems, name[start:])
}
