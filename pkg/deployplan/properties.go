package deployplan

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// PropertySchemaStyle classifies how a job's templates declare properties.
type PropertySchemaStyle int

const (
	// PropertySchemaUnschemed: no template declares a property schema.
	PropertySchemaUnschemed PropertySchemaStyle = iota

	// PropertySchemaDeclared: every template declares a property schema.
	PropertySchemaDeclared

	// PropertySchemaConflicting: some templates declare a schema, some do not.
	PropertySchemaConflicting
)

func (s PropertySchemaStyle) String() string {
	switch s {
	case PropertySchemaUnschemed:
		return "unschemed"
	case PropertySchemaDeclared:
		return "declared"
	case PropertySchemaConflicting:
		return "conflicting"
	default:
		return fmt.Sprintf("PropertySchemaStyle(%d)", int(s))
	}
}

// ClassifyPropertySchemas computes the schema style of a template set.
// An empty set is unschemed.
func ClassifyPropertySchemas(templates []*Template) PropertySchemaStyle {
	declared := 0
	for _, t := range templates {
		if t.DeclaresProperties() {
			declared++
		}
	}
	switch {
	case declared == 0:
		return PropertySchemaUnschemed
	case declared == len(templates):
		return PropertySchemaDeclared
	default:
		return PropertySchemaConflicting
	}
}

// FilterProperties reduces all to what templates declare.
//
// Unschemed templates receive a deep copy of all. Declared templates receive each
// declared property (a dotted path) copied from all, or its default when
// absent; templates are applied in order so a later template wins.
// Conflicting styles return ErrPropertyStyleConflict.
func FilterProperties(templates []*Template, all map[string]any) (map[string]any, error) {
	if len(templates) == 0 {
		return nil, ErrNoTemplates
	}
	for _, t := range templates {
		if !t.Bound() {
			return nil, fmt.Errorf("template %s: %w", t.Name, ErrTemplateNotBound)
		}
	}

	switch ClassifyPropertySchemas(templates) {
	case PropertySchemaUnschemed:
		if all == nil {
			return nil, nil
		}
		return deepCopy(all).(map[string]any), nil
	case PropertySchemaDeclared:
		result := make(map[string]any)
		for _, t := range templates {
			names := make([]string, 0, len(t.model.Properties))
			for name := range t.model.Properties {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				copyProperty(result, all, name, t.model.Properties[name].Default)
			}
		}
		return result, nil
	case PropertySchemaConflicting:
		return nil, ErrPropertyStyleConflict
	default:
		return nil, fmt.Errorf("unknown property schema style")
	}
}

// Properties returns the properties resolved by BindProperties, or nil.
func (j *Job) Properties() map[string]any {
	return j.properties
}

// FilterProperties applies FilterProperties to this job's templates.
func (j *Job) FilterProperties(all map[string]any) (map[string]any, error) {
	props, err := FilterProperties(j.Templates, all)
	if err != nil {
		if errors.Is(err, ErrPropertyStyleConflict) {
			return nil, &PropertyStyleConflictError{Job: j.Name}
		}
		return nil, fmt.Errorf("job %s: filter properties: %w", j.Name, err)
	}
	return props, nil
}

// BindProperties resolves the job's properties from AllProperties. It must
// run after every template is bound to its model.
func (j *Job) BindProperties() error {
	props, err := j.FilterProperties(j.AllProperties)
	if err != nil {
		return err
	}
	j.properties = props
	j.logger.Debug("Bound job properties",
		zap.Stringer("schema_style", ClassifyPropertySchemas(j.Templates)),
		zap.Int("top_level_keys", len(props)))
	return nil
}

// copyProperty sets the dotted path name in dst to its value in src, or to
// def when src has no value there.
func copyProperty(dst, src map[string]any, name string, def any) {
	keys := strings.Split(name, ".")

	var value any = src
	for _, key := range keys {
		m, ok := value.(map[string]any)
		if !ok {
			value = nil
			break
		}
		value, ok = m[key]
		if !ok {
			value = nil
			break
		}
	}
	if value == nil {
		value = def
	}

	ref := dst
	for _, key := range keys[:len(keys)-1] {
		next, ok := ref[key].(map[string]any)
		if !ok {
			next = make(map[string]any)
			ref[key] = next
		}
		ref = next
	}
	ref[keys[len(keys)-1]] = deepCopy(value)
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = deepCopy(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = deepCopy(val)
		}
		return out
	default:
		return v
	}
}
