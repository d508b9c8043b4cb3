package options

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// Options is an insertion-ordered map from long option names to values. The
// zero value is empty and ready to use. A nil value marks the option as unset.
type Options struct {
	keys   []string
	values map[string]any
}

// Of builds Options from alternating name/value arguments.
func Of(kv ...any) Options {
	if len(kv)%2 != 0 {
		panic("options.Of: odd number of arguments")
	}
	var o Options
	for i := 0; i < len(kv); i += 2 {
		name, ok := kv[i].(string)
		if !ok {
			panic(fmt.Sprintf("options.Of: name at position %d is %T, not string", i, kv[i]))
		}
		o.Set(name, kv[i+1])
	}
	return o
}

// FromMap copies an unordered map, ordering names lexicographically.
func FromMap(in map[string]any) Options {
	names := make([]string, 0, len(in))
	for name := range in {
		names = append(names, name)
	}
	sort.Strings(names)

	var o Options
	for _, name := range names {
		o.Set(name, in[name])
	}
	return o
}

// Set stores value under name. An existing name keeps its position.
func (o *Options) Set(name string, value any) {
	if o.values == nil {
		o.values = make(map[string]any)
	}
	if _, ok := o.values[name]; !ok {
		o.keys = append(o.keys, name)
	}
	o.values[name] = value
}

func (o *Options) Delete(name string) {
	if _, ok := o.values[name]; !ok {
		return
	}
	delete(o.values, name)
	for i, key := range o.keys {
		if key == name {
			o.keys = append(o.keys[:i:i], o.keys[i+1:]...)
			break
		}
	}
}

func (o Options) Get(name string) (any, bool) {
	value, ok := o.values[name]
	return value, ok
}

func (o Options) Len() int {
	return len(o.keys)
}

// Keys returns option names in insertion order.
func (o Options) Keys() []string {
	out := make([]string, len(o.keys))
	copy(out, o.keys)
	return out
}

// Clone returns an independent copy. Nested values are shared.
func (o Options) Clone() Options {
	var out Options
	for _, key := range o.keys {
		out.Set(key, o.values[key])
	}
	return out
}

// Merge layers overrides on top of base. Names present in both keep the
// position they had in base and take the override's value; names only in
// overrides are appended in their own order.
func Merge(base, overrides Options) Options {
	out := base.Clone()
	for _, key := range overrides.keys {
		out.Set(key, overrides.values[key])
	}
	return out
}

func (o Options) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(o.values[key])
		if err != nil {
			return nil, fmt.Errorf("marshal option %s: %w", key, err)
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object keeping member order. Numbers are kept
// as json.Number so integers survive unchanged.
func (o *Options) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("decode options: %w", err)
	}
	if tok == nil {
		*o = Options{}
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errors.New("decode options: expected JSON object")
	}

	var out Options
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("decode options: %w", err)
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("decode options: unexpected token %v", tok)
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("decode option %s: %w", name, err)
		}
		out.Set(name, value)
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("decode options: %w", err)
	}

	*o = out
	return nil
}

// UnmarshalYAML decodes a YAML mapping keeping document order.
func (o *Options) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("options: expected mapping, got %s", nodeKindName(node.Kind))
	}

	var out Options
	for i := 0; i+1 < len(node.Content); i += 2 {
		var name string
		if err := node.Content[i].Decode(&name); err != nil {
			return fmt.Errorf("options: decode name at line %d: %w", node.Content[i].Line, err)
		}
		var value any
		if err := node.Content[i+1].Decode(&value); err != nil {
			return fmt.Errorf("options[%s]: %w", name, err)
		}
		out.Set(name, value)
	}

	*o = out
	return nil
}
