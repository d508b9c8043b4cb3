package options

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// KeyPair associates a short wire code with its long option name.
type KeyPair struct {
	Short string
	Long  string
}

// KeyMapping is an immutable bidirectional table between short codes and long
// option names. When two short codes declare the same long name the later
// declaration wins the reverse lookup.
type KeyMapping struct {
	pairs   []KeyPair
	toLong  map[string]string
	toShort map[string]string
}

func NewKeyMapping(pairs ...KeyPair) KeyMapping {
	m := KeyMapping{
		pairs:   make([]KeyPair, 0, len(pairs)),
		toLong:  make(map[string]string, len(pairs)),
		toShort: make(map[string]string, len(pairs)),
	}
	for _, p := range pairs {
		m.add(p)
	}
	return m
}

// KeyMappingFromMap builds a table from an unordered short->long map. Short
// codes are applied in lexicographic order so duplicate long names resolve the
// same way on every call.
func KeyMappingFromMap(in map[string]string) KeyMapping {
	shorts := make([]string, 0, len(in))
	for short := range in {
		shorts = append(shorts, short)
	}
	sort.Strings(shorts)

	pairs := make([]KeyPair, 0, len(shorts))
	for _, short := range shorts {
		pairs = append(pairs, KeyPair{Short: short, Long: in[short]})
	}
	return NewKeyMapping(pairs...)
}

func (m *KeyMapping) add(p KeyPair) {
	if p.Short == "" || p.Long == "" {
		return
	}
	if prev, ok := m.toLong[p.Short]; ok {
		if m.toShort[prev] == p.Short {
			delete(m.toShort, prev)
		}
		for i := range m.pairs {
			if m.pairs[i].Short == p.Short {
				m.pairs[i].Long = p.Long
			}
		}
	} else {
		m.pairs = append(m.pairs, p)
	}
	m.toLong[p.Short] = p.Long
	m.toShort[p.Long] = p.Short
}

// Short returns the wire code for a long option name.
func (m KeyMapping) Short(long string) (string, bool) {
	short, ok := m.toShort[long]
	return short, ok
}

// Long returns the option name for a wire code.
func (m KeyMapping) Long(short string) (string, bool) {
	long, ok := m.toLong[short]
	return long, ok
}

func (m KeyMapping) Len() int {
	return len(m.pairs)
}

// Pairs returns the table in declaration order.
func (m KeyMapping) Pairs() []KeyPair {
	out := make([]KeyPair, len(m.pairs))
	copy(out, m.pairs)
	return out
}

// UnmarshalYAML decodes a short->long mapping node keeping document order.
func (m *KeyMapping) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("options_keys: expected mapping, got %s", nodeKindName(node.Kind))
	}

	pairs := make([]KeyPair, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var short, long string
		if err := node.Content[i].Decode(&short); err != nil {
			return fmt.Errorf("options_keys: decode key at line %d: %w", node.Content[i].Line, err)
		}
		if err := node.Content[i+1].Decode(&long); err != nil {
			return fmt.Errorf("options_keys[%s]: %w", short, err)
		}
		pairs = append(pairs, KeyPair{Short: short, Long: long})
	}
	*m = NewKeyMapping(pairs...)
	return nil
}

// DefaultKeys returns the standard Flyimg option table.
func DefaultKeys() KeyMapping {
	return NewKeyMapping(
		KeyPair{"q", "quality"},
		KeyPair{"o", "output"},
		KeyPair{"unsh", "unsharp"},
		KeyPair{"sh", "sharpen"},
		KeyPair{"blr", "blur"},
		KeyPair{"fc", "face-crop"},
		KeyPair{"fcp", "face-crop-position"},
		KeyPair{"fb", "face-blur"},
		KeyPair{"w", "width"},
		KeyPair{"h", "height"},
		KeyPair{"c", "crop"},
		KeyPair{"bg", "background"},
		KeyPair{"st", "strip"},
		KeyPair{"ao", "auto-orient"},
		KeyPair{"rz", "resize"},
		KeyPair{"g", "gravity"},
		KeyPair{"f", "filter"},
		KeyPair{"r", "rotate"},
		KeyPair{"t", "text"},
		KeyPair{"tc", "text-color"},
		KeyPair{"ts", "text-size"},
		KeyPair{"tbg", "text-bg"},
		KeyPair{"sc", "scale"},
		KeyPair{"sf", "sampling-factor"},
		KeyPair{"rf", "refresh"},
		KeyPair{"smc", "smart-crop"},
		KeyPair{"ett", "extent"},
		KeyPair{"par", "preserve-aspect-ratio"},
		KeyPair{"pns", "preserve-natural-size"},
		KeyPair{"webpl", "webp-lossless"},
		KeyPair{"webpm", "webp-method"},
		KeyPair{"gf", "gif-frame"},
		KeyPair{"e", "extract"},
		KeyPair{"p1x", "extract-top-x"},
		KeyPair{"p1y", "extract-top-y"},
		KeyPair{"p2x", "extract-bottom-x"},
		KeyPair{"p2y", "extract-bottom-y"},
		KeyPair{"pdfp", "pdf-page-number"},
		KeyPair{"dnst", "density"},
		KeyPair{"tm", "time"},
		KeyPair{"clsp", "colorspace"},
		KeyPair{"mnchr", "monochrome"},
	)
}

func nodeKindName(kind yaml.Kind) string {
	switch kind {
	case yaml.DocumentNode:
		return "document"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.MappingNode:
		return "mapping"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return "unknown"
	}
}
