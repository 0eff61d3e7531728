package markdown

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Recognized frontmatter keys promoted into structured entity fields.
// Everything else is preserved verbatim.
const (
	KeyTitle     = "title"
	KeyType      = "type"
	KeyPermalink = "permalink"
	KeyTags      = "tags"
)

// Field is one frontmatter key/value pair.
type Field struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// Frontmatter is an ordered key→value mapping. Order matters: unrecognized
// keys must round-trip in their original position across rewrites.
type Frontmatter []Field

// Get returns the value for key and whether it is present.
func (f Frontmatter) Get(key string) (any, bool) {
	for _, fld := range f {
		if fld.Key == key {
			return fld.Value, true
		}
	}
	return nil, false
}

// GetString returns the value for key if it is a string, else "".
func (f Frontmatter) GetString(key string) string {
	if v, ok := f.Get(key); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// StringList returns the value for key coerced to a string slice: a YAML
// list yields its string items, a bare string yields a one-element slice.
func (f Frontmatter) StringList(key string) []string {
	v, ok := f.Get(key)
	if !ok {
		return nil
	}
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	case []any:
		var out []string
		for _, item := range t {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Set replaces the value for key in place, or appends if absent.
func (f *Frontmatter) Set(key string, value any) {
	for i := range *f {
		if (*f)[i].Key == key {
			(*f)[i].Value = value
			return
		}
	}
	*f = append(*f, Field{Key: key, Value: value})
}

// MarshalJSON preserves key order as an array of pairs.
func (f Frontmatter) MarshalJSON() ([]byte, error) {
	return json.Marshal([]Field(f))
}

// UnmarshalJSON restores the ordered pair form.
func (f *Frontmatter) UnmarshalJSON(data []byte) error {
	var fields []Field
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*f = fields
	return nil
}

// decodeFrontmatter turns a YAML mapping block into ordered fields.
// A non-mapping document or invalid YAML yields (nil, error) and the caller
// degrades to treating the block as body text.
func decodeFrontmatter(block []byte) (Frontmatter, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(block, &doc); err != nil {
		return nil, err
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, fmt.Errorf("markdown: empty frontmatter document")
	}
	m := doc.Content[0]
	if m.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("markdown: frontmatter is not a mapping")
	}
	var out Frontmatter
	for i := 0; i+1 < len(m.Content); i += 2 {
		var v any
		if err := m.Content[i+1].Decode(&v); err != nil {
			return nil, err
		}
		out = append(out, Field{Key: m.Content[i].Value, Value: v})
	}
	return out, nil
}

// encodeFrontmatter serializes fields back to a YAML block, recognized keys
// first in canonical order, all remaining keys in their original order.
func encodeFrontmatter(f Frontmatter) ([]byte, error) {
	m := &yaml.Node{Kind: yaml.MappingNode}
	appendPair := func(fld Field) error {
		keyNode := &yaml.Node{Kind: yaml.ScalarNode, Value: fld.Key}
		valNode := &yaml.Node{}
		if err := valNode.Encode(fld.Value); err != nil {
			return err
		}
		m.Content = append(m.Content, keyNode, valNode)
		return nil
	}

	recognized := []string{KeyTitle, KeyType, KeyPermalink, KeyTags}
	isRecognized := func(k string) bool {
		for _, r := range recognized {
			if k == r {
				return true
			}
		}
		return false
	}
	for _, key := range recognized {
		if v, ok := f.Get(key); ok {
			if err := appendPair(Field{Key: key, Value: v}); err != nil {
				return nil, err
			}
		}
	}
	for _, fld := range f {
		if isRecognized(fld.Key) {
			continue
		}
		if err := appendPair(fld); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
