// Package markdown extracts knowledge-graph fragments from Markdown files.
//
// Parsing never fails fatally: malformed frontmatter degrades to body text,
// lines matching neither the observation nor the relation grammar stay plain
// body content, and the raw body is always retained for round-trip reads.
package markdown

import (
	"bytes"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	// - relation_type [[Target Title]] (optional context)
	relationRe = regexp.MustCompile(`^-\s+([^\[\]]+?)\s+\[\[([^\[\]]+?)\]\]\s*(?:\((.*?)\))?\s*$`)
	// - [category] content ... (optional context)
	observationRe = regexp.MustCompile(`^-\s+(?:\[([^\[\]]*)\]\s*)?(.+?)\s*(?:\((.*?)\))?\s*$`)
	tagRe         = regexp.MustCompile(`(?:^|\s)#([A-Za-z][A-Za-z0-9_/-]*)`)
	headingRe     = regexp.MustCompile(`^#\s+(.+?)\s*$`)
)

// DefaultCategory is assigned to observations without an explicit bracket
// and to entities without an explicit type.
const DefaultCategory = "note"

// Observation is an atomic fact extracted from a list item.
type Observation struct {
	Category string   `json:"category"`
	Content  string   `json:"content"`
	Tags     []string `json:"tags,omitempty"`
	Context  string   `json:"context,omitempty"`
}

// Relation is a directed, typed edge extracted from a wikilink list item.
// The target is the literal link text; resolution to an entity happens in
// the store.
type Relation struct {
	Type    string `json:"type"`
	Target  string `json:"target"`
	Context string `json:"context,omitempty"`
}

// Draft is the parsed graph fragment for one file.
type Draft struct {
	Title        string
	EntityType   string
	Permalink    string // explicit frontmatter permalink, "" if absent
	Tags         []string
	Frontmatter  Frontmatter
	Observations []Observation
	Relations    []Relation
	Body         string // everything after the frontmatter block, verbatim
}

// Parse extracts a Draft from raw file bytes. The returned draft's Title is
// empty when neither frontmatter nor a heading provides one; callers fall
// back to the filename stem (see Stem).
func Parse(data []byte) *Draft {
	fm, body := splitFrontmatter(data)

	d := &Draft{
		Frontmatter: fm,
		Body:        body,
		EntityType:  DefaultCategory,
	}

	if fm != nil {
		d.Title = fm.GetString(KeyTitle)
		if t := fm.GetString(KeyType); t != "" {
			d.EntityType = t
		}
		d.Permalink = fm.GetString(KeyPermalink)
		d.Tags = append(d.Tags, fm.StringList(KeyTags)...)
	}

	seenTags := make(map[string]struct{}, len(d.Tags))
	for _, t := range d.Tags {
		seenTags[t] = struct{}{}
	}
	addTag := func(t string) {
		if _, dup := seenTags[t]; dup {
			return
		}
		seenTags[t] = struct{}{}
		d.Tags = append(d.Tags, t)
	}

	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)

		if d.Title == "" {
			if m := headingRe.FindStringSubmatch(trimmed); m != nil {
				d.Title = m[1]
			}
		}

		if !strings.HasPrefix(trimmed, "- ") {
			for _, m := range tagRe.FindAllStringSubmatch(trimmed, -1) {
				addTag(m[1])
			}
			continue
		}

		if m := relationRe.FindStringSubmatch(trimmed); m != nil {
			relType := strings.TrimSpace(m[1])
			target := strings.TrimSpace(m[2])
			if relType != "" && target != "" {
				d.Relations = append(d.Relations, Relation{
					Type:    relType,
					Target:  target,
					Context: strings.TrimSpace(m[3]),
				})
				continue
			}
		}

		if m := observationRe.FindStringSubmatch(trimmed); m != nil {
			obs := Observation{
				Category: strings.TrimSpace(m[1]),
				Content:  strings.TrimSpace(m[2]),
				Context:  strings.TrimSpace(m[3]),
			}
			if obs.Category == "" {
				obs.Category = DefaultCategory
			}
			// #tags are extracted but retained in the literal content.
			for _, tm := range tagRe.FindAllStringSubmatch(obs.Content, -1) {
				obs.Tags = append(obs.Tags, tm[1])
				addTag(tm[1])
			}
			if obs.Content != "" {
				d.Observations = append(d.Observations, obs)
			}
		}
	}

	return d
}

// splitFrontmatter separates the YAML head block (between leading ---
// delimiters) from the body. Invalid YAML or a missing closing delimiter
// degrades to treating the whole file as body.
func splitFrontmatter(data []byte) (Frontmatter, string) {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")

	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, string(data)
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return nil, string(data)
	}

	fm, err := decodeFrontmatter(rest[:idx])
	if err != nil {
		return nil, string(data)
	}

	afterDelim := rest[idx+1+len(delim):]
	body := strings.TrimLeft(string(afterDelim), "\n\r")
	return fm, body
}

// Render serializes a draft back to file bytes: canonical frontmatter block
// followed by the body. Parse(Render(d)) is semantically equal to d.
func Render(d *Draft) ([]byte, error) {
	fm := make(Frontmatter, len(d.Frontmatter))
	copy(fm, d.Frontmatter)
	if d.Title != "" {
		fm.Set(KeyTitle, d.Title)
	}
	if d.EntityType != "" {
		fm.Set(KeyType, d.EntityType)
	}
	if d.Permalink != "" {
		fm.Set(KeyPermalink, d.Permalink)
	}
	if len(d.Tags) > 0 {
		fm.Set(KeyTags, d.Tags)
	}

	var buf bytes.Buffer
	if len(fm) > 0 {
		block, err := encodeFrontmatter(fm)
		if err != nil {
			return nil, err
		}
		buf.WriteString("---\n")
		buf.Write(block)
		buf.WriteString("---\n\n")
	}
	buf.WriteString(d.Body)
	if !strings.HasSuffix(d.Body, "\n") {
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// Stem returns the filename without directory or extension, used as the
// last-resort title.
func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
