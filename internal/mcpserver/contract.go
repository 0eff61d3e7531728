package mcpserver

// NoteFormatContract describes the canonical knowledge file format that
// LLM consumers should follow when writing notes.
const NoteFormatContract = `# Loam Knowledge File Format

Every Markdown file stored in Loam MUST follow this structure.

## Structure

` + "```" + `markdown
---
title: Human-readable title        # OPTIONAL – falls back to the first # heading, then the filename
type: note                         # OPTIONAL – entity category (note, person, project, ...)
permalink: folder/stable-id        # OPTIONAL – explicit stable identifier; lowercase slug segments
tags:                              # OPTIONAL – YAML list
  - tag-one
---

# Title heading

Free Markdown body.

## Observations
- [category] an atomic fact about this entity #tag (optional context)
- a fact without a category defaults to the "note" category

## Relations
- relation_type [[Target Title]] (optional context)
` + "```" + `

## Rules

1. **Frontmatter is optional.** A plain Markdown file is a valid entity;
   its title comes from the first ` + "`" + `# heading` + "`" + ` or the filename stem.
2. **Observations** are list items: ` + "`" + `- [category] content #tags (context)` + "`" + `.
   The bracketed category and trailing parenthesized context are optional.
3. **Relations** are list items with a wikilink: ` + "`" + `- relation_type [[Target]]` + "`" + `.
   The target is another entity's title or permalink. Forward references to
   entities that do not exist yet are allowed; they resolve automatically
   when the target is created.
4. **Permalinks** are lowercase slugs; segments separated by ` + "`" + `/` + "`" + `.
   Omit the field to let Loam derive one from the title. An explicit
   permalink survives file moves.
5. **Tags** appear in frontmatter or inline as ` + "`" + `#tag` + "`" + ` in body text.
6. **File paths** end with ` + "`" + `.md` + "`" + ` and use forward slashes.
7. **References** to entities use ` + "`" + `memory://<project>/<permalink>` + "`" + ` URLs
   or a bare permalink resolved against the current project.

## Example

` + "```" + `markdown
---
title: Coffee Brewing
type: guide
tags:
  - drinks
---

# Coffee Brewing

## Observations
- [method] pour over gives the cleanest cup #brewing
- [ratio] 1:16 coffee to water (by weight)

## Relations
- requires [[Burr Grinder]]
- pairs_with [[Breakfast Recipes]] (weekend mornings)
` + "```" + `
`
