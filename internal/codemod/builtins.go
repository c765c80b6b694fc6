package codemod

import (
	"fmt"
	"regexp"
	"strings"
)

// NewBuiltinRegistry returns a registry seeded with the shipped catalog:
// rename_identifier_in_file (the transform used by spec boundary scenarios
// #4/#5), insert_import, and wrap_in_try_catch at two versions, exercising
// the `@v<N>` pinning path.
func NewBuiltinRegistry() *Registry {
	r := NewRegistry()
	r.Register("rename_identifier_in_file", 1, renameIdentifierInFile)
	r.Register("insert_import", 1, insertImport)
	r.Register("wrap_in_try_catch", 1, wrapInTryCatchV1)
	r.Register("wrap_in_try_catch", 2, wrapInTryCatchV2)
	return r
}

func wordBoundaryPattern(identifier string) *regexp.Regexp {
	return regexp.MustCompile(`\b` + regexp.QuoteMeta(identifier) + `\b`)
}

// renameIdentifierInFile replaces whole-word occurrences of params["from"]
// with params["to"].
func renameIdentifierInFile(src string, params map[string]any) (string, Summary, error) {
	from, ok := params["from"].(string)
	if !ok || from == "" {
		return "", Summary{}, fmt.Errorf("rename_identifier_in_file: missing required param %q", "from")
	}
	to, ok := params["to"].(string)
	if !ok || to == "" {
		return "", Summary{}, fmt.Errorf("rename_identifier_in_file: missing required param %q", "to")
	}

	pattern := wordBoundaryPattern(from)
	matches := pattern.FindAllStringIndex(src, -1)
	out := pattern.ReplaceAllString(src, to)

	return out, Summary{
		Changed:      len(matches) > 0,
		Replacements: len(matches),
		LineDelta:    strings.Count(out, "\n") - strings.Count(src, "\n"),
	}, nil
}

// insertImport inserts params["importLine"] after the first
// params["afterLine"] lines, so it becomes the line at 0-indexed position
// afterLine (0 inserts at the top, len(lines) appends at the end).
func insertImport(src string, params map[string]any) (string, Summary, error) {
	importLine, ok := params["importLine"].(string)
	if !ok || importLine == "" {
		return "", Summary{}, fmt.Errorf("insert_import: missing required param %q", "importLine")
	}
	afterLineF, ok := params["afterLine"].(float64)
	if !ok {
		return "", Summary{}, fmt.Errorf("insert_import: missing required param %q", "afterLine")
	}
	afterLine := int(afterLineF)

	lines := strings.Split(src, "\n")
	if afterLine < 0 || afterLine > len(lines) {
		return "", Summary{}, fmt.Errorf("insert_import: afterLine %d out of range (0..%d)", afterLine, len(lines))
	}

	out := make([]string, 0, len(lines)+1)
	out = append(out, lines[:afterLine]...)
	out = append(out, importLine)
	out = append(out, lines[afterLine:]...)
	result := strings.Join(out, "\n")

	return result, Summary{
		Changed:      true,
		Replacements: 1,
		LineDelta:    1,
	}, nil
}

// wrapInTryCatchV1 wraps the first occurrence of params["blockBody"] with
// a bare try/catch that swallows errors by logging them.
func wrapInTryCatchV1(src string, params map[string]any) (string, Summary, error) {
	body, ok := params["blockBody"].(string)
	if !ok || body == "" {
		return "", Summary{}, fmt.Errorf("wrap_in_try_catch: missing required param %q", "blockBody")
	}
	if !strings.Contains(src, body) {
		return src, Summary{Changed: false}, nil
	}
	wrapped := "try {\n" + body + "\n} catch (err) {\n  console.error(err);\n}"
	out := strings.Replace(src, body, wrapped, 1)
	return out, Summary{
		Changed:      true,
		Replacements: 1,
		LineDelta:    strings.Count(out, "\n") - strings.Count(src, "\n"),
	}, nil
}

// wrapInTryCatchV2 is as v1, but the catch clause re-throws after logging
// and an empty finally clause follows, matching a stricter
// error-propagation policy than v1.
func wrapInTryCatchV2(src string, params map[string]any) (string, Summary, error) {
	body, ok := params["blockBody"].(string)
	if !ok || body == "" {
		return "", Summary{}, fmt.Errorf("wrap_in_try_catch: missing required param %q", "blockBody")
	}
	if !strings.Contains(src, body) {
		return src, Summary{Changed: false}, nil
	}
	wrapped := "try {\n" + body + "\n} catch (err) {\n  console.error(err);\n  throw err;\n} finally {\n  // cleanup\n}"
	out := strings.Replace(src, body, wrapped, 1)
	return out, Summary{
		Changed:      true,
		Replacements: 1,
		LineDelta:    strings.Count(out, "\n") - strings.Count(src, "\n"),
	}, nil
}
