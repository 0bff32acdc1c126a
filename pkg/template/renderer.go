// Package template renders {{dotted.path}} placeholders against a variable
// scope. Rendering never fails: an absent path or a malformed scope
// degrades to the empty string.
package template

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\{\{([^}]+)\}\}`)

var indexRe = regexp.MustCompile(`^(.+)\[(\d+)\]$`)

// Render substitutes every {{dotted.path}} placeholder in template with the
// stringified value at that path in scope. Only property-path lookup is
// supported inside placeholders.
func Render(template string, scope map[string]interface{}) string {
	if !strings.Contains(template, "{{") {
		return template
	}

	return placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		path := strings.TrimSpace(match[2 : len(match)-2])
		value := lookupPath(scope, path)
		if value == nil {
			return ""
		}
		return fmt.Sprintf("%v", value)
	})
}

// MergeScopes builds a single lookup scope from base and overlay, with
// overlay entries winning on key collisions. Executors use this to expose
// the run input and the node bag as one variable scope.
func MergeScopes(base, overlay map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(base)+len(overlay))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overlay {
		merged[k] = v
	}
	return merged
}

// lookupPath retrieves a nested value using dot notation, with optional
// [index] access into arrays, e.g. "lead.tags[0]".
func lookupPath(scope map[string]interface{}, path string) interface{} {
	var current interface{} = scope

	for _, part := range strings.Split(path, ".") {
		if m := indexRe.FindStringSubmatch(part); m != nil {
			currentMap, ok := current.(map[string]interface{})
			if !ok {
				return nil
			}
			array, ok := currentMap[m[1]].([]interface{})
			if !ok {
				return nil
			}
			index, err := strconv.Atoi(m[2])
			if err != nil || index >= len(array) {
				return nil
			}
			current = array[index]
			continue
		}

		currentMap, ok := current.(map[string]interface{})
		if !ok {
			return nil
		}
		current, ok = currentMap[part]
		if !ok {
			return nil
		}
	}

	return current
}
