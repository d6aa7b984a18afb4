package provider

import (
	"regexp"
	"strings"
)

var (
	openingFence = regexp.MustCompile("(?m)^```[\\w-]*\\n?")
	closingFence = regexp.MustCompile("(?m)\\n?```$")
	annotation   = regexp.MustCompile(`/\*\s*([A-Z]+):\s*([^*]+)\*/`)
)

// Annotation tags recognised per operation.
var (
	GenerateTags = []string{"INFO", "NOTE", "WARN"}
	DebugTags    = []string{"FIX"}
	ImproveTags  = []string{"UPDATE"}
)

// TrimCodeDelimiters removes markdown code fences and every backtick from
// model output.
func TrimCodeDelimiters(code string) string {
	code = openingFence.ReplaceAllString(code, "")
	code = closingFence.ReplaceAllString(code, "")
	code = strings.ReplaceAll(code, "`", "")
	return strings.TrimSpace(code)
}

// ExtractAnnotations returns the text of every /* TAG: text */ comment whose
// tag is in tags, in document order.
func ExtractAnnotations(code string, tags []string) []string {
	var notes []string
	for _, m := range annotation.FindAllStringSubmatch(code, -1) {
		for _, tag := range tags {
			if m[1] == tag {
				notes = append(notes, strings.TrimSpace(m[2]))
				break
			}
		}
	}
	return notes
}
