// Package safety screens generation prompts before they leave the process.
package safety

import (
	"regexp"
	"strings"

	"github.com/kidcode-ai/kidcode/pkg/apperr"
)

// Rejection messages shown to the user.
const (
	ReasonForbidden      = "I can't help with that. Let's focus on fun learning projects instead! 🌟"
	ReasonNotEducational = "Let's make something fun and educational! Try asking about creating games, animations, or other learning projects! 🎨"
)

// Policy is a forbidden-pattern list plus a set of keywords of which at
// least one must appear.
type Policy struct {
	Forbidden []*regexp.Regexp
	Keywords  []string
}

// DefaultPolicy is the policy applied to every generate prompt.
var DefaultPolicy = &Policy{
	Forbidden: []*regexp.Regexp{
		// harmful
		regexp.MustCompile(`(?i)\b(hack|exploit|crack|steal|damage)\b`),
		// inappropriate
		regexp.MustCompile(`(?i)\b(adult|nsfw|gambling|betting)\b`),
		// destructive
		regexp.MustCompile(`(?i)\b(delete|remove|drop|truncate)\b`),
		// sensitive data
		regexp.MustCompile(`(?i)\b(password|credit.?card|ssn|social.?security)\b`),
		regexp.MustCompile(`(?i)\b(crypto|bitcoin|ethereum|nft)\b`),
		// dynamic code
		regexp.MustCompile(`(?i)\b(eval|function\(|new Function)\b`),
		regexp.MustCompile(`(?i)\b(sql|database|select|insert|update)\b`),
		// network
		regexp.MustCompile(`(?i)\b(fetch|xhr|ajax)\b`),
		// browser storage
		regexp.MustCompile(`(?i)\b(localStorage|sessionStorage|indexedDB)\b`),
	},
	Keywords: []string{
		"learn", "practice", "teach", "explain", "help",
		"create", "build", "make", "design", "develop",
		"game", "animation", "story", "quiz", "puzzle",
		"math", "science", "art", "music", "code",
	},
}

// Check returns a content policy error if prompt is rejected by p.
func (p *Policy) Check(prompt string) error {
	lower := strings.ToLower(prompt)
	for _, re := range p.Forbidden {
		if re.MatchString(lower) {
			return apperr.ContentPolicy(ReasonForbidden)
		}
	}
	for _, kw := range p.Keywords {
		if strings.Contains(lower, kw) {
			return nil
		}
	}
	return apperr.ContentPolicy(ReasonNotEducational)
}

// Check applies DefaultPolicy.
func Check(prompt string) error {
	return DefaultPolicy.Check(prompt)
}
