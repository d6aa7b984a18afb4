package session

import (
	"math/rand/v2"
	"sync"
)

// Starters are example prompts offered before the first submission.
var Starters = []string{
	"Create a counting game with colorful numbers and animal sounds",
	"Build a simple alphabet learning app with pictures",
	"Make a color matching game with basic shapes",
	"Create a simple memory game with fruits",
	"Build a virtual fish tank with interactive fish",
	"Create a multiplication tables game with rewards",
	"Make a basic math quiz with animated characters",
	"Design a simple typing game with falling words",
	"Create a basic pixel art editor",
	"Build a virtual pet care simulator",
	"Design a basic maze game with levels",
	"Create a story generator with choices",
	"Create a space exploration game with planet facts",
	"Make a word puzzle game with hints",
	"Create a geography quiz with interactive maps",
	"Design a virtual garden with plant growth",
	"Create a full-featured calculator with scientific functions",
	"Build a music composition tool with multiple tracks",
	"Create a comic strip maker with templates",
	"Create an interactive periodic table",
	"Build a historical timeline explorer",
	"Make a solar system simulator",
}

// StarterDeck deals starters without repeating one until all have been
// used.
type StarterDeck struct {
	mu     sync.Mutex
	unused []string
}

// Next returns a random starter that has not been dealt since the deck was
// last refilled.
func (d *StarterDeck) Next() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.unused) == 0 {
		d.unused = append([]string(nil), Starters...)
	}
	i := rand.IntN(len(d.unused))
	s := d.unused[i]
	d.unused = append(d.unused[:i], d.unused[i+1:]...)
	return s
}
