package session

import "sync"

// DefaultLanguage is the only document language the assistant produces.
const DefaultLanguage = "html"

// Editor holds the current document.
type Editor struct {
	mu       sync.RWMutex
	code     string
	language string
}

// NewEditor returns an empty html editor.
func NewEditor() *Editor {
	return &Editor{language: DefaultLanguage}
}

// Code returns the current document.
func (e *Editor) Code() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.code
}

// Language returns the document language.
func (e *Editor) Language() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.language
}

// SetCode replaces the document.
func (e *Editor) SetCode(code string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.code = code
}

// Reset empties the document.
func (e *Editor) Reset() {
	e.SetCode("")
}
