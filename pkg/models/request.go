package models

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single turn in the conversation log.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// TextGenerationRequest is a Hugging Face text-generation inference request.
type TextGenerationRequest struct {
	Inputs     string                   `json:"inputs"`
	Parameters TextGenerationParameters `json:"parameters"`
}

// TextGenerationParameters holds sampling parameters for text generation.
type TextGenerationParameters struct {
	MaxNewTokens      int     `json:"max_new_tokens"`
	Temperature       float64 `json:"temperature"`
	TopP              float64 `json:"top_p"`
	TopK              int     `json:"top_k"`
	RepetitionPenalty float64 `json:"repetition_penalty"`
	ReturnFullText    bool    `json:"return_full_text"`
	WaitForModel      bool    `json:"wait_for_model"`
	UseCache          bool    `json:"use_cache"`
}
