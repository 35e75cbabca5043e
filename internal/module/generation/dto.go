package generation

// GenerateRequest asks for one piece of generated content.
type GenerateRequest struct {
	Prompt       string  `json:"prompt" binding:"required"`
	ModelVersion string  `json:"model_version" binding:"required"`
	MaxTokens    int     `json:"max_tokens,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`
}

// GenerateResponse carries the generated content and the debit that paid
// for it. Exactly one of Content and ContentURL is set, depending on
// whether the model produces text or an image.
type GenerateResponse struct {
	Content          string `json:"content,omitempty"`
	ContentURL       string `json:"content_url,omitempty"`
	ModelVersion     string `json:"model_version"`
	GenerationType   string `json:"generation_type"`
	CreditsUsed      int64  `json:"credits_used"`
	RemainingCredits int64  `json:"remaining_credits"`
}
