package gemini

// promptData is the data passed to the prompt template.
type promptData struct {
	// Prompt is the user's story request.
	Prompt string
}
