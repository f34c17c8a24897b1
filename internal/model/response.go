package model

// APIResponse is the envelope of every non-streaming endpoint.
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

type ComparisonResult struct {
	SelectedModel string   `json:"selectedModel"`
	Reasoning     string   `json:"reasoning"`
	AllModels     []string `json:"allModels"`
}

type CompareResponse struct {
	ChatID           string           `json:"chatId"`
	Message          Message          `json:"message"`
	ComparisonResult ComparisonResult `json:"comparisonResult"`
}

type SelectModelResponse struct {
	ChatID        string `json:"chatId"`
	MessageID     string `json:"messageId"`
	SelectedModel string `json:"selectedModel"`
}

type HealthResponse struct {
	Status   string `json:"status"`
	Storage  string `json:"storage"`
	Sessions int    `json:"sessions"`
}
