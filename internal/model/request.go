package model

type ChatRequest struct {
	Prompt    string   `json:"prompt" binding:"required"`
	ChatID    string   `json:"chatId"`
	Model     string   `json:"model"`
	ImageURLs []string `json:"imageUrls"`
}

type MultiChatRequest struct {
	Prompt    string   `json:"prompt" binding:"required"`
	ChatID    string   `json:"chatId"`
	Models    []string `json:"models"`
	ImageURLs []string `json:"imageUrls"`
}

// CompareRequest runs the configured comparison trio. Instructions are handed to the judge.
type CompareRequest struct {
	Prompt       string   `json:"prompt" binding:"required"`
	ChatID       string   `json:"chatId"`
	ImageURLs    []string `json:"imageUrls"`
	Instructions string   `json:"instructions"`
}

type SelectModelRequest struct {
	ChatID        string `json:"chatId" binding:"required"`
	MessageID     string `json:"messageId" binding:"required"`
	SelectedModel string `json:"selectedModel" binding:"required"`
}

type CreateSessionRequest struct {
	Title string `json:"title"`
}

type RenameSessionRequest struct {
	Title string `json:"title" binding:"required"`
}
