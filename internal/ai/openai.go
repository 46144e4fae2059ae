// ABOUTME: OpenAI chat-completions client for bot reply generation
// ABOUTME: Plain HTTP client; history maps to system/user/assistant roles

package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/sendero/funnel-gateway/internal/store"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// Chat roles on the OpenAI wire.
const (
	roleSystem    = "system"
	roleUser      = "user"
	roleAssistant = "assistant"
)

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
}

type openAIResponse struct {
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
}

type openAIError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// OpenAIClient calls the chat completions endpoint.
type OpenAIClient struct {
	httpClient *http.Client
	baseURL    string
}

// NewOpenAIClient creates a client using the given HTTP client.
func NewOpenAIClient(httpClient *http.Client) *OpenAIClient {
	return &OpenAIClient{
		httpClient: httpClient,
		baseURL:    defaultOpenAIBaseURL,
	}
}

// Generate sends the system prompt, history and user text as a chat
// completion request and returns the first choice's content.
func (c *OpenAIClient) Generate(ctx context.Context, req *Request) (string, error) {
	messages := make([]openAIMessage, 0, len(req.History)+2)
	if req.SystemPrompt != "" {
		messages = append(messages, openAIMessage{Role: roleSystem, Content: req.SystemPrompt})
	}
	for _, msg := range req.History {
		role := roleAssistant
		if msg.Direction == store.DirectionIncoming {
			role = roleUser
		}
		messages = append(messages, openAIMessage{Role: role, Content: msg.Text})
	}
	messages = append(messages, openAIMessage{Role: roleUser, Content: req.UserText})

	body, err := json.Marshal(&openAIRequest{Model: req.Model, Messages: messages})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewBuffer(body))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr openAIError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			return "", fmt.Errorf("openai api status %d: %s", resp.StatusCode, apiErr.Error.Message)
		}
		return "", fmt.Errorf("openai api status %d", resp.StatusCode)
	}

	var parsed openAIResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	return parsed.Choices[0].Message.Content, nil
}
