// ABOUTME: Gemini generateContent client for bot reply generation
// ABOUTME: History is flattened into labelled text parts, matching the single-turn prompt shape

package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/sendero/funnel-gateway/internal/store"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

type geminiError struct {
	Error struct {
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// GeminiClient calls the generateContent endpoint.
type GeminiClient struct {
	httpClient *http.Client
	baseURL    string
}

// NewGeminiClient creates a client using the given HTTP client.
func NewGeminiClient(httpClient *http.Client) *GeminiClient {
	return &GeminiClient{
		httpClient: httpClient,
		baseURL:    defaultGeminiBaseURL,
	}
}

// Generate flattens the system prompt and history into labelled text parts
// and returns the first candidate's text.
func (c *GeminiClient) Generate(ctx context.Context, req *Request) (string, error) {
	parts := make([]geminiPart, 0, len(req.History)+2)
	if req.SystemPrompt != "" {
		parts = append(parts, geminiPart{Text: "[SYSTEM INSTRUCTIONS]\n" + req.SystemPrompt + "\n\n"})
	}
	for _, msg := range req.History {
		label := "Assistant"
		if msg.Direction == store.DirectionIncoming {
			label = "User"
		}
		parts = append(parts, geminiPart{Text: label + ": " + msg.Text + "\n"})
	}
	parts = append(parts, geminiPart{Text: "User: " + req.UserText})

	body, err := json.Marshal(&geminiRequest{Contents: []geminiContent{{Parts: parts}}})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		c.baseURL, url.PathEscape(req.Model), url.QueryEscape(req.APIKey))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(body))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

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
		var apiErr geminiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			return "", fmt.Errorf("gemini api status %d: %s", resp.StatusCode, apiErr.Error.Message)
		}
		return "", fmt.Errorf("gemini api status %d", resp.StatusCode)
	}

	var parsed geminiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", ErrEmptyCompletion
	}
	return parsed.Candidates[0].Content.Parts[0].Text, nil
}
