package openai_provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Usage reports token consumption for a completion call.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

// ChunkFunc receives incremental completion text.
type ChunkFunc func(text string)

// Client talks to the OpenAI chat completions API over plain HTTP.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// Message represents a message in a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type request struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream,omitempty"`
}

type response struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

// streamEvent is a single SSE data payload from a streaming completion.
type streamEvent struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
}

// NewClient creates a new OpenAI client.
func NewClient(apiKey, baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		apiKey:     apiKey,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Complete returns the full generated text for a prompt.
func (c *Client) Complete(ctx context.Context, model, system, prompt string) (string, Usage, error) {
	body, err := json.Marshal(request{Model: model, Messages: buildMessages(system, prompt)})
	if err != nil {
		return "", Usage{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := c.post(ctx, body)
	if err != nil {
		return "", Usage{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", Usage{}, fmt.Errorf("openai API returned status: %d", resp.StatusCode)
	}

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", Usage{}, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", out.Usage, fmt.Errorf("openai API returned no choices")
	}
	return out.Choices[0].Message.Content, out.Usage, nil
}

// CompleteStream delivers generated text incrementally through onChunk and
// returns the assembled full text.
func (c *Client) CompleteStream(ctx context.Context, model, system, prompt string, onChunk ChunkFunc) (string, Usage, error) {
	body, err := json.Marshal(request{Model: model, Messages: buildMessages(system, prompt), Stream: true})
	if err != nil {
		return "", Usage{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := c.post(ctx, body)
	if err != nil {
		return "", Usage{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", Usage{}, fmt.Errorf("openai API returned status: %d", resp.StatusCode)
	}

	var (
		full  strings.Builder
		usage Usage
	)
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			continue
		}
		var ev streamEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			continue // tolerate malformed keep-alive frames
		}
		if ev.Usage != nil {
			usage = *ev.Usage
		}
		for _, ch := range ev.Choices {
			if ch.Delta.Content == "" {
				continue
			}
			full.WriteString(ch.Delta.Content)
			if onChunk != nil {
				onChunk(ch.Delta.Content)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return full.String(), usage, fmt.Errorf("stream read failed: %w", err)
	}
	return full.String(), usage, nil
}

// CountTokensEstimate approximates the token count of a text. Rough
// chars/4 heuristic, good enough for budgeting when the API omits usage.
func (c *Client) CountTokensEstimate(text string) int64 {
	return int64((len(text) + 3) / 4)
}

func (c *Client) post(ctx context.Context, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	return resp, nil
}

func buildMessages(system, prompt string) []Message {
	var msgs []Message
	if strings.TrimSpace(system) != "" {
		msgs = append(msgs, Message{Role: "system", Content: system})
	}
	msgs = append(msgs, Message{Role: "user", Content: prompt})
	return msgs
}
