// Package ollama implements normalize.Canonicalizer on top of an Ollama or LM Studio
// server, using the OpenAI-compatible chat completions API.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/m-zajac/semcache/normalize"
)

const (
	defaultBaseURL = "http://127.0.0.1:11434"
	defaultModel   = "gpt-oss:20b"
	maxTokens      = 128
)

// Prompt is sent before the user's query.
const Prompt = `Extract the core intent of the user query below.

Rules:
1. "entity" is the kind of thing requested: artist, repository, track, message, page, ...
2. "collection" is the service the data lives in: spotify, github, notion, slack, ...
3. "action" is what to do with it when clear: list, create, search, get.
4. Ignore qualifiers such as "favorite", "recent", "top", "best", "my".
5. Queries with the same meaning must produce the same object.

Answer with a single JSON object and nothing else:
{"entity":"<entity>","collection":"<collection>","action":"<action>"}

Examples:
"Show me my favorite artists on Spotify" -> {"entity":"artist","collection":"spotify","action":"list"}
"List my Spotify artists" -> {"entity":"artist","collection":"spotify","action":"list"}
"What are my top GitHub repositories?" -> {"entity":"repository","collection":"github","action":"list"}
"Show recent Slack messages" -> {"entity":"message","collection":"slack","action":"list"}

Query: `

// Client calls the chat completions endpoint.
type Client struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

var _ normalize.Canonicalizer = &Client{}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the server address. OLLAMA_HOST is used otherwise.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = u
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.client = hc
		}
	}
}

// WithAPIKey sets a bearer token for servers that require one.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// New creates a Client for model. An empty model means gpt-oss:20b.
func New(model string, options ...Option) *Client {
	if model == "" {
		model = defaultModel
	}
	baseURL := os.Getenv("OLLAMA_HOST")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	c := &Client{
		apiKey:  os.Getenv("SEMCACHE_OLLAMA_API_KEY"),
		model:   model,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range options {
		o(c)
	}

	// Accept base URLs with or without the API path.
	c.baseURL = strings.TrimRight(c.baseURL, "/")
	c.baseURL = strings.TrimSuffix(c.baseURL, "/v1/chat/completions")
	c.baseURL = strings.TrimSuffix(c.baseURL, "/v1")
	c.baseURL += "/v1/chat/completions"

	return c
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Canonicalize asks the model for the query's intent and returns its raw answer.
func (c *Client) Canonicalize(ctx context.Context, text string) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model:     c.model,
		Messages:  []chatMessage{{Role: "user", Content: Prompt + text}},
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var result chatResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("parsing response: %w", err)
	}
	if len(result.Choices) == 0 || result.Choices[0].Message.Content == "" {
		return "", errors.New("empty response")
	}

	return result.Choices[0].Message.Content, nil
}
