// Package llm wraps the completion endpoint the ensemble estimator's three
// analyst roles call, plus a free-text probability extractor for parsing
// their responses.
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// Client posts chat-completion requests to an OpenAI-compatible endpoint.
type Client struct {
	http  *resty.Client
	model string
}

// NewClient builds a completion client pointed at baseURL, authorized with
// apiKey, defaulting to model for every request.
func NewClient(baseURL, apiKey, model string) *Client {
	http := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(60 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second).
		SetHeader("Authorization", "Bearer "+apiKey).
		SetHeader("Content-Type", "application/json").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		})

	return &Client{http: http, model: model}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete sends a system/user prompt pair and returns the assistant's
// response text.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	req := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: 0.2,
	}

	var result chatResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&result).
		Post("/chat/completions")
	if err != nil {
		return "", fmt.Errorf("llm request: %w", err)
	}
	if resp.StatusCode() >= 400 {
		return "", fmt.Errorf("llm request: status %d: %s", resp.StatusCode(), resp.String())
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("llm response has no choices")
	}
	return result.Choices[0].Message.Content, nil
}

// SearchClient wraps Tavily's search API, used by the research analyst role
// to ground its estimate in current events rather than the model's training
// cutoff.
type SearchClient struct {
	http *resty.Client
}

// NewSearchClient builds a Tavily search client.
func NewSearchClient(apiKey string) *SearchClient {
	http := resty.New().
		SetBaseURL("https://api.tavily.com").
		SetTimeout(20 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second).
		SetHeader("Content-Type", "application/json")

	return &SearchClient{http: http.SetHeader("Authorization", "Bearer "+apiKey)}
}

type tavilySearchRequest struct {
	Query       string `json:"query"`
	MaxResults  int    `json:"max_results"`
	SearchDepth string `json:"search_depth"`
}

type tavilyResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

type tavilySearchResponse struct {
	Answer  string         `json:"answer"`
	Results []tavilyResult `json:"results"`
}

// Search queries Tavily for current-events context relevant to query.
func (c *SearchClient) Search(ctx context.Context, query string) (string, []string, error) {
	req := tavilySearchRequest{Query: query, MaxResults: 5, SearchDepth: "basic"}

	var result tavilySearchResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&result).
		Post("/search")
	if err != nil {
		return "", nil, fmt.Errorf("tavily search: %w", err)
	}
	if resp.StatusCode() >= 400 {
		return "", nil, fmt.Errorf("tavily search: status %d", resp.StatusCode())
	}

	sources := make([]string, 0, len(result.Results))
	for _, r := range result.Results {
		sources = append(sources, r.URL)
	}
	return result.Answer, sources, nil
}
