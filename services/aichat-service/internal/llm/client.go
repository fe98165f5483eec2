// Package llm is a small client for OpenAI-compatible chat completion
// endpoints. Requests are paced by a token bucket and fall back to a second
// model when the primary one is rate limited or failing.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

var (
	ErrNotConfigured = errors.New("llm api key not configured")
	ErrEmptyResponse = errors.New("llm returned no choices")
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// JSONSchema constrains the reply to a JSON document.
type JSONSchema struct {
	Name   string         `json:"name"`
	Schema map[string]any `json:"schema"`
	Strict bool           `json:"strict"`
}

type Request struct {
	Messages    []Message
	Schema      *JSONSchema
	MaxTokens   int
	Temperature *float64
}

type Config struct {
	BaseURL       string
	APIKey        string
	Model         string
	FallbackModel string
	Timeout       time.Duration
	// MinInterval is the minimum spacing between outgoing requests.
	MinInterval time.Duration
	MaxTokens   int
}

// APIError is a non-2xx answer from the provider.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("llm api returned %d: %s", e.StatusCode, e.Body)
}

func (e *APIError) retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

type Client struct {
	cfg     Config
	api     *openai.Client
	limiter *rate.Limiter
}

func New(cfg Config) *Client {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 800
	}
	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	apiCfg.BaseURL = cfg.BaseURL
	apiCfg.HTTPClient = &http.Client{
		Timeout:   cfg.Timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	return &Client{
		cfg:     cfg,
		api:     openai.NewClientWithConfig(apiCfg),
		limiter: rate.NewLimiter(limit, 1),
	}
}

func (c *Client) Configured() bool {
	return c != nil && strings.TrimSpace(c.cfg.APIKey) != ""
}

// Complete returns the content of the first choice.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}
	ctx, span := otel.Tracer("llm").Start(ctx, "llm.complete")
	defer span.End()

	model := c.cfg.Model
	out, err := c.call(ctx, model, req)
	var apiErr *APIError
	if err != nil && errors.As(err, &apiErr) && apiErr.retryable() &&
		c.cfg.FallbackModel != "" && c.cfg.FallbackModel != model {
		model = c.cfg.FallbackModel
		span.AddEvent("fallback", traceAttrs(model)...)
		out, err = c.call(ctx, model, req)
	}
	span.SetAttributes(attribute.String("llm.model", model))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "llm")
		return "", err
	}
	return out, nil
}

// CompleteJSON decodes the reply into out. Without a schema the first JSON
// object found in the reply is used.
func (c *Client) CompleteJSON(ctx context.Context, req Request, out any) error {
	content, err := c.Complete(ctx, req)
	if err != nil {
		return err
	}
	return decodeJSON(content, out)
}

func decodeJSON(content string, out any) error {
	content = strings.TrimSpace(content)
	if err := json.Unmarshal([]byte(content), out); err == nil {
		return nil
	}
	start, end := strings.Index(content, "{"), strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return fmt.Errorf("llm reply is not json")
	}
	return json.Unmarshal([]byte(content[start:end+1]), out)
}

func (c *Client) call(ctx context.Context, model string, req Request) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	body := openai.ChatCompletionRequest{
		Model:     model,
		Messages:  make([]openai.ChatCompletionMessage, 0, len(req.Messages)),
		MaxTokens: req.MaxTokens,
	}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	if body.MaxTokens <= 0 {
		body.MaxTokens = c.cfg.MaxTokens
	}
	if req.Temperature != nil {
		body.Temperature = float32(*req.Temperature)
	}
	if req.Schema != nil {
		schema, err := json.Marshal(req.Schema.Schema)
		if err != nil {
			return "", fmt.Errorf("encode llm schema: %w", err)
		}
		body.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   req.Schema.Name,
				Schema: json.RawMessage(schema),
				Strict: req.Schema.Strict,
			},
		}
	}

	resp, err := c.api.CreateChatCompletion(ctx, body)
	if err != nil {
		return "", asAPIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}

// asAPIError folds the provider's error shapes into APIError so callers only
// inspect the status code.
func asAPIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &APIError{StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return &APIError{StatusCode: reqErr.HTTPStatusCode, Body: strings.TrimSpace(string(reqErr.Body))}
	}
	return err
}

func traceAttrs(model string) []trace.EventOption {
	return []trace.EventOption{trace.WithAttributes(attribute.String("llm.model", model))}
}
