// Package llm wraps an OpenAI-compatible chat and embeddings API. The base
// URL is configurable, so OpenRouter or a local gateway work the same way.
//
// Two models are used: a chat model for user-facing answers (streamed) and a
// cheaper tool model for extraction, titles and summaries.
package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/tbourn/go-movie-chat/internal/config"
	"github.com/tbourn/go-movie-chat/internal/observability"
)

// Roles of a chat message.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrEmptyResponse is returned when the model produced no choice.
var ErrEmptyResponse = errors.New("llm: empty response")

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// System, User and Assistant build messages.
func System(s string) Message    { return Message{Role: RoleSystem, Content: s} }
func User(s string) Message      { return Message{Role: RoleUser, Content: s} }
func Assistant(s string) Message { return Message{Role: RoleAssistant, Content: s} }

// Client talks to the model API. It is safe for concurrent use.
type Client struct {
	oa          openai.Client
	chatModel   string
	toolModel   string
	embedModel  string
	temperature float64
	timeout     time.Duration
	breaker     *observability.Breaker
}

// New builds a client from cfg.
func New(cfg config.LLMConfig) *Client {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithMaxRetries(2)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Client{
		oa:          openai.NewClient(opts...),
		chatModel:   cfg.ChatModel,
		toolModel:   cfg.ToolModel,
		embedModel:  cfg.EmbeddingModel,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
		breaker:     observability.NewBreaker("llm", time.Minute),
	}
}

// HasEmbeddings reports whether an embedding model is configured.
func (c *Client) HasEmbeddings() bool { return c.embedModel != "" }

func (c *Client) params(model string, msgs []Message, temperature float64) openai.ChatCompletionNewParams {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(model),
		Messages:    out,
		Temperature: openai.Float(temperature),
	}
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout > 0 {
		return context.WithTimeout(ctx, c.timeout)
	}
	return context.WithCancel(ctx)
}

// Complete runs a non-streaming completion on the tool model at
// temperature 0 and returns the trimmed text.
func (c *Client) Complete(ctx context.Context, msgs []Message) (string, error) {
	return c.complete(ctx, c.toolModel, msgs, 0)
}

// Compose runs a non-streaming completion on the chat model at the
// configured temperature. Used for generated prose that is not streamed.
func (c *Client) Compose(ctx context.Context, msgs []Message) (string, error) {
	return c.complete(ctx, c.chatModel, msgs, c.temperature)
}

func (c *Client) complete(ctx context.Context, model string, msgs []Message, temperature float64) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	return observability.Execute(c.breaker, func() (string, error) {
		resp, err := c.oa.Chat.Completions.New(ctx, c.params(model, msgs, temperature))
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 {
			return "", ErrEmptyResponse
		}
		return strings.TrimSpace(resp.Choices[0].Message.Content), nil
	})
}

// Stream streams the chat model's answer. The token channel is closed when
// the answer is complete; the error channel then carries at most one error.
// Cancelling ctx stops consumption of the upstream stream.
func (c *Client) Stream(ctx context.Context, msgs []Message) (<-chan string, <-chan error) {
	chunks := make(chan string, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(errs)
		defer close(chunks)

		ctx, cancel := c.withTimeout(ctx)
		defer cancel()

		_, err := observability.Execute(c.breaker, func() (struct{}, error) {
			stream := c.oa.Chat.Completions.NewStreaming(ctx, c.params(c.chatModel, msgs, c.temperature))
			defer stream.Close()

			for stream.Next() {
				chunk := stream.Current()
				if len(chunk.Choices) == 0 {
					continue
				}
				if tok := chunk.Choices[0].Delta.Content; tok != "" {
					select {
					case chunks <- tok:
					case <-ctx.Done():
						return struct{}{}, ctx.Err()
					}
				}
			}
			return struct{}{}, stream.Err()
		})
		if err != nil {
			errs <- err
		}
	}()

	return chunks, errs
}

// Embed returns one embedding per text using the configured embedding model.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if c.embedModel == "" {
		return nil, errors.New("llm: no embedding model configured")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	return observability.Execute(c.breaker, func() ([][]float32, error) {
		resp, err := c.oa.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Model: openai.EmbeddingModel(c.embedModel),
			Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		})
		if err != nil {
			return nil, err
		}
		out := make([][]float32, len(texts))
		for _, d := range resp.Data {
			if d.Index < 0 || int(d.Index) >= len(out) {
				continue
			}
			v := make([]float32, len(d.Embedding))
			for i, x := range d.Embedding {
				v[i] = float32(x)
			}
			out[d.Index] = v
		}
		return out, nil
	})
}
