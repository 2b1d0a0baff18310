package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	genai "github.com/google/generative-ai-go/genai"

	"github.com/Krunal96369/thinkdocs/internal/logger"
	"github.com/Krunal96369/thinkdocs/models"
)

// GeneratorClient produces a grounded answer from a question and the
// retrieved context chunks.
type GeneratorClient interface {
	Generate(ctx context.Context, question string, contextChunks []string, history []models.ChatTurn) (string, error)
	// GenerateStream calls emit for each token group as it arrives and
	// returns the full answer once the stream ends.
	GenerateStream(ctx context.Context, question string, contextChunks []string, history []models.ChatTurn, emit func(token string) error) (string, error)
}

// GeminiGenerator wraps the Gemini generation API with a circuit breaker
// and a client-side rate limiter.
type GeminiGenerator struct {
	client      *genai.Client
	model       string
	breaker     *gobreaker.CircuitBreaker
	rateLimiter *rate.Limiter
}

func NewGeminiGenerator(ctx context.Context, apiKey, model string) (*GeminiGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("missing GEMINI_API_KEY for generation")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "GeminiAPI",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &GeminiGenerator{
		client:      client,
		model:       model,
		breaker:     breaker,
		rateLimiter: rate.NewLimiter(rate.Limit(0.15), 2),
	}, nil
}

func (gg *GeminiGenerator) Generate(ctx context.Context, question string, contextChunks []string, history []models.ChatTurn) (string, error) {
	tracer := otel.Tracer("gemini-generator")
	ctx, span := tracer.Start(ctx, "gemini.generate")
	defer span.End()
	span.SetAttributes(
		attribute.Int("gemini.context_chunks", len(contextChunks)),
		attribute.String("gemini.model", gg.model),
	)

	if err := gg.rateLimiter.Wait(ctx); err != nil {
		return "", err
	}

	fullPrompt := buildGroundedPrompt(question, contextChunks, history)

	result, err := gg.breaker.Execute(func() (interface{}, error) {
		model := gg.newModel()
		resp, err := model.GenerateContent(ctx, genai.Text(fullPrompt))
		if err != nil {
			return nil, err
		}
		return responseText(resp), nil
	})
	if err != nil {
		span.SetAttributes(attribute.Bool("gemini.error", true))
		return "", classify(err)
	}

	return result.(string), nil
}

func (gg *GeminiGenerator) GenerateStream(ctx context.Context, question string, contextChunks []string, history []models.ChatTurn, emit func(token string) error) (string, error) {
	tracer := otel.Tracer("gemini-generator")
	ctx, span := tracer.Start(ctx, "gemini.generate_stream")
	defer span.End()

	if err := gg.rateLimiter.Wait(ctx); err != nil {
		return "", err
	}

	// The breaker only guards stream setup; once tokens flow, failures
	// surface to the caller directly.
	if state := gg.breaker.State(); state == gobreaker.StateOpen {
		return "", classify(gobreaker.ErrOpenState)
	}

	fullPrompt := buildGroundedPrompt(question, contextChunks, history)
	model := gg.newModel()
	iter := model.GenerateContentStream(ctx, genai.Text(fullPrompt))

	var sb strings.Builder
	for {
		resp, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return sb.String(), classify(err)
		}
		token := responseText(resp)
		if token == "" {
			continue
		}
		sb.WriteString(token)
		if err := emit(token); err != nil {
			return sb.String(), err
		}
	}

	span.SetAttributes(attribute.Int("gemini.answer_chars", sb.Len()))
	return sb.String(), nil
}

func (gg *GeminiGenerator) newModel() *genai.GenerativeModel {
	model := gg.client.GenerativeModel(gg.model)
	model.SetTemperature(0.7)
	model.SetMaxOutputTokens(2048)
	return model
}

func (gg *GeminiGenerator) Close() error {
	if gg.client != nil {
		return gg.client.Close()
	}
	return nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	var sb strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				sb.WriteString(string(text))
			}
		}
	}
	return sb.String()
}

// buildGroundedPrompt assembles the retrieved chunks, the prior turns and
// the question into a single prompt that keeps the model on the documents.
func buildGroundedPrompt(question string, contextChunks []string, history []models.ChatTurn) string {
	var sb strings.Builder

	if len(contextChunks) > 0 {
		sb.WriteString("Based on the following context:\n\n")
		for i, chunk := range contextChunks {
			fmt.Fprintf(&sb, "Context %d:\n%s\n\n", i+1, chunk)
		}
		sb.WriteString("Answer using only the context above. If the context does not contain the answer, say so.\n\n")
	}

	if len(history) > 0 {
		sb.WriteString("Conversation so far:\n")
		for _, turn := range history {
			fmt.Fprintf(&sb, "%s: %s\n", turn.Role, turn.Content)
		}
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "Please answer this question: %s", question)
	return sb.String()
}
