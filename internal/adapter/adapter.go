package adapter

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"insight-bridge/internal/engine"
	"insight-bridge/internal/models"
	"insight-bridge/internal/pixel"
)

// placeholderResponse is returned when the vendor result carries no
// extractable output.
const placeholderResponse = "No response generated."

// InsightService is the vendor surface the adapter depends on. *pixel.Client
// satisfies it; tests substitute fakes.
type InsightService interface {
	OpenInsight(ctx context.Context) (pixel.InsightState, error)
	RunPixel(ctx context.Context, expression, insightID string) (pixel.RunResult, error)
	Partial(ctx context.Context, insightID string) (pixel.PartialResult, error)
}

// Adapter bridges OpenAI-style chat requests onto a single vendor insight
// session. The session is opened lazily on first use and re-opened whenever
// its readiness flags drop.
type Adapter struct {
	service InsightService
	engines *engine.Table

	defaultModel string

	mu          sync.Mutex
	insightID   string
	initialized bool
	authorized  bool
}

// New constructs an adapter over the given vendor service and engine table.
// defaultModel overrides the built-in placeholder model name when non-empty.
func New(service InsightService, engines *engine.Table, defaultModel string) (*Adapter, error) {
	if service == nil {
		return nil, fmt.Errorf("insight service must not be nil")
	}
	if engines == nil {
		return nil, fmt.Errorf("engine table must not be nil")
	}
	if defaultModel == "" {
		defaultModel = engine.DefaultModel
	}

	return &Adapter{
		service:      service,
		engines:      engines,
		defaultModel: defaultModel,
	}, nil
}

// Models lists the public model names the adapter can resolve.
func (a *Adapter) Models() []string {
	return a.engines.Models()
}

// ensureReady bootstraps the insight session if it has never been opened or
// has lost either readiness flag. Both flags must hold afterwards.
func (a *Adapter) ensureReady(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.initialized && a.authorized {
		return nil
	}

	state, err := a.service.OpenInsight(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInitialization, err)
	}

	a.insightID = state.InsightID
	a.initialized = state.Initialized
	a.authorized = state.Authorized

	if !a.initialized || !a.authorized {
		return fmt.Errorf("%w: insight %q initialized=%t authorized=%t",
			ErrInitialization, a.insightID, a.initialized, a.authorized)
	}
	return nil
}

func (a *Adapter) currentInsightID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.insightID
}

// CreateChatCompletion runs one complete (non-streaming) chat completion.
func (a *Adapter) CreateChatCompletion(ctx context.Context, req models.ChatRequest) (*models.ChatResponse, error) {
	if err := a.ensureReady(ctx); err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = a.defaultModel
	}

	prompt, err := BuildPrompt(req.Messages)
	if err != nil {
		return nil, err
	}

	expression := buildExpression(a.engines.Resolve(model), prompt)

	result, err := a.service.RunPixel(ctx, expression, a.currentInsightID())
	if err != nil {
		return nil, fmt.Errorf("API Error: %w: %v", ErrUpstream, err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("API Error: %w: %s", ErrUpstream, strings.Join(result.Errors, ", "))
	}

	content, tokens := extractOutput(result)

	return &models.ChatResponse{
		ID:      newCompletionID(),
		Model:   model,
		Created: time.Now().Unix(),
		Message: models.Message{
			Role:    "assistant",
			Content: content,
		},
		FinishReason: "stop",
		Usage: models.Usage{
			PromptTokens:     0,
			CompletionTokens: tokens,
			TotalTokens:      tokens,
		},
	}, nil
}

// buildExpression embeds the engine id and prompt into a pixel LLM call. The
// prompt rides inside an <encode> block so vendor-side parsing ignores quotes
// and pixel syntax in the conversation text.
func buildExpression(engineID, prompt string) string {
	return fmt.Sprintf(`LLM(engine = "%s", command = "<encode>%s</encode>");`, engineID, prompt)
}

// extractOutput reads the first pixel return's output field. Object form
// carries response text plus a token count, string form is bare text, and
// anything else falls back to the placeholder.
func extractOutput(result pixel.RunResult) (string, int) {
	if len(result.PixelReturn) == 0 || len(result.PixelReturn[0].Output) == 0 {
		return placeholderResponse, 0
	}
	raw := result.PixelReturn[0].Output

	var structured struct {
		Response                 string `json:"response"`
		NumberOfTokensInResponse int    `json:"numberOfTokensInResponse"`
	}
	if err := json.Unmarshal(raw, &structured); err == nil && structured.Response != "" {
		return structured.Response, structured.NumberOfTokensInResponse
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil && text != "" {
		return text, 0
	}

	return placeholderResponse, 0
}

func newCompletionID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "chatcmpl-" + fmt.Sprintf("%016x", time.Now().UnixNano())
	}
	return "chatcmpl-" + hex.EncodeToString(buf)
}
