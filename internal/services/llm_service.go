package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/snaprepair/backend/internal/logger"
	"github.com/snaprepair/backend/internal/metrics"
	"github.com/snaprepair/backend/internal/models"
)

const (
	siteURL  = "https://snaprepair.app"
	siteName = "Snap Repair"

	maxTrackedCalls = 100
)

// Diagnoser produces a structured diagnosis for an issue.
type Diagnoser interface {
	Diagnose(ctx context.Context, issue *models.Issue) (models.Diagnosis, error)
}

// ChatRole is the role of one turn in an assisted conversation.
type ChatRole string

const (
	RoleSystem    ChatRole = "system"
	RoleUser      ChatRole = "user"
	RoleAssistant ChatRole = "assistant"
)

type ChatTurn struct {
	Role    ChatRole `json:"role"`
	Content string   `json:"content"`
}

// ChatResponder answers the latest turn of an ordered conversation.
type ChatResponder interface {
	Respond(ctx context.Context, issueID string, conversation []ChatTurn) (string, error)
}

// DeviceGuess is the best-effort result of device detection.
type DeviceGuess struct {
	DeviceType  models.DeviceType `json:"deviceType"`
	Description string            `json:"description"`
}

// DeviceDetector guesses the device shown in a photo.
type DeviceDetector interface {
	DetectDevice(ctx context.Context, mediaURL string) DeviceGuess
}

// LLMAPICall is one tracked model call, kept for the admin view.
type LLMAPICall struct {
	ID        string        `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	Model     string        `json:"model"`
	IssueID   string        `json:"issueId,omitempty"`
	CallType  string        `json:"callType"` // "diagnosis", "chat", "device_detection"
	Duration  time.Duration `json:"duration"`
	Response  string        `json:"response"`
	Error     string        `json:"error,omitempty"`
}

// completer sends one chat completion and returns the first choice's text.
type completer interface {
	complete(ctx context.Context, model string, messages []openai.ChatCompletionMessageParamUnion) (string, error)
}

type openAICompleter struct {
	client openai.Client
}

func (c *openAICompleter) complete(ctx context.Context, model string, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    model,
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

// LLMService talks to an OpenAI-compatible endpoint (OpenRouter by default)
// and implements Diagnoser, ChatResponder and DeviceDetector.
type LLMService struct {
	visionModel string
	chatModel   string
	completer   completer
	apiCalls    []LLMAPICall
	callMutex   sync.RWMutex
}

type LLMConfig struct {
	BaseURL     string
	APIKey      string
	VisionModel string
	ChatModel   string
}

func NewLLMService(cfg LLMConfig) *LLMService {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHeader("HTTP-Referer", siteURL),
		option.WithHeader("X-Title", siteName),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return newLLMService(&openAICompleter{client: openai.NewClient(opts...)}, cfg.VisionModel, cfg.ChatModel)
}

func newLLMService(c completer, visionModel, chatModel string) *LLMService {
	if visionModel == "" {
		visionModel = "qwen/qwen-2-vl-72b-instruct"
	}
	if chatModel == "" {
		chatModel = "qwen/qwen-2.5-coder-32b-instruct"
	}
	return &LLMService{
		visionModel: visionModel,
		chatModel:   chatModel,
		completer:   c,
		apiCalls:    make([]LLMAPICall, 0),
	}
}

// GetAPICalls returns all tracked LLM API calls
func (ls *LLMService) GetAPICalls() []LLMAPICall {
	ls.callMutex.RLock()
	defer ls.callMutex.RUnlock()

	calls := make([]LLMAPICall, len(ls.apiCalls))
	copy(calls, ls.apiCalls)
	return calls
}

// ClearAPICalls clears the API call history
func (ls *LLMService) ClearAPICalls() {
	ls.callMutex.Lock()
	defer ls.callMutex.Unlock()
	ls.apiCalls = make([]LLMAPICall, 0)
}

func (ls *LLMService) addAPICall(call LLMAPICall) {
	ls.callMutex.Lock()
	defer ls.callMutex.Unlock()

	// Keep only the most recent calls
	if len(ls.apiCalls) >= maxTrackedCalls {
		ls.apiCalls = ls.apiCalls[1:]
	}
	ls.apiCalls = append(ls.apiCalls, call)
}

// call runs one completion and records it.
func (ls *LLMService) call(ctx context.Context, issueID, callType, model string, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	start := time.Now()
	content, err := ls.completer.complete(ctx, model, messages)
	duration := time.Since(start)

	record := LLMAPICall{
		ID:        uuid.NewString(),
		Timestamp: start,
		Model:     model,
		IssueID:   issueID,
		CallType:  callType,
		Duration:  duration,
		Response:  content,
	}
	outcome := "ok"
	if err != nil {
		record.Error = err.Error()
		outcome = "error"
	}
	ls.addAPICall(record)
	metrics.LLMCalls.WithLabelValues(callType, outcome).Observe(duration.Seconds())

	entry := logger.WithLLM(issueID, callType).WithField("duration", duration.String())
	if err != nil {
		entry.WithField("error", err.Error()).Warn("LLM call failed")
		return "", err
	}
	entry.Debug("LLM call completed")
	return content, nil
}

func imageMessage(prompt, mediaURL string) openai.ChatCompletionMessageParamUnion {
	return openai.ChatCompletionMessageParamUnion{
		OfUser: &openai.ChatCompletionUserMessageParam{
			Content: openai.ChatCompletionUserMessageParamContentUnion{
				OfArrayOfContentParts: []openai.ChatCompletionContentPartUnionParam{
					openai.TextContentPart(prompt),
					openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: mediaURL}),
				},
			},
		},
	}
}

// Diagnose asks the vision model about the issue's media and description.
// Transport failures are returned as errors; an unusable answer becomes the
// fallback diagnosis.
func (ls *LLMService) Diagnose(ctx context.Context, issue *models.Issue) (models.Diagnosis, error) {
	prompt := fmt.Sprintf(DIAGNOSIS_PROMPT, issue.Description, issue.DeviceType)
	content, err := ls.call(ctx, issue.ID, "diagnosis", ls.visionModel,
		[]openai.ChatCompletionMessageParamUnion{imageMessage(prompt, issue.MediaURL)})
	if err != nil {
		return models.Diagnosis{}, err
	}

	diagnosis, err := parseDiagnosis(content)
	if err != nil {
		logger.WithLLM(issue.ID, "diagnosis").WithField("error", err.Error()).Warn("Unusable diagnosis, using fallback")
		return models.FallbackDiagnosis(), nil
	}
	return diagnosis, nil
}

// Respond maps the conversation onto chat messages and returns the answer
// with any reasoning blocks removed.
func (ls *LLMService) Respond(ctx context.Context, issueID string, conversation []ChatTurn) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(conversation))
	for _, turn := range conversation {
		switch turn.Role {
		case RoleSystem:
			messages = append(messages, openai.SystemMessage(turn.Content))
		case RoleUser:
			messages = append(messages, openai.UserMessage(turn.Content))
		default:
			messages = append(messages, openai.AssistantMessage(turn.Content))
		}
	}

	content, err := ls.call(ctx, issueID, "chat", ls.chatModel, messages)
	if err != nil {
		return "", err
	}

	reply := stripThinking(content)
	if reply == "" {
		return "", errors.New("empty reply from model")
	}
	return reply, nil
}

// DetectDevice never fails: any problem yields Other with no description.
func (ls *LLMService) DetectDevice(ctx context.Context, mediaURL string) DeviceGuess {
	unknown := DeviceGuess{DeviceType: models.DeviceOther}

	content, err := ls.call(ctx, "", "device_detection", ls.visionModel,
		[]openai.ChatCompletionMessageParamUnion{imageMessage(DEVICE_DETECTION_PROMPT, mediaURL)})
	if err != nil {
		return unknown
	}

	var raw struct {
		DeviceType  string `json:"device_type"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal([]byte(cleanJSONResponse(content)), &raw); err != nil {
		return unknown
	}
	deviceType, ok := models.ParseDeviceType(raw.DeviceType)
	if !ok {
		return unknown
	}
	return DeviceGuess{DeviceType: deviceType, Description: strings.TrimSpace(raw.Description)}
}

type rawDiagnosis struct {
	DeviceType           string   `json:"device_type"`
	LikelyCauses         []string `json:"likely_causes"`
	SafetyWarning        string   `json:"safety_warning"`
	TroubleshootingSteps []string `json:"troubleshooting_steps"`
	RecommendedAction    string   `json:"recommended_action"`
	EstimatedCost        string   `json:"estimated_cost"`
}

func parseDiagnosis(response string) (models.Diagnosis, error) {
	clean := cleanJSONResponse(response)
	if !strings.HasPrefix(clean, "{") {
		return models.Diagnosis{}, fmt.Errorf("model did not return a JSON object: %q", clean)
	}

	var raw rawDiagnosis
	if err := json.Unmarshal([]byte(clean), &raw); err != nil {
		return models.Diagnosis{}, fmt.Errorf("failed to parse JSON response: %w", err)
	}

	action, ok := models.ParseRecommendedAction(raw.RecommendedAction)
	if !ok {
		return models.Diagnosis{}, fmt.Errorf("unknown recommended action %q", raw.RecommendedAction)
	}

	d := models.Diagnosis{
		DeviceType:           strings.TrimSpace(raw.DeviceType),
		LikelyCauses:         nonEmpty(raw.LikelyCauses),
		SafetyWarning:        strings.TrimSpace(raw.SafetyWarning),
		TroubleshootingSteps: nonEmpty(raw.TroubleshootingSteps),
		RecommendedAction:    action,
		EstimatedCost:        strings.TrimSpace(raw.EstimatedCost),
	}
	if d.DeviceType == "" {
		d.DeviceType = "Unknown"
	}
	if d.EstimatedCost == "" {
		d.EstimatedCost = "Unknown"
	}
	return d, nil
}

func nonEmpty(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// cleanJSONResponse removes markdown code fences around a JSON answer.
func cleanJSONResponse(response string) string {
	clean := strings.TrimSpace(response)
	clean = strings.ReplaceAll(clean, "```json", "")
	clean = strings.ReplaceAll(clean, "```", "")
	return strings.TrimSpace(clean)
}

var thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)

func stripThinking(content string) string {
	return strings.TrimSpace(thinkBlock.ReplaceAllString(content, ""))
}
