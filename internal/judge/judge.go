// Package judge asks an OpenAI-compatible chat model for the advisory action
// and urgency judgments. Its answers are untrusted; the classifier reconciles
// them with facts.
package judge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"followup/internal/classify"
	"followup/internal/model"

	"github.com/charmbracelet/log"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"
)

// ErrMalformed is returned when the model answer cannot be parsed into a judgment.
var ErrMalformed = errors.New("malformed judgment")

const DefaultModel = "gpt-4o"

var (
	_ classify.Judge        = (*Service)(nil)
	_ classify.UrgencyJudge = (*Service)(nil)
)

type Service struct {
	client openai.Client
	model  string
	logger *log.Logger
}

// New builds a Service. An empty baseURL uses the OpenAI default endpoint and
// an empty model uses DefaultModel.
func New(logger *log.Logger, apiKey, baseURL, chatModel string, opts ...option.RequestOption) *Service {
	all := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		all = append(all, option.WithBaseURL(baseURL))
	}
	all = append(all, opts...)
	if chatModel == "" {
		chatModel = DefaultModel
	}
	return &Service{
		client: openai.NewClient(all...),
		model:  chatModel,
		logger: logger,
	}
}

type judgmentAnswer struct {
	NeedsAction *yesNo `json:"needs_action"`
	ActionType  string `json:"action_type"`
	Reason      string `json:"reason"`
	DirectedAt  string `json:"directed_at"`
	Confidence  string `json:"confidence"`
}

type urgencyAnswer struct {
	IsUrgent *yesNo `json:"is_urgent"`
	Reason   string `json:"reason"`
}

// Judge asks whether target owes action on the conversation in transcript.
func (s *Service) Judge(ctx context.Context, transcript string, target classify.Identity) (model.Judgment, error) {
	content, err := s.complete(ctx, judgeSystemPrompt(target), judgePrompt(transcript, target), 500)
	if err != nil {
		return model.Judgment{}, err
	}
	j, err := ParseJudgment(content)
	if err != nil {
		return model.Judgment{}, err
	}
	s.logger.Debug("judgment", "needs_action", j.NeedsAction, "action_type", j.ActionType, "confidence", j.Confidence)
	return j, nil
}

// Urgency asks whether the message excerpt is urgent.
func (s *Service) Urgency(ctx context.Context, subject, body string) (model.Urgency, error) {
	content, err := s.complete(ctx, urgencySystemPrompt, urgencyPrompt(subject, body), 300)
	if err != nil {
		return model.Urgency{}, err
	}
	return ParseUrgency(content)
}

func (s *Service) complete(ctx context.Context, system, user string, maxTokens int64) (string, error) {
	resp, err := s.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: s.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Temperature:         param.NewOpt(0.1),
		MaxCompletionTokens: param.NewOpt(maxTokens),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500) {
			return "", fmt.Errorf("chat completion: %w: %w", model.ErrTransient, err)
		}
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("chat completion: empty answer: %w", ErrMalformed)
	}
	return resp.Choices[0].Message.Content, nil
}

// ParseJudgment decodes the model's JSON answer. needs_action and action_type
// are required; confidence defaults to medium.
func ParseJudgment(content string) (model.Judgment, error) {
	var a judgmentAnswer
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &a); err != nil {
		return model.Judgment{}, fmt.Errorf("decode judgment: %w: %w", ErrMalformed, err)
	}
	if a.NeedsAction == nil {
		return model.Judgment{}, fmt.Errorf("judgment missing needs_action: %w", ErrMalformed)
	}
	at := model.ActionType(strings.ToLower(strings.TrimSpace(a.ActionType)))
	if model.ParseActionType(string(at)) != at {
		return model.Judgment{}, fmt.Errorf("judgment action_type %q: %w", a.ActionType, ErrMalformed)
	}
	return model.Judgment{
		NeedsAction: bool(*a.NeedsAction),
		ActionType:  at,
		Reason:      strings.TrimSpace(a.Reason),
		DirectedAt:  strings.TrimSpace(a.DirectedAt),
		Confidence:  model.ParseConfidence(strings.ToLower(strings.TrimSpace(a.Confidence))),
	}, nil
}

// ParseUrgency decodes the model's urgency answer.
func ParseUrgency(content string) (model.Urgency, error) {
	var a urgencyAnswer
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &a); err != nil {
		return model.Urgency{}, fmt.Errorf("decode urgency: %w: %w", ErrMalformed, err)
	}
	if a.IsUrgent == nil {
		return model.Urgency{}, fmt.Errorf("urgency missing is_urgent: %w", ErrMalformed)
	}
	return model.Urgency{IsUrgent: bool(*a.IsUrgent), Reason: strings.TrimSpace(a.Reason)}, nil
}

// yesNo accepts "Yes"/"No" in any case as well as JSON booleans.
type yesNo bool

func (y *yesNo) UnmarshalJSON(b []byte) error {
	var v bool
	if err := json.Unmarshal(b, &v); err == nil {
		*y = yesNo(v)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("expected Yes/No, got %s", b)
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "true":
		*y = true
	case "no", "false":
		*y = false
	default:
		return fmt.Errorf("expected Yes/No, got %q", s)
	}
	return nil
}
