// Package chat runs the AI coaching conversation: every user message is
// screened for crisis risk before a reply is generated, and high risk opens
// an alert that is escalated to a human.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/purposefullive/coaching-platform/libs/apperr"
	"github.com/purposefullive/coaching-platform/libs/auth"
	"github.com/purposefullive/coaching-platform/libs/db"
	"github.com/purposefullive/coaching-platform/libs/events"
	"github.com/purposefullive/coaching-platform/libs/outbox"
	"github.com/purposefullive/coaching-platform/services/aichat-service/internal/crisis"
	"github.com/purposefullive/coaching-platform/services/aichat-service/internal/llm"
	"github.com/purposefullive/coaching-platform/services/aichat-service/internal/storage"
)

const (
	maxMessageRunes = 4000
	excerptRunes    = 280
	titleRunes      = 60

	fallbackReply = "I'm having trouble responding right now. Please try again in a moment, or reach out to your coach directly."

	sourceKeyword = "keyword"
	sourceLLM     = "keyword+llm"
)

const defaultSystemPrompt = `You are a warm, practical life coach. Listen carefully, reflect what you hear,
ask one focused question at a time and suggest small concrete next steps. You are not a therapist and
never give medical advice. If the user mentions self-harm, encourage them to contact crisis services.`

// Completer is the subset of the LLM client the service needs.
type Completer interface {
	Configured() bool
	Complete(ctx context.Context, req llm.Request) (string, error)
	CompleteJSON(ctx context.Context, req llm.Request, out any) error
}

type Config struct {
	SystemPrompt string
	// HistoryLimit caps how many earlier messages are sent as context.
	HistoryLimit int
}

type Service struct {
	pool   *db.Pool
	repo   *storage.Repository
	outbox *outbox.Repository
	llm    Completer
	logger *slog.Logger
	cfg    Config
	now    func() time.Time
}

func NewService(pool *db.Pool, repo *storage.Repository, outboxRepo *outbox.Repository, completer Completer, logger *slog.Logger, cfg Config) *Service {
	if strings.TrimSpace(cfg.SystemPrompt) == "" {
		cfg.SystemPrompt = defaultSystemPrompt
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 20
	}
	return &Service{
		pool:   pool,
		repo:   repo,
		outbox: outboxRepo,
		llm:    completer,
		logger: logger,
		cfg:    cfg,
		now:    time.Now,
	}
}

type Reply struct {
	ConversationID string          `json:"conversation_id"`
	UserMessage    storage.Message `json:"user_message"`
	Assistant      storage.Message `json:"assistant_message"`
	CrisisLevel    crisis.Level    `json:"crisis_level"`
	AlertID        string          `json:"alert_id,omitempty"`
}

// SendMessage stores the user's message and the assistant's answer. A new
// conversation is started when conversationID is empty.
func (s *Service) SendMessage(ctx context.Context, conversationID, text string) (Reply, error) {
	id, err := auth.Require(ctx)
	if err != nil {
		return Reply{}, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Reply{}, apperr.New(apperr.BadRequest, "message is required")
	}
	if utf8.RuneCountInString(text) > maxMessageRunes {
		return Reply{}, apperr.Newf(apperr.BadRequest, "message must be at most %d characters", maxMessageRunes)
	}

	var conv storage.Conversation
	var history []storage.Message
	if conversationID != "" {
		conv, err = s.conversation(ctx, id, conversationID)
		if err != nil {
			return Reply{}, err
		}
		history, err = s.repo.RecentMessages(ctx, conv.ID, s.cfg.HistoryLimit)
		if err != nil {
			return Reply{}, err
		}
	} else {
		conv = storage.Conversation{UserID: id.UserID, CoachID: id.CoachID, Title: conversationTitle(text)}
	}

	det := crisis.Detect(text)
	level, source := s.assess(ctx, text, det.Level)

	answer := s.generate(ctx, history, text)
	answer = composeReply(level, answer)

	out := Reply{CrisisLevel: level}
	err = s.pool.InTx(ctx, func(tx pgx.Tx) error {
		if conv.ID == "" {
			if err := s.repo.CreateConversation(ctx, tx, &conv); err != nil {
				return err
			}
		} else if err := s.repo.TouchConversation(ctx, tx, conv.ID); err != nil {
			return err
		}
		out.ConversationID = conv.ID
		out.UserMessage = storage.Message{ConversationID: conv.ID, Role: llm.RoleUser, Content: text, CrisisLevel: string(level)}
		if err := s.repo.InsertMessage(ctx, tx, &out.UserMessage); err != nil {
			return err
		}
		out.Assistant = storage.Message{ConversationID: conv.ID, Role: llm.RoleAssistant, Content: answer, CrisisLevel: string(crisis.None)}
		if err := s.repo.InsertMessage(ctx, tx, &out.Assistant); err != nil {
			return err
		}
		sent, err := outbox.NewEvent("conversation", conv.ID, events.TopicChatMessageSent, events.ChatMessageSent{
			MessageID:      out.UserMessage.ID,
			ConversationID: conv.ID,
			UserID:         id.UserID,
			CoachID:        conv.CoachID,
			SentAt:         out.UserMessage.CreatedAt,
		})
		if err != nil {
			return err
		}
		if err := s.outbox.Insert(ctx, tx, sent); err != nil {
			return err
		}
		if !level.AtLeast(crisis.High) {
			return nil
		}
		alertID, err := s.raiseAlert(ctx, tx, conv, out.UserMessage, level, source, det.Indicators)
		out.AlertID = alertID
		return err
	})
	if err != nil {
		return Reply{}, err
	}
	if out.AlertID != "" {
		s.logger.Warn("crisis detected", "alert_id", out.AlertID, "level", level, "source", source,
			"conversation_id", conv.ID, "user_id", id.UserID)
	}
	return out, nil
}

// assess refines a keyword level of medium or above with the LLM. Critical
// keyword matches are never lowered; a failed classification keeps the
// keyword level.
func (s *Service) assess(ctx context.Context, text string, keyword crisis.Level) (crisis.Level, string) {
	if !keyword.AtLeast(crisis.Medium) || !s.llm.Configured() {
		return keyword, sourceKeyword
	}
	var verdict struct {
		Level     string `json:"level"`
		Reasoning string `json:"reasoning"`
	}
	temperature := 0.1
	err := s.llm.CompleteJSON(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: classifyPrompt},
			{Role: llm.RoleUser, Content: "Initial keyword assessment: " + string(keyword) + "\n\nMessage:\n" + text},
		},
		Schema:      classifySchema,
		MaxTokens:   200,
		Temperature: &temperature,
	}, &verdict)
	if err != nil {
		s.logger.Warn("crisis classification failed, using keyword level", "err", err, "level", keyword)
		return keyword, sourceKeyword
	}
	confirmed, ok := crisis.ParseLevel(verdict.Level)
	if !ok {
		return keyword, sourceKeyword
	}
	return finalLevel(keyword, confirmed), sourceLLM
}

func finalLevel(keyword, confirmed crisis.Level) crisis.Level {
	if keyword == crisis.Critical {
		return crisis.Critical
	}
	return confirmed
}

const classifyPrompt = `You are a crisis assessment expert trained in the Columbia-Suicide Severity Rating Scale.
Classify the suicide and self-harm risk of the user's message as none, low, medium, high or critical and
give one or two sentences of reasoning.`

var classifySchema = &llm.JSONSchema{
	Name:   "crisis_assessment",
	Strict: true,
	Schema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"level":     map[string]any{"type": "string", "enum": []string{"none", "low", "medium", "high", "critical"}},
			"reasoning": map[string]any{"type": "string"},
		},
		"required":             []string{"level", "reasoning"},
		"additionalProperties": false,
	},
}

func (s *Service) generate(ctx context.Context, history []storage.Message, text string) string {
	if !s.llm.Configured() {
		return fallbackReply
	}
	reply, err := s.llm.Complete(ctx, llm.Request{Messages: buildPrompt(s.cfg.SystemPrompt, history, text)})
	if err != nil || strings.TrimSpace(reply) == "" {
		s.logger.Warn("llm reply failed, sending fallback", "err", err)
		return fallbackReply
	}
	return strings.TrimSpace(reply)
}

func buildPrompt(system string, history []storage.Message, text string) []llm.Message {
	msgs := make([]llm.Message, 0, len(history)+2)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: system})
	for _, m := range history {
		msgs = append(msgs, llm.Message{Role: m.Role, Content: m.Content})
	}
	return append(msgs, llm.Message{Role: llm.RoleUser, Content: text})
}

// composeReply puts crisis resources ahead of the reply for high and
// critical risk and after it for medium.
func composeReply(level crisis.Level, reply string) string {
	res := crisis.Resources(level)
	switch {
	case res == "":
		return reply
	case level.AtLeast(crisis.High):
		return res + "\n\n" + reply
	default:
		return reply + "\n\n" + res
	}
}

func (s *Service) raiseAlert(ctx context.Context, tx pgx.Tx, conv storage.Conversation, msg storage.Message, level crisis.Level, source string, indicators []string) (string, error) {
	alert := storage.Alert{
		UserID:         conv.UserID,
		CoachID:        conv.CoachID,
		ConversationID: conv.ID,
		MessageID:      msg.ID,
		Level:          string(level),
		Source:         source,
		Indicators:     indicators,
		State:          crisis.StateDetected,
	}
	if err := s.repo.CreateAlert(ctx, tx, &alert); err != nil {
		return "", err
	}
	evt, err := outbox.NewEvent("crisis_alert", alert.ID, events.TopicCrisisDetected, events.CrisisDetected{
		AlertID:        alert.ID,
		UserID:         alert.UserID,
		CoachID:        alert.CoachID,
		ConversationID: alert.ConversationID,
		MessageID:      alert.MessageID,
		Level:          alert.Level,
		Source:         alert.Source,
		Excerpt:        excerpt(msg.Content),
		DetectedAt:     msg.CreatedAt,
	})
	if err != nil {
		return "", err
	}
	if err := s.outbox.Insert(ctx, tx, evt); err != nil {
		return "", err
	}
	if _, err := s.repo.SetAlertState(ctx, tx, alert.ID, crisis.StateQueued); err != nil {
		return "", err
	}
	err = s.repo.InsertTransition(ctx, tx, storage.Transition{
		AlertID:   alert.ID,
		FromState: crisis.StateDetected,
		ToState:   crisis.StateQueued,
		Actor:     "system",
		Note:      "queued for human review",
	})
	return alert.ID, err
}

func excerpt(text string) string {
	if utf8.RuneCountInString(text) <= excerptRunes {
		return text
	}
	return string([]rune(text)[:excerptRunes]) + "..."
}

func conversationTitle(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= titleRunes {
		return text
	}
	return strings.TrimSpace(string([]rune(text)[:titleRunes])) + "..."
}

// conversation loads a conversation the caller may read: its owner, the
// coach it belongs to, or an admin.
func (s *Service) conversation(ctx context.Context, id auth.Identity, conversationID string) (storage.Conversation, error) {
	conv, err := s.repo.GetConversation(ctx, conversationID)
	if errors.Is(err, storage.ErrNotFound) {
		return conv, apperr.New(apperr.NotFound, "conversation not found")
	}
	if err != nil {
		return conv, err
	}
	if conv.UserID != id.UserID && !id.CanManageCoach(conv.CoachID) {
		return conv, apperr.New(apperr.Forbidden, "not allowed to access this conversation")
	}
	return conv, nil
}

func (s *Service) ListConversations(ctx context.Context, limit int) ([]storage.Conversation, error) {
	id, err := auth.Require(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListConversations(ctx, id.UserID, limit)
}

func (s *Service) ListMessages(ctx context.Context, conversationID string, limit int) ([]storage.Message, error) {
	id, err := auth.Require(ctx)
	if err != nil {
		return nil, err
	}
	if conversationID == "" {
		return nil, apperr.New(apperr.BadRequest, "conversation_id is required")
	}
	conv, err := s.conversation(ctx, id, conversationID)
	if err != nil {
		return nil, err
	}
	return s.repo.RecentMessages(ctx, conv.ID, limit)
}
