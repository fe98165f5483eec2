package chat

import (
	"context"
	"strings"

	"github.com/purposefullive/coaching-platform/libs/apperr"
	"github.com/purposefullive/coaching-platform/libs/auth"
	"github.com/purposefullive/coaching-platform/services/aichat-service/internal/llm"
	"github.com/purposefullive/coaching-platform/services/aichat-service/internal/storage"
)

type Profile struct {
	ConversationID string   `json:"conversation_id"`
	Goals          []string `json:"goals"`
	Challenges     []string `json:"challenges"`
	PreferredStyle string   `json:"preferred_style"`
	Summary        string   `json:"summary"`
}

var profileSchema = &llm.JSONSchema{
	Name:   "client_profile",
	Strict: true,
	Schema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"goals":           map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"challenges":      map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"preferred_style": map[string]any{"type": "string"},
			"summary":         map[string]any{"type": "string"},
		},
		"required":             []string{"goals", "challenges", "preferred_style", "summary"},
		"additionalProperties": false,
	},
}

const profilePrompt = `Extract a coaching profile from the conversation below. List the client's stated goals
and challenges in their own terms, describe the coaching style they respond to best, and write a two
sentence summary. Do not invent facts that are not in the conversation.`

// ExtractProfile summarizes what the client has shared in a conversation.
func (s *Service) ExtractProfile(ctx context.Context, conversationID string) (Profile, error) {
	id, err := auth.Require(ctx)
	if err != nil {
		return Profile{}, err
	}
	if conversationID == "" {
		return Profile{}, apperr.New(apperr.BadRequest, "conversation_id is required")
	}
	conv, err := s.conversation(ctx, id, conversationID)
	if err != nil {
		return Profile{}, err
	}
	msgs, err := s.repo.RecentMessages(ctx, conv.ID, 100)
	if err != nil {
		return Profile{}, err
	}
	if len(msgs) == 0 {
		return Profile{}, apperr.New(apperr.BadRequest, "conversation has no messages")
	}
	if !s.llm.Configured() {
		return Profile{}, apperr.New(apperr.Internal, "AI service unavailable")
	}
	var p Profile
	err = s.llm.CompleteJSON(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: profilePrompt},
			{Role: llm.RoleUser, Content: transcript(msgs)},
		},
		Schema:    profileSchema,
		MaxTokens: 600,
	}, &p)
	if err != nil {
		return Profile{}, apperr.Wrap(apperr.Internal, "profile extraction failed", err)
	}
	p.ConversationID = conv.ID
	if p.Goals == nil {
		p.Goals = []string{}
	}
	if p.Challenges == nil {
		p.Challenges = []string{}
	}
	return p, nil
}

func transcript(msgs []storage.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		speaker := "Client"
		if m.Role == llm.RoleAssistant {
			speaker = "Coach"
		}
		b.WriteString(speaker)
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}
