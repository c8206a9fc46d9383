package messaging

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"fund-connect/internal/apperr"
	"fund-connect/internal/identity"
	"fund-connect/internal/logging"
	"fund-connect/internal/metrics"
	"fund-connect/internal/model"
)

// MaxContentLength is the longest message body accepted, in characters.
const MaxContentLength = 4000

type Store interface {
	GetAgent(ctx context.Context, userID string) (model.Agent, error)
	GetInvestor(ctx context.Context, userID string) (model.Investor, error)
	GetOrCreateConversation(ctx context.Context, agentID, investorID string, now time.Time) (model.Conversation, bool, error)
	GetConversation(ctx context.Context, id string) (model.Conversation, error)
	ListConversationsFor(ctx context.Context, userID string) ([]model.Conversation, error)
	AppendMessage(ctx context.Context, conversationID, senderID string, senderRole model.Role, content string, now time.Time) (model.Message, error)
	ListMessages(ctx context.Context, conversationID string, afterSeq int64) ([]model.Message, error)
	MarkRead(ctx context.Context, conversationID string, role model.Role, now time.Time) error
}

type Resolver interface {
	Resolve(ctx context.Context, userID string) (identity.Identity, error)
}

// Publisher hands persisted messages to the live update channel.
type Publisher interface {
	Publish(ctx context.Context, msg model.Message) error
}

type Options struct {
	Publisher Publisher
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Now       func() time.Time
}

type Service struct {
	store     Store
	resolver  Resolver
	publisher Publisher
	log       *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewService(store Store, resolver Resolver, opts Options) *Service {
	s := &Service{
		store:     store,
		resolver:  resolver,
		publisher: opts.Publisher,
		log:       opts.Logger,
		metrics:   opts.Metrics,
		now:       opts.Now,
	}
	if s.log == nil {
		s.log = logging.Discard()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// ConversationSummary is a conversation as seen by one participant.
type ConversationSummary struct {
	model.Conversation
	Role          model.Role `json:"role"`
	CounterpartID string     `json:"counterpart_id"`
	Unread        int64      `json:"unread"`
}

// GetOrCreateConversation returns the conversation between agentID and
// investorID, creating it on first contact. Both parties must be registered.
func (s *Service) GetOrCreateConversation(ctx context.Context, agentID, investorID string) (model.Conversation, bool, error) {
	agentID, investorID = strings.TrimSpace(agentID), strings.TrimSpace(investorID)
	if agentID == "" || investorID == "" {
		return model.Conversation{}, false, apperr.Validation("agentId and investorId are required")
	}

	if _, err := s.store.GetAgent(ctx, agentID); err != nil {
		return model.Conversation{}, false, err
	}
	if _, err := s.store.GetInvestor(ctx, investorID); err != nil {
		return model.Conversation{}, false, err
	}

	conv, created, err := s.store.GetOrCreateConversation(ctx, agentID, investorID, s.now().UTC())
	if err != nil {
		return model.Conversation{}, false, err
	}
	if created {
		s.metrics.ConversationCreated()
		s.log.Info("conversation created", "conversationId", conv.ID, "agentId", agentID, "investorId", investorID)
	}
	return conv, created, nil
}

// OpenConversation starts or resumes the conversation between the caller and
// counterpartID, who must hold the role opposite to the caller's.
func (s *Service) OpenConversation(ctx context.Context, callerID, counterpartID string) (model.Conversation, bool, error) {
	counterpartID = strings.TrimSpace(counterpartID)
	if counterpartID == "" {
		return model.Conversation{}, false, apperr.Validation("counterpartId is required")
	}
	if counterpartID == callerID {
		return model.Conversation{}, false, apperr.Validation("Cannot open a conversation with yourself")
	}

	caller, err := s.resolver.Resolve(ctx, callerID)
	if err != nil {
		return model.Conversation{}, false, err
	}

	switch caller.Role {
	case model.RoleAgent:
		return s.GetOrCreateConversation(ctx, callerID, counterpartID)
	case model.RoleInvestor:
		return s.GetOrCreateConversation(ctx, counterpartID, callerID)
	case model.RoleNone:
		return model.Conversation{}, false, apperr.Forbidden("No permission: user has no role", nil)
	}
	return model.Conversation{}, false, apperr.Forbidden("No permission: user has no role", nil)
}

// GetConversation returns a conversation the caller takes part in.
func (s *Service) GetConversation(ctx context.Context, callerID, conversationID string) (model.Conversation, error) {
	if strings.TrimSpace(conversationID) == "" {
		return model.Conversation{}, apperr.Validation("id is required")
	}
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return model.Conversation{}, err
	}
	if conv.RoleOf(callerID) == model.RoleNone {
		return model.Conversation{}, apperr.Forbidden("Not a participant of this conversation", nil)
	}
	return conv, nil
}

func (s *Service) ListConversations(ctx context.Context, callerID string) ([]ConversationSummary, error) {
	convs, err := s.store.ListConversationsFor(ctx, callerID)
	if err != nil {
		return nil, err
	}
	out := make([]ConversationSummary, 0, len(convs))
	for _, c := range convs {
		role := c.RoleOf(callerID)
		counterpart := c.InvestorID
		if role == model.RoleInvestor {
			counterpart = c.AgentID
		}
		out = append(out, ConversationSummary{
			Conversation:  c,
			Role:          role,
			CounterpartID: counterpart,
			Unread:        c.Unread(role),
		})
	}
	return out, nil
}

// AppendMessage persists a message from senderID and publishes it to live
// subscribers. Read markers are not touched.
func (s *Service) AppendMessage(ctx context.Context, conversationID, senderID, content string) (model.Message, error) {
	if strings.TrimSpace(content) == "" {
		return model.Message{}, apperr.Validation("Message content cannot be empty")
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return model.Message{}, apperr.Validation("Message content is too long")
	}
	if strings.TrimSpace(conversationID) == "" || strings.TrimSpace(senderID) == "" {
		return model.Message{}, apperr.Validation("conversationId and senderId are required")
	}

	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return model.Message{}, err
	}
	role := conv.RoleOf(senderID)
	if role == model.RoleNone {
		return model.Message{}, apperr.Forbidden("Not a participant of this conversation", nil)
	}

	msg, err := s.store.AppendMessage(ctx, conversationID, senderID, role, content, s.now().UTC())
	if err != nil {
		return model.Message{}, err
	}
	s.metrics.MessageSent()
	s.log.Debug("message appended", "conversationId", conversationID, "seq", msg.Seq, "senderId", senderID)

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, msg); err != nil {
			s.log.Warn("live publish failed", "conversationId", conversationID, "messageId", msg.ID, "error", err)
		}
	}
	return msg, nil
}

// LoadMessages returns the caller's conversation history in send order,
// starting after afterSeq (0 for the full history).
func (s *Service) LoadMessages(ctx context.Context, callerID, conversationID string, afterSeq int64) ([]model.Message, error) {
	if afterSeq < 0 {
		return nil, apperr.Validation("after must not be negative")
	}
	if _, err := s.GetConversation(ctx, callerID, conversationID); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, conversationID, afterSeq)
}

// MarkRead sets the read marker of role to now.
func (s *Service) MarkRead(ctx context.Context, conversationID string, role model.Role) (time.Time, error) {
	if strings.TrimSpace(conversationID) == "" {
		return time.Time{}, apperr.Validation("conversationId is required")
	}
	now := s.now().UTC()
	if err := s.store.MarkRead(ctx, conversationID, role, now); err != nil {
		return time.Time{}, err
	}
	return now, nil
}

// MarkReadAs marks the conversation read for whichever side callerID is on.
func (s *Service) MarkReadAs(ctx context.Context, callerID, conversationID string) (time.Time, error) {
	conv, err := s.GetConversation(ctx, callerID, conversationID)
	if err != nil {
		return time.Time{}, err
	}
	return s.MarkRead(ctx, conv.ID, conv.RoleOf(callerID))
}
