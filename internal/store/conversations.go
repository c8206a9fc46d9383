package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"fund-connect/internal/apperr"
	"fund-connect/internal/model"
)

// GetOrCreateConversation returns the conversation for the (agentID,
// investorID) pair, inserting it first when none exists. The insert relies on
// the unique pair index, so concurrent callers converge on a single row.
func (s *Store) GetOrCreateConversation(ctx context.Context, agentID, investorID string, now time.Time) (model.Conversation, bool, error) {
	conv := model.Conversation{
		ID:         uuid.NewString(),
		AgentID:    agentID,
		InvestorID: investorID,
		CreatedAt:  now,
	}

	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "agent_id"}, {Name: "investor_id"}},
			DoNothing: true,
		}).
		Create(&conv)
	if res.Error != nil {
		return model.Conversation{}, false, translate(res.Error, "Conversation")
	}

	var stored model.Conversation
	err := s.db.WithContext(ctx).
		Where("agent_id = ? AND investor_id = ?", agentID, investorID).
		Take(&stored).Error
	if err != nil {
		return model.Conversation{}, false, translate(err, "Conversation")
	}
	return stored, res.RowsAffected == 1, nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (model.Conversation, error) {
	var conv model.Conversation
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&conv).Error
	return conv, translate(err, "Conversation")
}

// ListConversationsFor returns every conversation userID takes part in, most
// recent activity first.
func (s *Store) ListConversationsFor(ctx context.Context, userID string) ([]model.Conversation, error) {
	convs := make([]model.Conversation, 0)
	err := s.db.WithContext(ctx).
		Where("agent_id = ? OR investor_id = ?", userID, userID).
		Order("COALESCE(last_message_at, created_at) DESC").
		Order("id ASC").
		Find(&convs).Error
	return convs, translate(err, "Conversation")
}

// AppendMessage stores a message and assigns it the next sequence number of
// its conversation. The counter bump, the recipient's unread count and the
// insert share one transaction; the row lock taken by the update orders
// concurrent senders.
func (s *Store) AppendMessage(ctx context.Context, conversationID, senderID string, senderRole model.Role, content string, now time.Time) (model.Message, error) {
	var unreadColumn string
	switch senderRole {
	case model.RoleAgent:
		unreadColumn = "investor_unread"
	case model.RoleInvestor:
		unreadColumn = "agent_unread"
	case model.RoleNone:
		return model.Message{}, apperr.Forbidden("Sender is not a participant", nil)
	default:
		return model.Message{}, apperr.Validation(fmt.Sprintf("unknown sender role %d", senderRole))
	}

	msg := model.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Conversation{}).
			Where("id = ?", conversationID).
			Updates(map[string]any{
				"last_seq":        gorm.Expr("last_seq + 1"),
				"last_message_at": now,
				unreadColumn:      gorm.Expr(unreadColumn + " + 1"),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}

		var conv model.Conversation
		if err := tx.Select("last_seq").Where("id = ?", conversationID).Take(&conv).Error; err != nil {
			return err
		}
		msg.Seq = conv.LastSeq
		return tx.Create(&msg).Error
	})
	if err != nil {
		return model.Message{}, translate(err, "Conversation")
	}
	return msg, nil
}

// ListMessages returns the messages of a conversation with seq greater than
// afterSeq, ascending.
func (s *Store) ListMessages(ctx context.Context, conversationID string, afterSeq int64) ([]model.Message, error) {
	msgs := make([]model.Message, 0)
	err := s.db.WithContext(ctx).
		Where("conversation_id = ? AND seq > ?", conversationID, afterSeq).
		Order("seq ASC").
		Find(&msgs).Error
	return msgs, translate(err, "Message")
}

// MarkRead sets the read marker of role to now and clears its unread count.
// The other participant's marker is left untouched.
func (s *Store) MarkRead(ctx context.Context, conversationID string, role model.Role, now time.Time) error {
	var readColumn, unreadColumn string
	switch role {
	case model.RoleAgent:
		readColumn, unreadColumn = "agent_last_read", "agent_unread"
	case model.RoleInvestor:
		readColumn, unreadColumn = "investor_last_read", "investor_unread"
	case model.RoleNone:
		return apperr.Validation("reader role is required")
	default:
		return apperr.Validation(fmt.Sprintf("unknown reader role %d", role))
	}

	res := s.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("id = ?", conversationID).
		Updates(map[string]any{readColumn: now, unreadColumn: 0})
	if res.Error != nil {
		return translate(res.Error, "Conversation")
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("Conversation", nil)
	}
	return nil
}
