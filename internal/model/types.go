package model

import (
	"fmt"
	"strings"
	"time"
)

// Role is the closed set of parties that can take part in a conversation.
// The zero value means the user holds no role.
type Role int

const (
	RoleNone Role = iota
	RoleAgent
	RoleInvestor
)

func (r Role) String() string {
	switch r {
	case RoleAgent:
		return "agent"
	case RoleInvestor:
		return "investor"
	case RoleNone:
		return ""
	}
	return fmt.Sprintf("Role(%d)", int(r))
}

// Opposite returns the counterpart role in a conversation.
func (r Role) Opposite() Role {
	switch r {
	case RoleAgent:
		return RoleInvestor
	case RoleInvestor:
		return RoleAgent
	case RoleNone:
		return RoleNone
	}
	return RoleNone
}

func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "agent":
		return RoleAgent, nil
	case "investor":
		return RoleInvestor, nil
	}
	return RoleNone, fmt.Errorf("unknown role %q", s)
}

func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*r = RoleNone
		return nil
	}
	parsed, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

type Agent struct {
	UserID    string    `gorm:"primaryKey;type:varchar(64)" json:"user_id"`
	Name      string    `gorm:"type:varchar(200);not null" json:"name"`
	Firm      string    `gorm:"type:varchar(200)" json:"firm"`
	Verified  bool      `gorm:"not null" json:"verified"`
	CreatedAt time.Time `json:"created_at"`
}

type Investor struct {
	UserID             string    `gorm:"primaryKey;type:varchar(64)" json:"user_id"`
	Name               string    `gorm:"type:varchar(200);not null" json:"name"`
	IntroducingAgentID *string   `gorm:"type:varchar(64);index" json:"introducing_agent_id"`
	Approved           bool      `gorm:"not null" json:"approved"`
	CreatedAt          time.Time `json:"created_at"`

	IntroducingAgent *Agent `gorm:"foreignKey:IntroducingAgentID;references:UserID;constraint:OnDelete:SET NULL" json:"-"`
}

type Profile struct {
	UserID      string    `gorm:"primaryKey;type:varchar(64)" json:"user_id"`
	DisplayName string    `gorm:"type:varchar(200)" json:"display_name"`
	Email       string    `gorm:"type:varchar(320)" json:"email"`
	AvatarURL   string    `gorm:"type:text" json:"avatar_url"`
	UpdatedAt   time.Time `json:"updated_at"`
}

const (
	FundStatusOpen   = "open"
	FundStatusClosed = "closed"
)

type Fund struct {
	ID            string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	AgentID       string    `gorm:"type:varchar(64);not null;index" json:"agent_id"`
	Name          string    `gorm:"type:varchar(200);not null" json:"name"`
	Strategy      string    `gorm:"type:varchar(100);index" json:"strategy"`
	TargetSize    int64     `json:"target_size"`
	MinInvestment int64     `json:"min_investment"`
	Description   string    `gorm:"type:text" json:"description"`
	Status        string    `gorm:"type:varchar(16);not null" json:"status"`
	CreatedAt     time.Time `gorm:"index" json:"created_at"`

	Agent *Agent `gorm:"foreignKey:AgentID;references:UserID;constraint:OnDelete:RESTRICT" json:"-"`
}

// FundFilter narrows a fund listing. Empty fields match everything.
type FundFilter struct {
	Query    string
	Strategy string
	AgentID  string
	Status   string
}

const (
	InterestPending  = "pending"
	InterestAccepted = "accepted"
	InterestDeclined = "declined"
)

type Interest struct {
	ID         string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	FundID     string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_interest_fund_investor" json:"fund_id"`
	InvestorID string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_interest_fund_investor;index" json:"investor_id"`
	Note       string    `gorm:"type:text" json:"note"`
	Status     string    `gorm:"type:varchar(16);not null" json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`

	Fund     *Fund     `gorm:"foreignKey:FundID;constraint:OnDelete:CASCADE" json:"-"`
	Investor *Investor `gorm:"foreignKey:InvestorID;references:UserID;constraint:OnDelete:CASCADE" json:"-"`
}

// Conversation is the 1:1 channel between one agent and one investor. The
// (agent_id, investor_id) pair is unique.
type Conversation struct {
	ID               string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	AgentID          string     `gorm:"type:varchar(64);not null;uniqueIndex:idx_conversation_pair" json:"agent_id"`
	InvestorID       string     `gorm:"type:varchar(64);not null;uniqueIndex:idx_conversation_pair;index" json:"investor_id"`
	CreatedAt        time.Time  `json:"created_at"`
	AgentLastRead    *time.Time `json:"agent_last_read"`
	InvestorLastRead *time.Time `json:"investor_last_read"`
	LastSeq          int64      `gorm:"not null" json:"last_seq"`
	LastMessageAt    *time.Time `gorm:"index" json:"last_message_at"`
	AgentUnread      int64      `gorm:"not null" json:"-"`
	InvestorUnread   int64      `gorm:"not null" json:"-"`

	Agent    *Agent    `gorm:"foreignKey:AgentID;references:UserID;constraint:OnDelete:RESTRICT" json:"-"`
	Investor *Investor `gorm:"foreignKey:InvestorID;references:UserID;constraint:OnDelete:RESTRICT" json:"-"`
}

// LastRead returns the read marker of the given participant role.
func (c Conversation) LastRead(role Role) *time.Time {
	switch role {
	case RoleAgent:
		return c.AgentLastRead
	case RoleInvestor:
		return c.InvestorLastRead
	case RoleNone:
		return nil
	}
	return nil
}

// Unread returns the number of messages the given role has not read yet.
func (c Conversation) Unread(role Role) int64 {
	switch role {
	case RoleAgent:
		return c.AgentUnread
	case RoleInvestor:
		return c.InvestorUnread
	case RoleNone:
		return 0
	}
	return 0
}

// RoleOf returns the role userID plays in the conversation, or RoleNone when
// the user is not a participant.
func (c Conversation) RoleOf(userID string) Role {
	switch userID {
	case c.AgentID:
		return RoleAgent
	case c.InvestorID:
		return RoleInvestor
	}
	return RoleNone
}

// Message rows are immutable. Seq is assigned by the server and strictly
// increases within a conversation.
type Message struct {
	ID             string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	ConversationID string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_message_conversation_seq" json:"conversation_id"`
	Seq            int64     `gorm:"not null;uniqueIndex:idx_message_conversation_seq" json:"seq"`
	SenderID       string    `gorm:"type:varchar(64);not null" json:"sender_id"`
	Content        string    `gorm:"type:text;not null" json:"content"`
	CreatedAt      time.Time `json:"created_at"`

	Conversation *Conversation `gorm:"foreignKey:ConversationID;constraint:OnDelete:CASCADE" json:"-"`
}
