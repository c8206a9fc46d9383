package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"fund-connect/internal/apperr"
	"fund-connect/internal/cache"
	"fund-connect/internal/logging"
	"fund-connect/internal/metrics"
	"fund-connect/internal/model"
)

type Store interface {
	GetAgent(ctx context.Context, userID string) (model.Agent, error)
	GetInvestor(ctx context.Context, userID string) (model.Investor, error)
	ListAgents(ctx context.Context) ([]model.Agent, error)
	ListInvestors(ctx context.Context) ([]model.Investor, error)
	CreateAgent(ctx context.Context, a model.Agent) (model.Agent, bool, error)
	CreateInvestor(ctx context.Context, inv model.Investor) (model.Investor, bool, error)
	GetProfile(ctx context.Context, userID string) (model.Profile, error)
	UpsertProfile(ctx context.Context, p model.Profile) (model.Profile, error)
}

// Identity is the resolved role of a user. Role is RoleNone when the user is
// registered in neither table; exactly one of Agent and Investor is set
// otherwise.
type Identity struct {
	UserID   string          `json:"user_id"`
	Role     model.Role      `json:"role"`
	Agent    *model.Agent    `json:"agent,omitempty"`
	Investor *model.Investor `json:"investor,omitempty"`
}

type RoleCheck struct {
	IsAgent      bool            `json:"isAgent"`
	IsInvestor   bool            `json:"isInvestor"`
	AgentData    *model.Agent    `json:"agentData,omitempty"`
	InvestorData *model.Investor `json:"investorData,omitempty"`
}

type Options struct {
	Cache    cache.Cache
	CacheTTL time.Duration
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Now      func() time.Time
}

type Service struct {
	store    Store
	cache    cache.Cache
	cacheTTL time.Duration
	log      *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewService(store Store, opts Options) *Service {
	s := &Service{
		store:    store,
		cache:    opts.Cache,
		cacheTTL: opts.CacheTTL,
		log:      opts.Logger,
		metrics:  opts.Metrics,
		now:      opts.Now,
	}
	if s.log == nil {
		s.log = logging.Discard()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.cacheTTL <= 0 {
		s.cacheTTL = 5 * time.Minute
	}
	return s
}

func cacheKey(userID string) string {
	return "role:" + userID
}

// Resolve determines whether userID is an agent or an investor. A user in
// neither table resolves to RoleNone without error and is never cached, since
// a role assigned concurrently could otherwise be hidden until the entry
// expires. A user in both tables is a conflict.
func (s *Service) Resolve(ctx context.Context, userID string) (Identity, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Identity{}, apperr.Validation("userId is required")
	}

	if id, ok := s.cached(ctx, userID); ok {
		return id, nil
	}

	check, err := s.lookup(ctx, userID)
	if err != nil {
		return Identity{}, err
	}

	id := Identity{UserID: userID}
	switch {
	case check.IsAgent && check.IsInvestor:
		s.log.Warn("user registered as both agent and investor", "userId", userID)
		return Identity{}, apperr.Conflict("User is registered as both agent and investor", nil)
	case check.IsAgent:
		id.Role, id.Agent = model.RoleAgent, check.AgentData
	case check.IsInvestor:
		id.Role, id.Investor = model.RoleInvestor, check.InvestorData
	}

	if id.Role != model.RoleNone {
		s.remember(ctx, id)
	}
	s.log.Debug("role resolved", "userId", userID, "role", id.Role.String())
	return id, nil
}

// CheckRole reports membership in both tables independently.
func (s *Service) CheckRole(ctx context.Context, userID string) (RoleCheck, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return RoleCheck{}, apperr.Validation("userId is required")
	}
	return s.lookup(ctx, userID)
}

func (s *Service) lookup(ctx context.Context, userID string) (RoleCheck, error) {
	var check RoleCheck

	agent, err := s.store.GetAgent(ctx, userID)
	switch {
	case err == nil:
		check.IsAgent, check.AgentData = true, &agent
	case !apperr.Is(err, apperr.CodeNotFound):
		return RoleCheck{}, err
	}

	investor, err := s.store.GetInvestor(ctx, userID)
	switch {
	case err == nil:
		check.IsInvestor, check.InvestorData = true, &investor
	case !apperr.Is(err, apperr.CodeNotFound):
		return RoleCheck{}, err
	}
	return check, nil
}

func (s *Service) cached(ctx context.Context, userID string) (Identity, bool) {
	if s.cache == nil {
		return Identity{}, false
	}
	raw, err := s.cache.Get(ctx, cacheKey(userID))
	if err != nil {
		if errors.Is(err, cache.ErrMiss) {
			s.metrics.RoleCache("miss")
		} else {
			s.metrics.RoleCache("error")
			s.log.Warn("role cache get failed", "userId", userID, "error", err)
		}
		return Identity{}, false
	}

	var id Identity
	if err := json.Unmarshal([]byte(raw), &id); err != nil {
		s.metrics.RoleCache("error")
		s.log.Warn("role cache entry unreadable", "userId", userID, "error", err)
		return Identity{}, false
	}
	s.metrics.RoleCache("hit")
	return id, true
}

// remember writes id to the cache. Failures only cost a later lookup.
func (s *Service) remember(ctx context.Context, id Identity) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(id)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, cacheKey(id.UserID), string(raw), s.cacheTTL); err != nil {
		s.log.Warn("role cache set failed", "userId", id.UserID, "error", err)
	}
}

func (s *Service) invalidate(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, cacheKey(userID)); err != nil {
		s.log.Warn("role cache delete failed", "userId", userID, "error", err)
	}
}

func (s *Service) ListAgents(ctx context.Context) ([]model.Agent, error) {
	return s.store.ListAgents(ctx)
}

func (s *Service) ListInvestors(ctx context.Context) ([]model.Investor, error) {
	return s.store.ListInvestors(ctx)
}

// sqlQuote renders v as a SQL string literal for operator-facing repair hints.
func sqlQuote(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

func repairStatement(role model.Role, userID, name, firm string) string {
	switch role {
	case model.RoleAgent:
		return fmt.Sprintf("INSERT INTO agents (user_id, name, firm, verified, created_at) VALUES (%s, %s, %s, false, NOW()) ON CONFLICT (user_id) DO NOTHING;",
			sqlQuote(userID), sqlQuote(name), sqlQuote(firm))
	case model.RoleInvestor:
		return fmt.Sprintf("INSERT INTO investors (user_id, name, approved, created_at) VALUES (%s, %s, false, NOW()) ON CONFLICT (user_id) DO NOTHING;",
			sqlQuote(userID), sqlQuote(name))
	case model.RoleNone:
		return ""
	}
	return ""
}
