package funds

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"fund-connect/internal/apperr"
	"fund-connect/internal/identity"
	"fund-connect/internal/logging"
	"fund-connect/internal/model"
)

type Store interface {
	CreateFund(ctx context.Context, f model.Fund) (model.Fund, error)
	GetFund(ctx context.Context, id string) (model.Fund, error)
	ListFunds(ctx context.Context, filter model.FundFilter) ([]model.Fund, error)
	CreateInterest(ctx context.Context, in model.Interest) (model.Interest, bool, error)
	GetInterest(ctx context.Context, id string) (model.Interest, error)
	ListInterestsForAgent(ctx context.Context, agentID string) ([]model.Interest, error)
	ListInterestsForInvestor(ctx context.Context, investorID string) ([]model.Interest, error)
	UpdateInterestStatus(ctx context.Context, id, status string, now time.Time) (model.Interest, error)
}

type Resolver interface {
	Resolve(ctx context.Context, userID string) (identity.Identity, error)
}

type Service struct {
	store    Store
	resolver Resolver
	log      *slog.Logger
	now      func() time.Time
}

type Options struct {
	Logger *slog.Logger
	Now    func() time.Time
}

func NewService(store Store, resolver Resolver, opts Options) *Service {
	s := &Service{store: store, resolver: resolver, log: opts.Logger, now: opts.Now}
	if s.log == nil {
		s.log = logging.Discard()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

type CreateFundInput struct {
	Name          string
	Strategy      string
	TargetSize    int64
	MinInvestment int64
	Description   string
}

// CreateFund lists a new open fund owned by the calling agent.
func (s *Service) CreateFund(ctx context.Context, callerID string, in CreateFundInput) (model.Fund, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return model.Fund{}, apperr.Validation("name is required")
	}
	if in.TargetSize < 0 || in.MinInvestment < 0 {
		return model.Fund{}, apperr.Validation("amounts must not be negative")
	}
	if in.TargetSize > 0 && in.MinInvestment > in.TargetSize {
		return model.Fund{}, apperr.Validation("minimum investment exceeds target size")
	}

	caller, err := s.resolver.Resolve(ctx, callerID)
	if err != nil {
		return model.Fund{}, err
	}
	if caller.Role != model.RoleAgent {
		return model.Fund{}, apperr.Forbidden("Only agents can list funds", nil)
	}

	f, err := s.store.CreateFund(ctx, model.Fund{
		ID:            uuid.NewString(),
		AgentID:       callerID,
		Name:          name,
		Strategy:      strings.TrimSpace(in.Strategy),
		TargetSize:    in.TargetSize,
		MinInvestment: in.MinInvestment,
		Description:   strings.TrimSpace(in.Description),
		Status:        model.FundStatusOpen,
		CreatedAt:     s.now().UTC(),
	})
	if err != nil {
		return model.Fund{}, err
	}
	s.log.Info("fund created", "fundId", f.ID, "agentId", callerID)
	return f, nil
}

func (s *Service) ListFunds(ctx context.Context, filter model.FundFilter) ([]model.Fund, error) {
	switch filter.Status {
	case "", model.FundStatusOpen, model.FundStatusClosed:
	default:
		return nil, apperr.Validation("status must be open or closed")
	}
	return s.store.ListFunds(ctx, filter)
}

func (s *Service) GetFund(ctx context.Context, id string) (model.Fund, error) {
	if strings.TrimSpace(id) == "" {
		return model.Fund{}, apperr.Validation("id is required")
	}
	return s.store.GetFund(ctx, id)
}

// ExpressInterest records the calling investor's interest in an open fund.
// Repeating it returns the existing interest with created false.
func (s *Service) ExpressInterest(ctx context.Context, callerID, fundID, note string) (model.Interest, bool, error) {
	caller, err := s.resolver.Resolve(ctx, callerID)
	if err != nil {
		return model.Interest{}, false, err
	}
	if caller.Role != model.RoleInvestor {
		return model.Interest{}, false, apperr.Forbidden("Only investors can express interest", nil)
	}
	if caller.Investor == nil || !caller.Investor.Approved {
		return model.Interest{}, false, apperr.Forbidden("Investor account is pending approval", nil)
	}

	fund, err := s.GetFund(ctx, fundID)
	if err != nil {
		return model.Interest{}, false, err
	}
	if fund.Status != model.FundStatusOpen {
		return model.Interest{}, false, apperr.Conflict("Fund is closed", nil)
	}

	now := s.now().UTC()
	in, created, err := s.store.CreateInterest(ctx, model.Interest{
		ID:         uuid.NewString(),
		FundID:     fund.ID,
		InvestorID: callerID,
		Note:       strings.TrimSpace(note),
		Status:     model.InterestPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		return model.Interest{}, false, err
	}
	if created {
		s.log.Info("interest expressed", "interestId", in.ID, "fundId", fund.ID, "investorId", callerID)
	}
	return in, created, nil
}

// ListInterests returns interests in the caller's funds for an agent, or the
// caller's own interests for an investor.
func (s *Service) ListInterests(ctx context.Context, callerID string) ([]model.Interest, error) {
	caller, err := s.resolver.Resolve(ctx, callerID)
	if err != nil {
		return nil, err
	}
	switch caller.Role {
	case model.RoleAgent:
		return s.store.ListInterestsForAgent(ctx, callerID)
	case model.RoleInvestor:
		return s.store.ListInterestsForInvestor(ctx, callerID)
	case model.RoleNone:
		return nil, apperr.Forbidden("No permission: user has no role", nil)
	}
	return nil, apperr.Forbidden("No permission: user has no role", nil)
}

// RespondToInterest accepts or declines an interest. Only the agent owning
// the fund may respond.
func (s *Service) RespondToInterest(ctx context.Context, callerID, interestID string, accept bool) (model.Interest, error) {
	if strings.TrimSpace(interestID) == "" {
		return model.Interest{}, apperr.Validation("id is required")
	}
	in, err := s.store.GetInterest(ctx, interestID)
	if err != nil {
		return model.Interest{}, err
	}
	fund, err := s.store.GetFund(ctx, in.FundID)
	if err != nil {
		return model.Interest{}, err
	}
	if fund.AgentID != callerID {
		return model.Interest{}, apperr.Forbidden("Only the fund's agent can respond", nil)
	}

	status := model.InterestDeclined
	if accept {
		status = model.InterestAccepted
	}
	return s.store.UpdateInterestStatus(ctx, in.ID, status, s.now().UTC())
}
