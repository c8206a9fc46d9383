package identity

import (
	"context"
	"strings"

	"fund-connect/internal/apperr"
	"fund-connect/internal/model"
)

type AssignRoleInput struct {
	UserID             string
	Role               model.Role
	Name               string
	Firm               string
	IntroducingAgentID string
}

type AssignRoleResult struct {
	Role     model.Role      `json:"role"`
	Created  bool            `json:"created"`
	Agent    *model.Agent    `json:"agent,omitempty"`
	Investor *model.Investor `json:"investor,omitempty"`
}

// AssignRole registers the caller as an agent or an investor. Assigning the
// role the user already holds succeeds without creating a row; assigning the
// other role is a conflict. An investor is approved only when the
// introducing agent exists.
func (s *Service) AssignRole(ctx context.Context, callerID string, in AssignRoleInput) (AssignRoleResult, error) {
	in.UserID = strings.TrimSpace(in.UserID)
	if in.UserID == "" {
		return AssignRoleResult{}, apperr.Validation("userId is required")
	}
	if in.Role == model.RoleNone {
		return AssignRoleResult{}, apperr.Validation("role must be agent or investor")
	}
	if callerID != in.UserID {
		return AssignRoleResult{}, apperr.Forbidden("Cannot assign a role to another user", nil)
	}

	current, err := s.lookup(ctx, in.UserID)
	if err != nil {
		return AssignRoleResult{}, err
	}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = s.displayName(ctx, in.UserID)
	}

	var res AssignRoleResult
	switch in.Role {
	case model.RoleAgent:
		if current.IsInvestor {
			return AssignRoleResult{}, apperr.Conflict("User is already registered as an investor", nil)
		}
		if current.IsAgent {
			res = AssignRoleResult{Role: model.RoleAgent, Agent: current.AgentData}
			break
		}
		agent, created, err := s.store.CreateAgent(ctx, model.Agent{
			UserID:    in.UserID,
			Name:      name,
			Firm:      strings.TrimSpace(in.Firm),
			CreatedAt: s.now().UTC(),
		})
		if err != nil {
			return AssignRoleResult{}, s.assignFailed(in, name, err)
		}
		res = AssignRoleResult{Role: model.RoleAgent, Created: created, Agent: &agent}

	case model.RoleInvestor:
		if current.IsAgent {
			return AssignRoleResult{}, apperr.Conflict("User is already registered as an agent", nil)
		}
		if current.IsInvestor {
			res = AssignRoleResult{Role: model.RoleInvestor, Investor: current.InvestorData}
			break
		}
		inv := model.Investor{UserID: in.UserID, Name: name, CreatedAt: s.now().UTC()}
		if introducer := strings.TrimSpace(in.IntroducingAgentID); introducer != "" {
			_, err := s.store.GetAgent(ctx, introducer)
			switch {
			case err == nil:
				inv.IntroducingAgentID = &introducer
				inv.Approved = true
			case !apperr.Is(err, apperr.CodeNotFound):
				return AssignRoleResult{}, err
			}
		}
		investor, created, err := s.store.CreateInvestor(ctx, inv)
		if err != nil {
			return AssignRoleResult{}, s.assignFailed(in, name, err)
		}
		res = AssignRoleResult{Role: model.RoleInvestor, Created: created, Investor: &investor}

	case model.RoleNone:
		return AssignRoleResult{}, apperr.Validation("role must be agent or investor")
	}

	s.invalidate(ctx, in.UserID)
	s.log.Info("role assigned", "userId", in.UserID, "role", res.Role.String(), "created", res.Created)
	return res, nil
}

// assignFailed attaches a manual repair statement to storage failures so an
// operator can complete the registration by hand.
func (s *Service) assignFailed(in AssignRoleInput, name string, err error) error {
	appErr := apperr.From(err)
	if appErr.Code != apperr.CodeInternal {
		return appErr
	}
	s.log.Error("role assignment failed", "userId", in.UserID, "role", in.Role.String(), "error", err)
	return apperr.Internal("Failed to assign role", err).
		WithDetails("Run manually: " + repairStatement(in.Role, in.UserID, name, in.Firm))
}

func (s *Service) displayName(ctx context.Context, userID string) string {
	p, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		return ""
	}
	return p.DisplayName
}

type ProfileInput struct {
	DisplayName string
	Email       string
	AvatarURL   string
}

func (s *Service) GetProfile(ctx context.Context, userID string) (model.Profile, error) {
	if strings.TrimSpace(userID) == "" {
		return model.Profile{}, apperr.Validation("userId is required")
	}
	return s.store.GetProfile(ctx, userID)
}

// UpsertProfile writes the caller's own profile.
func (s *Service) UpsertProfile(ctx context.Context, callerID string, in ProfileInput) (model.Profile, error) {
	if strings.TrimSpace(callerID) == "" {
		return model.Profile{}, apperr.Unauthorized("Unauthorized")
	}
	return s.store.UpsertProfile(ctx, model.Profile{
		UserID:      callerID,
		DisplayName: strings.TrimSpace(in.DisplayName),
		Email:       strings.TrimSpace(in.Email),
		AvatarURL:   strings.TrimSpace(in.AvatarURL),
		UpdatedAt:   s.now().UTC(),
	})
}
