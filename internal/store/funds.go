package store

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm/clause"

	"fund-connect/internal/apperr"
	"fund-connect/internal/model"
)

func (s *Store) CreateFund(ctx context.Context, f model.Fund) (model.Fund, error) {
	if err := s.db.WithContext(ctx).Create(&f).Error; err != nil {
		return model.Fund{}, translate(err, "Fund")
	}
	return f, nil
}

func (s *Store) GetFund(ctx context.Context, id string) (model.Fund, error) {
	var f model.Fund
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&f).Error
	return f, translate(err, "Fund")
}

// ListFunds returns funds matching every non-empty field of filter, newest
// first. Query is a case-insensitive substring match on name, strategy and
// description.
func (s *Store) ListFunds(ctx context.Context, filter model.FundFilter) ([]model.Fund, error) {
	q := s.db.WithContext(ctx).Model(&model.Fund{})
	if term := strings.TrimSpace(filter.Query); term != "" {
		like := "%" + escapeLike(strings.ToLower(term)) + "%"
		q = q.Where("(LOWER(name) LIKE ? ESCAPE '\\' OR LOWER(strategy) LIKE ? ESCAPE '\\' OR LOWER(description) LIKE ? ESCAPE '\\')", like, like, like)
	}
	if filter.Strategy != "" {
		q = q.Where("LOWER(strategy) = ?", strings.ToLower(filter.Strategy))
	}
	if filter.AgentID != "" {
		q = q.Where("agent_id = ?", filter.AgentID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}

	funds := make([]model.Fund, 0)
	err := q.Order("created_at DESC").Order("id ASC").Find(&funds).Error
	return funds, translate(err, "Fund")
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// CreateInterest records an investor's interest in a fund. A second call for
// the same pair returns the existing row with created false.
func (s *Store) CreateInterest(ctx context.Context, in model.Interest) (model.Interest, bool, error) {
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "fund_id"}, {Name: "investor_id"}},
			DoNothing: true,
		}).
		Create(&in)
	if res.Error != nil {
		return model.Interest{}, false, translate(res.Error, "Interest")
	}

	var stored model.Interest
	err := s.db.WithContext(ctx).
		Where("fund_id = ? AND investor_id = ?", in.FundID, in.InvestorID).
		Take(&stored).Error
	if err != nil {
		return model.Interest{}, false, translate(err, "Interest")
	}
	return stored, res.RowsAffected == 1, nil
}

func (s *Store) GetInterest(ctx context.Context, id string) (model.Interest, error) {
	var in model.Interest
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&in).Error
	return in, translate(err, "Interest")
}

// ListInterestsForAgent returns interests expressed in any fund owned by agentID.
func (s *Store) ListInterestsForAgent(ctx context.Context, agentID string) ([]model.Interest, error) {
	owned := s.db.Model(&model.Fund{}).Select("id").Where("agent_id = ?", agentID)
	interests := make([]model.Interest, 0)
	err := s.db.WithContext(ctx).
		Where("fund_id IN (?)", owned).
		Order("created_at DESC").
		Order("id ASC").
		Find(&interests).Error
	return interests, translate(err, "Interest")
}

func (s *Store) ListInterestsForInvestor(ctx context.Context, investorID string) ([]model.Interest, error) {
	interests := make([]model.Interest, 0)
	err := s.db.WithContext(ctx).
		Where("investor_id = ?", investorID).
		Order("created_at DESC").
		Order("id ASC").
		Find(&interests).Error
	return interests, translate(err, "Interest")
}

func (s *Store) UpdateInterestStatus(ctx context.Context, id, status string, now time.Time) (model.Interest, error) {
	res := s.db.WithContext(ctx).Model(&model.Interest{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": status, "updated_at": now})
	if res.Error != nil {
		return model.Interest{}, translate(res.Error, "Interest")
	}
	if res.RowsAffected == 0 {
		return model.Interest{}, apperr.NotFound("Interest", nil)
	}
	return s.GetInterest(ctx, id)
}
