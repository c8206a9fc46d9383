package store

import (
	"context"

	"gorm.io/gorm/clause"

	"fund-connect/internal/model"
)

func (s *Store) GetAgent(ctx context.Context, userID string) (model.Agent, error) {
	var a model.Agent
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&a).Error
	return a, translate(err, "Agent")
}

func (s *Store) GetInvestor(ctx context.Context, userID string) (model.Investor, error) {
	var inv model.Investor
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&inv).Error
	return inv, translate(err, "Investor")
}

func (s *Store) ListAgents(ctx context.Context) ([]model.Agent, error) {
	agents := make([]model.Agent, 0)
	err := s.db.WithContext(ctx).Order("name ASC, user_id ASC").Find(&agents).Error
	return agents, translate(err, "Agent")
}

func (s *Store) ListInvestors(ctx context.Context) ([]model.Investor, error) {
	investors := make([]model.Investor, 0)
	err := s.db.WithContext(ctx).Order("name ASC, user_id ASC").Find(&investors).Error
	return investors, translate(err, "Investor")
}

// CreateAgent inserts a when no agent row exists for its user id. created is
// false when the row was already there; the stored row is returned either way.
func (s *Store) CreateAgent(ctx context.Context, a model.Agent) (model.Agent, bool, error) {
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(&a)
	if res.Error != nil {
		return model.Agent{}, false, translate(res.Error, "Agent")
	}
	stored, err := s.GetAgent(ctx, a.UserID)
	return stored, res.RowsAffected == 1, err
}

func (s *Store) CreateInvestor(ctx context.Context, inv model.Investor) (model.Investor, bool, error) {
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(&inv)
	if res.Error != nil {
		return model.Investor{}, false, translate(res.Error, "Investor")
	}
	stored, err := s.GetInvestor(ctx, inv.UserID)
	return stored, res.RowsAffected == 1, err
}

func (s *Store) GetProfile(ctx context.Context, userID string) (model.Profile, error) {
	var p model.Profile
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&p).Error
	return p, translate(err, "Profile")
}

func (s *Store) UpsertProfile(ctx context.Context, p model.Profile) (model.Profile, error) {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"display_name", "email", "avatar_url", "updated_at"}),
		}).
		Create(&p).Error
	if err != nil {
		return model.Profile{}, translate(err, "Profile")
	}
	return s.GetProfile(ctx, p.UserID)
}
