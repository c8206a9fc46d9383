package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fund-connect/internal/apperr"
	"fund-connect/internal/model"
	"fund-connect/internal/store"
	"fund-connect/internal/store/storetest"
)

func seedPair(t *testing.T, s *store.Store) {
	t.Helper()
	ctx := context.Background()
	_, _, err := s.CreateAgent(ctx, model.Agent{UserID: "a1", Name: "Alice", Firm: "Acme"})
	require.NoError(t, err)
	_, _, err = s.CreateInvestor(ctx, model.Investor{UserID: "i1", Name: "Bob"})
	require.NoError(t, err)
}

func TestCreateAgent_Idempotent(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()

	a, created, err := s.CreateAgent(ctx, model.Agent{UserID: "a1", Name: "Alice"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "Alice", a.Name)

	a, created, err = s.CreateAgent(ctx, model.Agent{UserID: "a1", Name: "Other"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "Alice", a.Name, "existing row must not be overwritten")

	agents, err := s.ListAgents(ctx)
	require.NoError(t, err)
	assert.Len(t, agents, 1)
}

func TestGetAgent_NotFound(t *testing.T) {
	s := storetest.New(t)
	_, err := s.GetAgent(context.Background(), "missing")
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))
}

func TestGetOrCreateConversation_SinglePairRow(t *testing.T) {
	s := storetest.New(t)
	seedPair(t, s)
	ctx := context.Background()
	now := time.Now().UTC()

	first, created, err := s.GetOrCreateConversation(ctx, "a1", "i1", now)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Nil(t, first.AgentLastRead)
	assert.Nil(t, first.InvestorLastRead)

	second, created, err := s.GetOrCreateConversation(ctx, "a1", "i1", now.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	convs, err := s.ListConversationsFor(ctx, "a1")
	require.NoError(t, err)
	assert.Len(t, convs, 1)
}

func TestGetOrCreateConversation_Concurrent(t *testing.T) {
	s := storetest.New(t)
	seedPair(t, s)
	ctx := context.Background()

	const callers = 8
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conv, _, err := s.GetOrCreateConversation(ctx, "a1", "i1", time.Now().UTC())
			assert.NoError(t, err)
			ids[i] = conv.ID
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	convs, err := s.ListConversationsFor(ctx, "i1")
	require.NoError(t, err)
	assert.Len(t, convs, 1)
}

func TestAppendMessage_SequenceAndUnread(t *testing.T) {
	s := storetest.New(t)
	seedPair(t, s)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	conv, _, err := s.GetOrCreateConversation(ctx, "a1", "i1", base)
	require.NoError(t, err)

	m1, err := s.AppendMessage(ctx, conv.ID, "a1", model.RoleAgent, "one", base.Add(1*time.Second))
	require.NoError(t, err)
	m2, err := s.AppendMessage(ctx, conv.ID, "i1", model.RoleInvestor, "two", base.Add(2*time.Second))
	require.NoError(t, err)
	m3, err := s.AppendMessage(ctx, conv.ID, "a1", model.RoleAgent, "three", base.Add(3*time.Second))
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, []int64{m1.Seq, m2.Seq, m3.Seq})

	msgs, err := s.ListMessages(ctx, conv.ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "one", msgs[0].Content)
	assert.Equal(t, "two", msgs[1].Content)
	assert.Equal(t, "three", msgs[2].Content)

	after, err := s.ListMessages(ctx, conv.ID, m2.Seq)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, m3.ID, after[0].ID)

	stored, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stored.LastSeq)
	assert.Equal(t, int64(2), stored.InvestorUnread)
	assert.Equal(t, int64(1), stored.AgentUnread)
	require.NotNil(t, stored.LastMessageAt)
	assert.True(t, stored.LastMessageAt.Equal(base.Add(3*time.Second)))
	assert.Nil(t, stored.AgentLastRead, "appending never touches read markers")
	assert.Nil(t, stored.InvestorLastRead)
}

func TestAppendMessage_UnknownConversation(t *testing.T) {
	s := storetest.New(t)
	_, err := s.AppendMessage(context.Background(), "nope", "a1", model.RoleAgent, "hi", time.Now().UTC())
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))
}

func TestAppendMessage_RejectsUnknownSenderRole(t *testing.T) {
	s := storetest.New(t)
	seedPair(t, s)
	ctx := context.Background()
	conv, _, err := s.GetOrCreateConversation(ctx, "a1", "i1", time.Now().UTC())
	require.NoError(t, err)

	_, err = s.AppendMessage(ctx, conv.ID, "a1", model.Role(99), "hi", time.Now().UTC())
	assert.True(t, apperr.Is(err, apperr.CodeValidation), "got %v", err)

	stored, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.LastSeq)
}

func TestMarkRead_OnlyTouchesReaderMarker(t *testing.T) {
	s := storetest.New(t)
	seedPair(t, s)
	ctx := context.Background()
	now := time.Now().UTC()

	conv, _, err := s.GetOrCreateConversation(ctx, "a1", "i1", now)
	require.NoError(t, err)
	_, err = s.AppendMessage(ctx, conv.ID, "i1", model.RoleInvestor, "hello", now)
	require.NoError(t, err)

	readAt := now.Add(time.Minute)
	require.NoError(t, s.MarkRead(ctx, conv.ID, model.RoleAgent, readAt))

	stored, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.AgentLastRead)
	assert.True(t, stored.AgentLastRead.Equal(readAt))
	assert.Nil(t, stored.InvestorLastRead)
	assert.Zero(t, stored.AgentUnread)

	err = s.MarkRead(ctx, "missing", model.RoleAgent, readAt)
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))
}

func TestListConversationsFor_MostRecentFirst(t *testing.T) {
	s := storetest.New(t)
	seedPair(t, s)
	ctx := context.Background()
	_, _, err := s.CreateInvestor(ctx, model.Investor{UserID: "i2", Name: "Carol"})
	require.NoError(t, err)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	older, _, err := s.GetOrCreateConversation(ctx, "a1", "i1", base)
	require.NoError(t, err)
	newer, _, err := s.GetOrCreateConversation(ctx, "a1", "i2", base.Add(time.Hour))
	require.NoError(t, err)

	convs, err := s.ListConversationsFor(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, newer.ID, convs[0].ID)

	_, err = s.AppendMessage(ctx, older.ID, "i1", model.RoleInvestor, "ping", base.Add(2*time.Hour))
	require.NoError(t, err)
	convs, err = s.ListConversationsFor(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, older.ID, convs[0].ID)
}

func TestFundsAndInterests(t *testing.T) {
	s := storetest.New(t)
	seedPair(t, s)
	ctx := context.Background()
	now := time.Now().UTC()

	growth, err := s.CreateFund(ctx, model.Fund{ID: "f1", AgentID: "a1", Name: "Growth Fund II", Strategy: "Venture", Status: model.FundStatusOpen, CreatedAt: now})
	require.NoError(t, err)
	_, err = s.CreateFund(ctx, model.Fund{ID: "f2", AgentID: "a1", Name: "Credit 100%", Strategy: "Private Credit", Status: model.FundStatusClosed, CreatedAt: now.Add(time.Second)})
	require.NoError(t, err)

	all, err := s.ListFunds(ctx, model.FundFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "f2", all[0].ID)

	byQuery, err := s.ListFunds(ctx, model.FundFilter{Query: "growth"})
	require.NoError(t, err)
	require.Len(t, byQuery, 1)
	assert.Equal(t, growth.ID, byQuery[0].ID)

	literal, err := s.ListFunds(ctx, model.FundFilter{Query: "100%"})
	require.NoError(t, err)
	require.Len(t, literal, 1)
	assert.Equal(t, "f2", literal[0].ID)

	open, err := s.ListFunds(ctx, model.FundFilter{Status: model.FundStatusOpen, Strategy: "venture"})
	require.NoError(t, err)
	require.Len(t, open, 1)

	in, created, err := s.CreateInterest(ctx, model.Interest{ID: "n1", FundID: "f1", InvestorID: "i1", Status: model.InterestPending, CreatedAt: now, UpdatedAt: now})
	require.NoError(t, err)
	assert.True(t, created)
	again, created, err := s.CreateInterest(ctx, model.Interest{ID: "n2", FundID: "f1", InvestorID: "i1", Status: model.InterestPending, CreatedAt: now, UpdatedAt: now})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, in.ID, again.ID)

	forAgent, err := s.ListInterestsForAgent(ctx, "a1")
	require.NoError(t, err)
	assert.Len(t, forAgent, 1)
	forInvestor, err := s.ListInterestsForInvestor(ctx, "i1")
	require.NoError(t, err)
	assert.Len(t, forInvestor, 1)

	updated, err := s.UpdateInterestStatus(ctx, in.ID, model.InterestAccepted, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, model.InterestAccepted, updated.Status)
}

func TestUpsertProfile(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()

	p, err := s.UpsertProfile(ctx, model.Profile{UserID: "u1", DisplayName: "First", UpdatedAt: time.Now().UTC()})
	require.NoError(t, err)
	assert.Equal(t, "First", p.DisplayName)

	p, err = s.UpsertProfile(ctx, model.Profile{UserID: "u1", DisplayName: "Second", Email: "u1@example.com", UpdatedAt: time.Now().UTC()})
	require.NoError(t, err)
	assert.Equal(t, "Second", p.DisplayName)
	assert.Equal(t, "u1@example.com", p.Email)
}
