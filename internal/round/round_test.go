package round

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"btc-tournament/internal/database"
	"btc-tournament/internal/reasonrule"
)

func TestRoundIDForFormatsUTC(t *testing.T) {
	start := time.Date(2026, 2, 4, 0, 1, 0, 0, time.UTC)
	assert.Equal(t, "r_20260204_0001", roundIDFor(start))
}

func TestRoundIDForConvertsToUTC(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*60*60)
	start := time.Date(2026, 2, 4, 0, 1, 0, 0, loc)
	assert.Equal(t, "r_20260204_0501", roundIDFor(start))
}

func TestComputeVerdictFlatThreshold(t *testing.T) {
	deltaPct, result := computeVerdict(100, 100.1, 0.2)
	assert.Equal(t, 0.1, deltaPct)
	assert.Equal(t, database.DirectionFlat, result)
}

func TestComputeVerdictUp(t *testing.T) {
	deltaPct, result := computeVerdict(100, 101, 0.2)
	assert.Equal(t, 1.0, deltaPct)
	assert.Equal(t, database.DirectionUp, result)
}

func TestComputeVerdictDown(t *testing.T) {
	deltaPct, result := computeVerdict(100, 99, 0.2)
	assert.Equal(t, -1.0, deltaPct)
	assert.Equal(t, database.DirectionDown, result)
}

func TestScoreJudgmentCorrectAwardsConfidence(t *testing.T) {
	j := &database.Judgment{AgentID: "a1", RoundID: "r1", Direction: database.DirectionUp, Confidence: 80}
	agent := &database.Agent{ID: "a1", Name: "Agent One"}
	verdict := &database.Verdict{RoundID: "r1", Result: database.DirectionUp, DeltaPct: 1.2}

	card, event := scoreJudgment(j, agent, verdict, time.Now())

	assert.True(t, event.Correct)
	assert.Equal(t, int64(80), event.ScoreChange)
	assert.Equal(t, "Correct", event.Reason)
	assert.Equal(t, database.FlipResultWin, card.Result)
}

func TestScoreJudgmentIncorrectPenalizesOneAndAHalf(t *testing.T) {
	j := &database.Judgment{AgentID: "a1", RoundID: "r1", Direction: database.DirectionUp, Confidence: 80}
	agent := &database.Agent{ID: "a1", Name: "Agent One"}
	verdict := &database.Verdict{RoundID: "r1", Result: database.DirectionDown, DeltaPct: -1.2}

	card, event := scoreJudgment(j, agent, verdict, time.Now())

	assert.False(t, event.Correct)
	assert.Equal(t, int64(-120), event.ScoreChange)
	assert.Equal(t, "High confidence failure", event.Reason)
	assert.Equal(t, database.FlipResultFail, card.Result)
}

func TestTopConfidencePicksHighest(t *testing.T) {
	judgments := []*database.Judgment{
		{AgentID: "a1", Confidence: 40},
		{AgentID: "a2", Confidence: 90},
		{AgentID: "a3", Confidence: 65},
	}
	assert.Equal(t, "a2", topConfidence(judgments).AgentID)
}

func TestSortAgentsByScoreDescending(t *testing.T) {
	agents := []AgentSummary{
		{Agent: &database.Agent{ID: "low", Score: 10}},
		{Agent: &database.Agent{ID: "high", Score: 90}},
		{Agent: &database.Agent{ID: "mid", Score: 50}},
	}
	sortAgentsByScore(agents)
	require.Len(t, agents, 3)
	assert.Equal(t, "high", agents[0].Agent.ID)
	assert.Equal(t, "mid", agents[1].Agent.ID)
	assert.Equal(t, "low", agents[2].Agent.ID)
}

func TestSubmitJudgmentRejectsMissingRoundID(t *testing.T) {
	s := &Service{}
	_, err := s.SubmitJudgment(context.Background(), "agent-1", JudgmentPayload{
		Direction: database.DirectionUp, Confidence: 50, Comment: "ok",
		Intervals: []string{"5m"}, AnalysisStartTime: time.Now(), AnalysisEndTime: time.Now().Add(time.Minute),
	})
	require.Error(t, err)
}

func TestSubmitJudgmentRejectsInvalidDirection(t *testing.T) {
	s := &Service{}
	_, err := s.SubmitJudgment(context.Background(), "agent-1", JudgmentPayload{
		RoundID: "r_1", Direction: "SIDEWAYS", Confidence: 50, Comment: "ok",
		Intervals: []string{"5m"}, AnalysisStartTime: time.Now(), AnalysisEndTime: time.Now().Add(time.Minute),
	})
	require.Error(t, err)
}

func TestSubmitJudgmentRejectsConfidenceOutOfRange(t *testing.T) {
	s := &Service{}
	_, err := s.SubmitJudgment(context.Background(), "agent-1", JudgmentPayload{
		RoundID: "r_1", Direction: database.DirectionUp, Confidence: 150, Comment: "ok",
		Intervals: []string{"5m"}, AnalysisStartTime: time.Now(), AnalysisEndTime: time.Now().Add(time.Minute),
	})
	require.Error(t, err)
}

func TestSubmitJudgmentRejectsEmptyComment(t *testing.T) {
	s := &Service{}
	_, err := s.SubmitJudgment(context.Background(), "agent-1", JudgmentPayload{
		RoundID: "r_1", Direction: database.DirectionUp, Confidence: 50, Comment: "   ",
		Intervals: []string{"5m"}, AnalysisStartTime: time.Now(), AnalysisEndTime: time.Now().Add(time.Minute),
	})
	require.Error(t, err)
}

func TestSubmitJudgmentRejectsMissingIntervals(t *testing.T) {
	s := &Service{}
	_, err := s.SubmitJudgment(context.Background(), "agent-1", JudgmentPayload{
		RoundID: "r_1", Direction: database.DirectionUp, Confidence: 50, Comment: "ok",
		AnalysisStartTime: time.Now(), AnalysisEndTime: time.Now().Add(time.Minute),
	})
	require.Error(t, err)
}

func TestSubmitJudgmentRejectsBackwardsAnalysisWindow(t *testing.T) {
	s := &Service{}
	now := time.Now()
	_, err := s.SubmitJudgment(context.Background(), "agent-1", JudgmentPayload{
		RoundID: "r_1", Direction: database.DirectionUp, Confidence: 50, Comment: "ok",
		Intervals: []string{"5m"}, AnalysisStartTime: now, AnalysisEndTime: now.Add(-time.Minute),
	})
	require.Error(t, err)
}

func TestSubmitJudgmentRejectsDirectionMismatchBeforeTouchingRepo(t *testing.T) {
	s := &Service{}
	now := time.Now()
	_, err := s.SubmitJudgment(context.Background(), "agent-1", JudgmentPayload{
		RoundID: "r_1", Direction: database.DirectionUp, Confidence: 50, Comment: "ok",
		Intervals:         []string{"5m"},
		AnalysisStartTime: now, AnalysisEndTime: now.Add(time.Minute),
		Reason: reasonrule.RawRule{Timeframe: "5m", Pattern: "bullish_engulfing", Direction: database.DirectionDown, HorizonBars: 2},
	})
	require.Error(t, err)
}
