// Package round implements the Round Service state machine, the State
// Advancer tick, and the judgment submission flow that ties the Round
// Service to the Reason Rule Service.
package round

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"btc-tournament/config"
	"btc-tournament/internal/apperr"
	"btc-tournament/internal/database"
	"btc-tournament/internal/events"
	"btc-tournament/internal/logging"
	"btc-tournament/internal/reasonrule"
)

// Symbol is the only traded instrument.
const Symbol = "BTCUSDT"

// PriceSource is the subset of the Live Price Feed the Round Service needs.
type PriceSource interface {
	Price() (price float64, updatedAt time.Time, ok bool)
}

// Service owns the round lifecycle, judgment submission, and summary assembly.
type Service struct {
	repo     *database.Repository
	price    PriceSource
	klines   reasonrule.KlineProvider
	roundCfg config.RoundConfig
	retCfg   config.RetentionConfig
	log      *logging.Logger
	bus      *events.Bus
}

// New constructs a round Service. bus may be nil to disable lifecycle event
// publication (events.Bus.Publish is a no-op on a nil receiver).
func New(repo *database.Repository, price PriceSource, klines reasonrule.KlineProvider, roundCfg config.RoundConfig, retCfg config.RetentionConfig, bus *events.Bus) *Service {
	return &Service{
		repo:     repo,
		price:    price,
		klines:   klines,
		roundCfg: roundCfg,
		retCfg:   retCfg,
		log:      logging.Default().WithComponent("round"),
		bus:      bus,
	}
}

// roundIDFor formats the canonical round_id from a UTC start time.
func roundIDFor(t time.Time) string {
	u := t.UTC()
	return fmt.Sprintf("r_%04d%02d%02d_%02d%02d", u.Year(), u.Month(), u.Day(), u.Hour(), u.Minute())
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// computeVerdict derives the delta percent (rounded to 0.1%) and UP/DOWN/FLAT
// result for a settled round.
func computeVerdict(startPrice, endPrice, flatThresholdPct float64) (deltaPct float64, result string) {
	deltaPct = (endPrice - startPrice) / startPrice * 100
	deltaPct = math.Round(deltaPct*10) / 10
	if math.Abs(deltaPct) < flatThresholdPct {
		return deltaPct, database.DirectionFlat
	}
	if deltaPct > 0 {
		return deltaPct, database.DirectionUp
	}
	return deltaPct, database.DirectionDown
}

// StartRound creates a new round if no non-settled round currently exists and
// at least one active agent with a non-empty secret is present.
func (s *Service) StartRound(ctx context.Context, currentPrice float64) error {
	existing, err := s.repo.GetActiveRound(ctx)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	count, err := s.repo.CountActiveAgents(ctx)
	if err != nil {
		return err
	}
	if count == 0 {
		return nil
	}

	now := time.Now().UTC()
	start := now
	r := &database.Round{
		RoundID:     roundIDFor(start),
		Symbol:      Symbol,
		DurationMin: s.roundCfg.RoundDurationMin,
		StartPrice:  round2(currentPrice),
		Status:      database.RoundStatusBetting,
		StartTime:   start,
		EndTime:     start.Add(time.Duration(s.roundCfg.RoundDurationMin) * time.Minute),
	}
	if err := s.repo.InsertRoundAndTrim(ctx, r, s.retCfg.RoundLimit); err != nil {
		return err
	}
	s.log.WithField("round_id", r.RoundID).Info("round started")
	s.bus.PublishRoundStarted(r.RoundID, r.StartPrice)
	return nil
}

// LockRound transitions a betting round to locked.
func (s *Service) LockRound(ctx context.Context, roundID string) error {
	if err := s.repo.LockRound(ctx, roundID); err != nil {
		return err
	}
	s.bus.PublishRoundLocked(roundID)
	return nil
}

// CancelRound deletes a round (and its judgments) that reached lock time with
// zero submissions.
func (s *Service) CancelRound(ctx context.Context, roundID string) error {
	if err := s.repo.CancelRound(ctx, roundID); err != nil {
		return err
	}
	s.bus.PublishRoundCancelled(roundID)
	return nil
}

// SettleRound computes the verdict, per-judgment scoring, and flip cards for
// a locked round, writing them all as a single atomic batch. Idempotent:
// returns immediately if the round is already settled.
func (s *Service) SettleRound(ctx context.Context, r *database.Round, currentPrice float64) error {
	if r.Status == database.RoundStatusSettled {
		return nil
	}

	endPrice := round2(currentPrice)
	deltaPct, result := computeVerdict(r.StartPrice, endPrice, s.roundCfg.FlatThresholdPct)
	now := time.Now()

	verdict := &database.Verdict{
		RoundID:   r.RoundID,
		Result:    result,
		DeltaPct:  deltaPct,
		Timestamp: now,
	}

	judgments, err := s.repo.ListJudgmentsForRound(ctx, r.RoundID)
	if err != nil {
		return err
	}

	scoreEvents := make([]*database.ScoreEvent, 0, len(judgments))
	flipCards := make([]*database.FlipCard, 0, len(judgments))
	scoreDeltas := make(map[string]int64, len(judgments))

	for _, j := range judgments {
		agent, err := s.repo.GetAgentByID(ctx, j.AgentID)
		if err != nil {
			return err
		}

		card, event := scoreJudgment(j, agent, verdict, now)
		scoreEvents = append(scoreEvents, event)
		flipCards = append(flipCards, card)
		scoreDeltas[j.AgentID] += event.ScoreChange
	}

	if err := s.repo.SettleRound(ctx, r.RoundID, endPrice, verdict, scoreEvents, flipCards, scoreDeltas); err != nil {
		return err
	}
	s.log.WithField("round_id", r.RoundID).WithField("result", result).Info("round settled")
	s.bus.PublishRoundSettled(r.RoundID, result, deltaPct)
	return nil
}

// scoreJudgment computes the ScoreEvent and FlipCard for one judgment against
// a verdict. This is the single reconstruction helper also used by
// buildSummary's highlight, so the two can never diverge.
func scoreJudgment(j *database.Judgment, agent *database.Agent, verdict *database.Verdict, at time.Time) (*database.FlipCard, *database.ScoreEvent) {
	correct := j.Direction == verdict.Result
	var scoreChange int64
	reason := "Correct"
	flipResult := database.FlipResultWin
	if correct {
		scoreChange = int64(j.Confidence)
	} else {
		scoreChange = -int64(math.Round(float64(j.Confidence) * 1.5))
		reason = "High confidence failure"
		flipResult = database.FlipResultFail
	}

	event := &database.ScoreEvent{
		AgentID:     j.AgentID,
		RoundID:     j.RoundID,
		Correct:     correct,
		Confidence:  j.Confidence,
		ScoreChange: scoreChange,
		Reason:      reason,
		Timestamp:   at,
	}

	title := fmt.Sprintf("%s called %s", agent.Name, j.Direction)
	text := fmt.Sprintf("%s predicted %s at %d%% confidence — round settled %s (%.1f%%)",
		agent.Name, j.Direction, j.Confidence, verdict.Result, verdict.DeltaPct)

	card := &database.FlipCard{
		RoundID:     j.RoundID,
		AgentID:     j.AgentID,
		AgentName:   agent.Name,
		Result:      flipResult,
		Title:       title,
		Text:        text,
		Confidence:  j.Confidence,
		ScoreChange: scoreChange,
		Timestamp:   at,
	}
	return card, event
}

// Tick is the single State Advancer entry point: refreshes meta price,
// advances the live round's lifecycle, and seeds the next round. Idempotent
// under concurrent invocation within a single process.
func (s *Service) Tick(ctx context.Context) error {
	meta, err := s.repo.GetMeta(ctx)
	if err != nil {
		return err
	}
	now := time.Now()

	if meta.LastPriceAt == nil || now.Sub(*meta.LastPriceAt) >= time.Duration(s.roundCfg.PriceRefreshMs)*time.Millisecond {
		if price, updatedAt, ok := s.price.Price(); ok {
			if now.Sub(updatedAt) < time.Duration(s.roundCfg.PriceStaleMs)*time.Millisecond {
				meta.LastPrice = meta.CurrentPrice
				meta.CurrentPrice = price
				if meta.LastPrice > 0 {
					meta.LastDeltaPct = (price - meta.LastPrice) / meta.LastPrice * 100
				}
				t := now
				meta.LastPriceAt = &t
			}
		}
	}

	live, err := s.repo.GetActiveRound(ctx)
	if err != nil {
		return err
	}

	if live != nil && live.Status == database.RoundStatusBetting && now.After(live.LockTime(s.roundCfg.LockWindowMin)) {
		judgments, err := s.repo.ListJudgmentsForRound(ctx, live.RoundID)
		if err != nil {
			return err
		}
		if len(judgments) == 0 {
			if err := s.CancelRound(ctx, live.RoundID); err != nil {
				return err
			}
			live = nil
		} else {
			if err := s.LockRound(ctx, live.RoundID); err != nil {
				return err
			}
			live.Status = database.RoundStatusLocked
		}
	}

	if live != nil && live.Status == database.RoundStatusLocked && now.After(live.EndTime) {
		if err := s.SettleRound(ctx, live, meta.CurrentPrice); err != nil {
			return err
		}
		live = nil
	}

	if live == nil {
		count, err := s.repo.CountActiveAgents(ctx)
		if err != nil {
			return err
		}
		if count > 0 {
			if err := s.StartRound(ctx, meta.CurrentPrice); err != nil {
				return err
			}
		}
	}

	return s.repo.UpdateMeta(ctx, meta)
}

// JudgmentPayload is the raw, unauthenticated-except-for-agent-id submission shape.
type JudgmentPayload struct {
	RoundID           string
	Direction         string
	Confidence        int
	Comment           string
	Intervals         []string
	AnalysisStartTime time.Time
	AnalysisEndTime   time.Time
	Reason            reasonrule.RawRule
}

// SubmitResult is what the judgment submission endpoint returns to the caller.
type SubmitResult struct {
	TCloseMs      int64
	TargetCloseMs int64
	PatternHolds  bool
}

// SubmitJudgment validates the payload, evaluates the reason rule at submit
// time, and upserts the judgment row, per §4.F.
func (s *Service) SubmitJudgment(ctx context.Context, agentID string, p JudgmentPayload) (*SubmitResult, error) {
	if p.RoundID == "" {
		return nil, apperr.Validation("MISSING_ROUND_ID", "round_id is required")
	}
	switch p.Direction {
	case database.DirectionUp, database.DirectionDown, database.DirectionFlat:
	default:
		return nil, apperr.Validation("INVALID_DIRECTION", "direction must be UP, DOWN or FLAT")
	}
	if p.Confidence < 0 || p.Confidence > 100 {
		return nil, apperr.Validation("INVALID_CONFIDENCE", "confidence must be in [0, 100]")
	}
	comment := strings.TrimSpace(p.Comment)
	if len(comment) < 1 || len(comment) > 140 {
		return nil, apperr.Validation("INVALID_COMMENT", "comment must be 1-140 characters after trim")
	}
	if len(p.Intervals) == 0 {
		return nil, apperr.Validation("MISSING_INTERVALS", "intervals must be non-empty")
	}
	if !p.AnalysisStartTime.Before(p.AnalysisEndTime) {
		return nil, apperr.Validation("INVALID_ANALYSIS_WINDOW", "analysis_start_time must be before analysis_end_time")
	}

	rule, err := reasonrule.Normalize(p.Reason, p.Intervals, p.Direction)
	if err != nil {
		return nil, err
	}

	r, err := s.repo.GetRound(ctx, p.RoundID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, apperr.NotFound("ROUND_NOT_FOUND", "round not found")
		}
		return nil, err
	}
	if r.Status != database.RoundStatusBetting {
		return nil, apperr.Precondition("ROUND_NOT_BETTING", "round is not accepting submissions")
	}
	if time.Now().After(r.LockTime(s.roundCfg.LockWindowMin)) {
		return nil, apperr.Precondition("ROUND_LOCK_PASSED", "round's lock time has passed")
	}

	eval, err := reasonrule.EvaluateAtSubmit(ctx, s.klines, strings.TrimSuffix(r.Symbol, "USDT"), rule, p.AnalysisEndTime.UnixMilli())
	if err != nil {
		return nil, err
	}

	holds := eval.PatternHolds
	j := &database.Judgment{
		RoundID:             p.RoundID,
		AgentID:             agentID,
		Direction:           p.Direction,
		Confidence:          p.Confidence,
		Comment:             comment,
		Timestamp:           time.Now(),
		Intervals:           p.Intervals,
		AnalysisStartTime:   &p.AnalysisStartTime,
		AnalysisEndTime:     &p.AnalysisEndTime,
		ReasonTimeframe:     rule.Timeframe,
		ReasonPattern:       rule.Pattern,
		ReasonDirection:     rule.Direction,
		ReasonHorizonBars:   rule.HorizonBars,
		ReasonTCloseMs:      eval.TCloseMs,
		ReasonTargetCloseMs: eval.TargetCloseMs,
		ReasonBaseClose:     eval.BaseClose,
		ReasonPatternHolds:  &holds,
	}
	if err := s.repo.UpsertJudgment(ctx, j); err != nil {
		return nil, err
	}

	return &SubmitResult{
		TCloseMs:      eval.TCloseMs,
		TargetCloseMs: eval.TargetCloseMs,
		PatternHolds:  holds,
	}, nil
}

// AgentSummary is one agent's row in the summary's leaderboard.
type AgentSummary struct {
	Agent                  *database.Agent
	RecentRounds           int
	RecentHighConfFailures int
}

// Summary is the full client-polling snapshot returned by buildSummary.
type Summary struct {
	ServerTime   time.Time
	Round        *database.Round
	Judgments    []*database.Judgment
	CountdownMs  int64
	LastVerdict  *database.Verdict
	Highlight    *database.FlipCard
	Agents       []AgentSummary
	Feed         []*database.FlipCard
}

const feedSize = 30
const highConfThreshold = 80
const recentFailureWindow = 5

// BuildSummary assembles the read-only client-polling snapshot, including a
// reconstructed highlight FlipCard (never a fetch-by-key) so this path stays
// side-effect-free.
func (s *Service) BuildSummary(ctx context.Context) (*Summary, error) {
	now := time.Now()
	summary := &Summary{ServerTime: now}

	live, err := s.repo.GetActiveRound(ctx)
	if err != nil {
		return nil, err
	}
	summary.Round = live
	if live != nil {
		judgments, err := s.repo.ListJudgmentsForRound(ctx, live.RoundID)
		if err != nil {
			return nil, err
		}
		summary.Judgments = judgments
		summary.CountdownMs = live.EndTime.Sub(now).Milliseconds()
	}

	rounds, err := s.repo.ListRecentRounds(ctx, 5)
	if err != nil {
		return nil, err
	}
	var lastSettledID string
	for _, r := range rounds {
		if r.Status == database.RoundStatusSettled {
			lastSettledID = r.RoundID
			break
		}
	}
	if lastSettledID != "" {
		verdict, err := s.repo.GetVerdict(ctx, lastSettledID)
		if err == nil {
			summary.LastVerdict = verdict
			highlightJudgments, err := s.repo.ListJudgmentsForRound(ctx, lastSettledID)
			if err == nil && len(highlightJudgments) > 0 {
				top := topConfidence(highlightJudgments)
				agent, err := s.repo.GetAgentByID(ctx, top.AgentID)
				if err == nil {
					card, _ := scoreJudgment(top, agent, verdict, verdict.Timestamp)
					summary.Highlight = card
				}
			}
		}
	}

	agents, err := s.repo.ListActiveAgents(ctx)
	if err != nil {
		return nil, err
	}
	summary.Agents = make([]AgentSummary, 0, len(agents))
	for _, a := range agents {
		events, err := s.repo.ListRecentScoreEventsForAgent(ctx, a.ID, recentFailureWindow)
		if err != nil {
			return nil, err
		}
		highConfFailures := 0
		for _, e := range events {
			if !e.Correct && e.Confidence >= highConfThreshold {
				highConfFailures++
			}
		}
		summary.Agents = append(summary.Agents, AgentSummary{
			Agent:                  a,
			RecentRounds:           len(events),
			RecentHighConfFailures: highConfFailures,
		})
	}
	sortAgentsByScore(summary.Agents)

	feed, err := s.repo.ListRecentFlipCards(ctx, feedSize)
	if err != nil {
		return nil, err
	}
	highConfFails := make([]*database.FlipCard, 0, len(feed))
	for _, fc := range feed {
		if fc.Result == database.FlipResultFail && fc.Confidence >= highConfThreshold {
			highConfFails = append(highConfFails, fc)
		}
	}
	if len(highConfFails) > 0 {
		summary.Feed = highConfFails
	} else {
		summary.Feed = feed
	}

	return summary, nil
}

func topConfidence(judgments []*database.Judgment) *database.Judgment {
	best := judgments[0]
	for _, j := range judgments[1:] {
		if j.Confidence > best.Confidence {
			best = j
		}
	}
	return best
}

// sortAgentsByScore orders agent summaries by score descending, for callers
// that assemble the leaderboard after enriching recent-rounds counts.
func sortAgentsByScore(agents []AgentSummary) {
	sort.SliceStable(agents, func(i, j int) bool {
		return agents[i].Agent.Score > agents[j].Agent.Score
	})
}
