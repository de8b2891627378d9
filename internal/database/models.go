package database

import "time"

// Agent status values.
const (
	AgentStatusPendingClaim = "pending_claim"
	AgentStatusActive       = "active"
	AgentStatusInactive     = "inactive"
)

// Round status values.
const (
	RoundStatusBetting = "betting"
	RoundStatusLocked  = "locked"
	RoundStatusSettled = "settled"
)

// Direction values shared by Judgment, ReasonRule and Verdict.
const (
	DirectionUp   = "UP"
	DirectionDown = "DOWN"
	DirectionFlat = "FLAT"
)

// FlipCard result values.
const (
	FlipResultWin  = "WIN"
	FlipResultFail = "FAIL"
)

// Agent is a registered tournament participant.
type Agent struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Persona          string     `json:"persona"`
	Prompt           string     `json:"prompt"`
	Score            int64      `json:"score"`
	Status           string     `json:"status"`
	Secret           string     `json:"-"`
	ClaimToken       string     `json:"-"`
	VerificationCode string     `json:"-"`
	ClaimedAt        *time.Time `json:"claimed_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// Round is one betting window on BTC/USD direction.
type Round struct {
	RoundID     string     `json:"round_id"`
	Symbol      string     `json:"symbol"`
	DurationMin int        `json:"duration_min"`
	StartPrice  float64    `json:"start_price"`
	EndPrice    *float64   `json:"end_price,omitempty"`
	Status      string     `json:"status"`
	StartTime   time.Time  `json:"start_time"`
	EndTime     time.Time  `json:"end_time"`
	CreatedAt   time.Time  `json:"created_at"`
}

// LockTime returns the moment betting closes for this round.
func (r *Round) LockTime(lockWindowMin int) time.Time {
	return r.StartTime.Add(time.Duration(lockWindowMin) * time.Minute)
}

// ReasonRule is the denormalized, validated prediction rationale attached to a Judgment.
type ReasonRule struct {
	Timeframe   string `json:"timeframe"`
	Pattern     string `json:"pattern"`
	Direction   string `json:"direction"`
	HorizonBars int    `json:"horizon_bars"`
}

// Judgment is one agent's prediction for one round, together with its
// reason-rule evaluation results.
type Judgment struct {
	RoundID           string     `json:"round_id"`
	AgentID           string     `json:"agent_id"`
	Direction         string     `json:"direction"`
	Confidence        int        `json:"confidence"`
	Comment           string     `json:"comment"`
	Timestamp         time.Time  `json:"timestamp"`
	Intervals         []string   `json:"intervals"`
	AnalysisStartTime *time.Time `json:"analysis_start_time,omitempty"`
	AnalysisEndTime   *time.Time `json:"analysis_end_time,omitempty"`

	ReasonTimeframe      string     `json:"reason_timeframe"`
	ReasonPattern        string     `json:"reason_pattern"`
	ReasonDirection      string     `json:"reason_direction"`
	ReasonHorizonBars    int        `json:"reason_horizon_bars"`
	ReasonTCloseMs       int64      `json:"reason_t_close_ms"`
	ReasonTargetCloseMs  int64      `json:"reason_target_close_ms"`
	ReasonBaseClose      float64    `json:"reason_base_close"`
	ReasonPatternHolds   *bool      `json:"reason_pattern_holds"`
	ReasonTargetClose    *float64   `json:"reason_target_close,omitempty"`
	ReasonDeltaPct       *float64   `json:"reason_delta_pct,omitempty"`
	ReasonOutcome        *string    `json:"reason_outcome,omitempty"`
	ReasonCorrect        *bool      `json:"reason_correct,omitempty"`
	ReasonEvaluatedAt    *time.Time `json:"reason_evaluated_at,omitempty"`
	ReasonEvalError      *string    `json:"reason_eval_error,omitempty"`
}

// Verdict is the settlement outcome of a round.
type Verdict struct {
	RoundID   string    `json:"round_id"`
	Result    string    `json:"result"`
	DeltaPct  float64   `json:"delta_pct"`
	Timestamp time.Time `json:"timestamp"`
}

// ScoreEvent records the score delta applied to an agent for one judgment.
type ScoreEvent struct {
	ID          int64     `json:"id"`
	AgentID     string    `json:"agent_id"`
	RoundID     string    `json:"round_id"`
	Correct     bool      `json:"correct"`
	Confidence  int       `json:"confidence"`
	ScoreChange int64     `json:"score_change"`
	Reason      string    `json:"reason"`
	Timestamp   time.Time `json:"timestamp"`
}

// FlipCard is a denormalized display artifact for one judgment's outcome.
type FlipCard struct {
	ID          int64     `json:"id"`
	RoundID     string    `json:"round_id"`
	AgentID     string    `json:"agent_id"`
	AgentName   string    `json:"agent_name"`
	Result      string    `json:"result"`
	Title       string    `json:"title"`
	Text        string    `json:"text"`
	Confidence  int       `json:"confidence"`
	ScoreChange int64     `json:"score_change"`
	Timestamp   time.Time `json:"timestamp"`
}

// MetaState is the singleton record tracking the last-seen price sample.
type MetaState struct {
	LastPrice     float64    `json:"last_price"`
	CurrentPrice  float64    `json:"current_price"`
	LastDeltaPct  float64    `json:"last_delta_pct"`
	LastPriceAt   *time.Time `json:"last_price_at,omitempty"`
}

// Kline is one normalized OHLCV bar.
type Kline struct {
	OpenTime    int64   `json:"open_time"`
	CloseTime   int64   `json:"close_time"`
	Open        float64 `json:"open"`
	High        float64 `json:"high"`
	Low         float64 `json:"low"`
	Close       float64 `json:"close"`
	Volume      float64 `json:"volume"`
	TradesCount int64   `json:"trades_count,omitempty"`
}
