package database

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned by single-row lookups that match no row.
var ErrNotFound = errors.New("not found")

// Repository provides data access methods over the tournament schema.
type Repository struct {
	db *DB
}

// NewRepository creates a new repository.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// HealthCheck performs a database health check.
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

// ============================================================================
// AGENTS
// ============================================================================

// CreateAgent inserts a newly registered agent in pending_claim status.
func (r *Repository) CreateAgent(ctx context.Context, a *Agent) error {
	query := `
		INSERT INTO agents (id, name, persona, prompt, status, secret, claim_token, verification_code)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`
	return r.db.Pool.QueryRow(ctx, query,
		a.ID, a.Name, a.Persona, a.Prompt, a.Status, a.Secret, a.ClaimToken, a.VerificationCode,
	).Scan(&a.CreatedAt)
}

// GetAgentByClaimToken looks up an agent by its claim token, for the human
// activation link.
func (r *Repository) GetAgentByClaimToken(ctx context.Context, claimToken string) (*Agent, error) {
	query := `
		SELECT id, name, persona, prompt, score, status, secret, claim_token, verification_code, claimed_at, created_at
		FROM agents WHERE claim_token = $1
	`
	a := &Agent{}
	err := r.db.Pool.QueryRow(ctx, query, claimToken).Scan(
		&a.ID, &a.Name, &a.Persona, &a.Prompt, &a.Score, &a.Status, &a.Secret,
		&a.ClaimToken, &a.VerificationCode, &a.ClaimedAt, &a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return a, nil
}

// ClaimAgent marks the agent owning claimToken active. Idempotent: claiming
// an already-active agent with the same token is a no-op that returns it as-is.
func (r *Repository) ClaimAgent(ctx context.Context, claimToken string, now time.Time) (*Agent, error) {
	query := `
		UPDATE agents
		SET status = $2, claimed_at = $3
		WHERE claim_token = $1 AND status = $4
		RETURNING id, name, persona, prompt, score, status, secret, claim_token, verification_code, claimed_at, created_at
	`
	a := &Agent{}
	err := r.db.Pool.QueryRow(ctx, query, claimToken, AgentStatusActive, now, AgentStatusPendingClaim).Scan(
		&a.ID, &a.Name, &a.Persona, &a.Prompt, &a.Score, &a.Status, &a.Secret,
		&a.ClaimToken, &a.VerificationCode, &a.ClaimedAt, &a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return r.GetAgentByClaimToken(ctx, claimToken)
		}
		return nil, err
	}
	return a, nil
}

// GetAgentByID fetches one agent.
func (r *Repository) GetAgentByID(ctx context.Context, id string) (*Agent, error) {
	query := `
		SELECT id, name, persona, prompt, score, status, secret, claim_token, verification_code, claimed_at, created_at
		FROM agents WHERE id = $1
	`
	a := &Agent{}
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&a.ID, &a.Name, &a.Persona, &a.Prompt, &a.Score, &a.Status, &a.Secret,
		&a.ClaimToken, &a.VerificationCode, &a.ClaimedAt, &a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return a, nil
}

// GetAgentBySecret looks up an agent by its opaque API secret, for bearer auth.
func (r *Repository) GetAgentBySecret(ctx context.Context, secret string) (*Agent, error) {
	query := `
		SELECT id, name, persona, prompt, score, status, secret, claim_token, verification_code, claimed_at, created_at
		FROM agents WHERE secret = $1
	`
	a := &Agent{}
	err := r.db.Pool.QueryRow(ctx, query, secret).Scan(
		&a.ID, &a.Name, &a.Persona, &a.Prompt, &a.Score, &a.Status, &a.Secret,
		&a.ClaimToken, &a.VerificationCode, &a.ClaimedAt, &a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return a, nil
}

// ListActiveAgents returns every agent with status=active, ordered by score desc.
func (r *Repository) ListActiveAgents(ctx context.Context) ([]*Agent, error) {
	query := `
		SELECT id, name, persona, prompt, score, status, secret, claim_token, verification_code, claimed_at, created_at
		FROM agents WHERE status = $1 ORDER BY score DESC
	`
	rows, err := r.db.Pool.Query(ctx, query, AgentStatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		a := &Agent{}
		if err := rows.Scan(
			&a.ID, &a.Name, &a.Persona, &a.Prompt, &a.Score, &a.Status, &a.Secret,
			&a.ClaimToken, &a.VerificationCode, &a.ClaimedAt, &a.CreatedAt,
		); err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// CountActiveAgents is used by startRound's "at least one active agent" precondition.
func (r *Repository) CountActiveAgents(ctx context.Context) (int, error) {
	var count int
	err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM agents WHERE status = $1 AND secret <> ''`, AgentStatusActive).Scan(&count)
	return count, err
}

// ApplyScoreDelta adjusts an agent's cumulative score.
func (r *Repository) ApplyScoreDelta(ctx context.Context, agentID string, delta int64) error {
	_, err := r.db.Pool.Exec(ctx, `UPDATE agents SET score = score + $2 WHERE id = $1`, agentID, delta)
	return err
}

// ============================================================================
// ROUNDS
// ============================================================================

// GetActiveRound returns the single round with status != settled, if any.
func (r *Repository) GetActiveRound(ctx context.Context) (*Round, error) {
	query := `
		SELECT round_id, symbol, duration_min, start_price, end_price, status, start_time, end_time, created_at
		FROM rounds WHERE status <> $1 ORDER BY start_time DESC LIMIT 1
	`
	round := &Round{}
	err := r.db.Pool.QueryRow(ctx, query, RoundStatusSettled).Scan(
		&round.RoundID, &round.Symbol, &round.DurationMin, &round.StartPrice, &round.EndPrice,
		&round.Status, &round.StartTime, &round.EndTime, &round.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return round, nil
}

// GetRound fetches a round by id.
func (r *Repository) GetRound(ctx context.Context, roundID string) (*Round, error) {
	query := `
		SELECT round_id, symbol, duration_min, start_price, end_price, status, start_time, end_time, created_at
		FROM rounds WHERE round_id = $1
	`
	round := &Round{}
	err := r.db.Pool.QueryRow(ctx, query, roundID).Scan(
		&round.RoundID, &round.Symbol, &round.DurationMin, &round.StartPrice, &round.EndPrice,
		&round.Status, &round.StartTime, &round.EndTime, &round.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return round, nil
}

// ListRecentRounds returns the most recent rounds, newest first.
func (r *Repository) ListRecentRounds(ctx context.Context, limit int) ([]*Round, error) {
	query := `
		SELECT round_id, symbol, duration_min, start_price, end_price, status, start_time, end_time, created_at
		FROM rounds ORDER BY start_time DESC LIMIT $1
	`
	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rounds []*Round
	for rows.Next() {
		round := &Round{}
		if err := rows.Scan(
			&round.RoundID, &round.Symbol, &round.DurationMin, &round.StartPrice, &round.EndPrice,
			&round.Status, &round.StartTime, &round.EndTime, &round.CreatedAt,
		); err != nil {
			return nil, err
		}
		rounds = append(rounds, round)
	}
	return rounds, rows.Err()
}

// InsertRoundAndTrim inserts a new round then trims the rounds table to
// roundLimit most-recent rows, as one atomic batch — grounded on the spec's
// startRound step "inserts it; trims rounds table to round_limit".
func (r *Repository) InsertRoundAndTrim(ctx context.Context, round *Round, roundLimit int) error {
	batch := &pgx.Batch{}
	batch.Queue(`
		INSERT INTO rounds (round_id, symbol, duration_min, start_price, status, start_time, end_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, round.RoundID, round.Symbol, round.DurationMin, round.StartPrice, round.Status, round.StartTime, round.EndTime)
	batch.Queue(`
		DELETE FROM rounds WHERE round_id IN (
			SELECT round_id FROM rounds ORDER BY start_time DESC OFFSET $1
		)
	`, roundLimit)

	br := r.db.Pool.SendBatch(ctx, batch)
	defer br.Close()

	if _, err := br.Exec(); err != nil {
		return err
	}
	_, err := br.Exec()
	return err
}

// LockRound transitions a round from betting to locked.
func (r *Repository) LockRound(ctx context.Context, roundID string) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE rounds SET status = $2 WHERE round_id = $1 AND status = $3`,
		roundID, RoundStatusLocked, RoundStatusBetting)
	return err
}

// CancelRound deletes a round that never received enough state to settle.
func (r *Repository) CancelRound(ctx context.Context, roundID string) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM rounds WHERE round_id = $1`, roundID)
	return err
}

// SettleRound writes the round's end_price/status, its verdict, and every
// judgment's score event + flip card in one atomic batch, per the spec's
// settlement step that must not be observed partially applied.
func (r *Repository) SettleRound(ctx context.Context, roundID string, endPrice float64, verdict *Verdict, scoreEvents []*ScoreEvent, flipCards []*FlipCard, scoreDeltas map[string]int64) error {
	batch := &pgx.Batch{}

	batch.Queue(`UPDATE rounds SET end_price = $2, status = $3 WHERE round_id = $1`,
		roundID, endPrice, RoundStatusSettled)

	batch.Queue(`INSERT INTO verdicts (round_id, result, delta_pct, "timestamp") VALUES ($1, $2, $3, $4)`,
		verdict.RoundID, verdict.Result, verdict.DeltaPct, verdict.Timestamp)

	for _, se := range scoreEvents {
		batch.Queue(`
			INSERT INTO score_events (agent_id, round_id, correct, confidence, score_change, reason, "timestamp")
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, se.AgentID, se.RoundID, se.Correct, se.Confidence, se.ScoreChange, se.Reason, se.Timestamp)
	}

	for _, fc := range flipCards {
		batch.Queue(`
			INSERT INTO flip_cards (round_id, agent_id, agent_name, result, title, text, confidence, score_change, "timestamp")
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, fc.RoundID, fc.AgentID, fc.AgentName, fc.Result, fc.Title, fc.Text, fc.Confidence, fc.ScoreChange, fc.Timestamp)
	}

	for agentID, delta := range scoreDeltas {
		batch.Queue(`UPDATE agents SET score = score + $2 WHERE id = $1`, agentID, delta)
	}

	n := 2 + len(scoreEvents) + len(flipCards) + len(scoreDeltas)
	br := r.db.Pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < n; i++ {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// ============================================================================
// JUDGMENTS
// ============================================================================

// UpsertJudgment deletes any prior (round_id, agent_id) row and inserts the
// new one in a single batch, per the spec's "submission deletes any prior
// row for the pair" invariant.
func (r *Repository) UpsertJudgment(ctx context.Context, j *Judgment) error {
	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM judgments WHERE round_id = $1 AND agent_id = $2`, j.RoundID, j.AgentID)
	batch.Queue(`
		INSERT INTO judgments (
			round_id, agent_id, direction, confidence, comment, "timestamp", intervals,
			analysis_start_time, analysis_end_time,
			reason_timeframe, reason_pattern, reason_direction, reason_horizon_bars,
			reason_t_close_ms, reason_target_close_ms, reason_base_close, reason_pattern_holds
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`,
		j.RoundID, j.AgentID, j.Direction, j.Confidence, j.Comment, j.Timestamp, j.Intervals,
		j.AnalysisStartTime, j.AnalysisEndTime,
		j.ReasonTimeframe, j.ReasonPattern, j.ReasonDirection, j.ReasonHorizonBars,
		j.ReasonTCloseMs, j.ReasonTargetCloseMs, j.ReasonBaseClose, j.ReasonPatternHolds,
	)

	br := r.db.Pool.SendBatch(ctx, batch)
	defer br.Close()
	if _, err := br.Exec(); err != nil {
		return err
	}
	_, err := br.Exec()
	return err
}

// ListJudgmentsForRound returns every judgment submitted for a round.
func (r *Repository) ListJudgmentsForRound(ctx context.Context, roundID string) ([]*Judgment, error) {
	query := judgmentSelect + ` WHERE round_id = $1`
	rows, err := r.db.Pool.Query(ctx, query, roundID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJudgments(rows)
}

// ListPendingJudgments returns judgments whose horizon has not yet been
// evaluated and whose target close time has arrived, for the sweep step.
func (r *Repository) ListPendingJudgments(ctx context.Context, nowMs int64, limit int) ([]*Judgment, error) {
	query := judgmentSelect + ` WHERE reason_correct IS NULL AND reason_target_close_ms <= $1 ORDER BY reason_target_close_ms ASC LIMIT $2`
	rows, err := r.db.Pool.Query(ctx, query, nowMs, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJudgments(rows)
}

// UpdateJudgmentOutcome writes the once-at-horizon-evaluation fields.
func (r *Repository) UpdateJudgmentOutcome(ctx context.Context, roundID, agentID string, targetClose, deltaPct float64, outcome string, correct bool, evaluatedAt time.Time) error {
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE judgments
		SET reason_target_close = $3, reason_delta_pct = $4, reason_outcome = $5,
		    reason_correct = $6, reason_evaluated_at = $7, reason_eval_error = NULL
		WHERE round_id = $1 AND agent_id = $2
	`, roundID, agentID, targetClose, deltaPct, outcome, correct, evaluatedAt)
	return err
}

// UpdateJudgmentEvalError records a non-fatal evaluation error for a pending judgment.
func (r *Repository) UpdateJudgmentEvalError(ctx context.Context, roundID, agentID, errMsg string, evaluatedAt time.Time) error {
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE judgments SET reason_eval_error = $3, reason_evaluated_at = $4
		WHERE round_id = $1 AND agent_id = $2
	`, roundID, agentID, errMsg, evaluatedAt)
	return err
}

const judgmentSelect = `
	SELECT round_id, agent_id, direction, confidence, comment, "timestamp", intervals,
	       analysis_start_time, analysis_end_time,
	       reason_timeframe, reason_pattern, reason_direction, reason_horizon_bars,
	       reason_t_close_ms, reason_target_close_ms, reason_base_close, reason_pattern_holds,
	       reason_target_close, reason_delta_pct, reason_outcome, reason_correct,
	       reason_evaluated_at, reason_eval_error
	FROM judgments`

func scanJudgments(rows pgx.Rows) ([]*Judgment, error) {
	var out []*Judgment
	for rows.Next() {
		j := &Judgment{}
		var patternHolds *bool
		var correct *bool
		if err := rows.Scan(
			&j.RoundID, &j.AgentID, &j.Direction, &j.Confidence, &j.Comment, &j.Timestamp, &j.Intervals,
			&j.AnalysisStartTime, &j.AnalysisEndTime,
			&j.ReasonTimeframe, &j.ReasonPattern, &j.ReasonDirection, &j.ReasonHorizonBars,
			&j.ReasonTCloseMs, &j.ReasonTargetCloseMs, &j.ReasonBaseClose, &patternHolds,
			&j.ReasonTargetClose, &j.ReasonDeltaPct, &j.ReasonOutcome, &correct,
			&j.ReasonEvaluatedAt, &j.ReasonEvalError,
		); err != nil {
			return nil, err
		}
		j.ReasonPatternHolds = patternHolds
		j.ReasonCorrect = correct
		out = append(out, j)
	}
	return out, rows.Err()
}

// ============================================================================
// VERDICTS / SCORE EVENTS / FLIP CARDS
// ============================================================================

// GetVerdict fetches the verdict for a settled round.
func (r *Repository) GetVerdict(ctx context.Context, roundID string) (*Verdict, error) {
	v := &Verdict{}
	err := r.db.Pool.QueryRow(ctx,
		`SELECT round_id, result, delta_pct, "timestamp" FROM verdicts WHERE round_id = $1`, roundID,
	).Scan(&v.RoundID, &v.Result, &v.DeltaPct, &v.Timestamp)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return v, nil
}

// ListRecentFlipCards returns the most recent flip cards across all rounds, for the live feed.
func (r *Repository) ListRecentFlipCards(ctx context.Context, limit int) ([]*FlipCard, error) {
	query := `
		SELECT id, round_id, agent_id, agent_name, result, title, text, confidence, score_change, "timestamp"
		FROM flip_cards ORDER BY "timestamp" DESC LIMIT $1
	`
	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cards []*FlipCard
	for rows.Next() {
		fc := &FlipCard{}
		if err := rows.Scan(&fc.ID, &fc.RoundID, &fc.AgentID, &fc.AgentName, &fc.Result,
			&fc.Title, &fc.Text, &fc.Confidence, &fc.ScoreChange, &fc.Timestamp); err != nil {
			return nil, err
		}
		cards = append(cards, fc)
	}
	return cards, rows.Err()
}

// ListRecentScoreEventsForAgent returns one agent's most recent score events,
// newest first, for leaderboard recent-form aggregation.
func (r *Repository) ListRecentScoreEventsForAgent(ctx context.Context, agentID string, limit int) ([]*ScoreEvent, error) {
	query := `
		SELECT id, agent_id, round_id, correct, confidence, score_change, reason, "timestamp"
		FROM score_events WHERE agent_id = $1 ORDER BY "timestamp" DESC LIMIT $2
	`
	rows, err := r.db.Pool.Query(ctx, query, agentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*ScoreEvent
	for rows.Next() {
		e := &ScoreEvent{}
		if err := rows.Scan(&e.ID, &e.AgentID, &e.RoundID, &e.Correct, &e.Confidence,
			&e.ScoreChange, &e.Reason, &e.Timestamp); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// TrimAppendOnlyTables enforces retention limits on verdicts/score_events/flip_cards
// by sorted timestamp, per the spec's append-only retention-trimming invariant.
func (r *Repository) TrimAppendOnlyTables(ctx context.Context, verdictLimit, scoreEventLimit, flipCardLimit int) error {
	stmts := []struct {
		sql   string
		limit int
	}{
		{`DELETE FROM verdicts WHERE round_id IN (SELECT round_id FROM verdicts ORDER BY "timestamp" DESC OFFSET $1)`, verdictLimit},
		{`DELETE FROM score_events WHERE id IN (SELECT id FROM score_events ORDER BY "timestamp" DESC OFFSET $1)`, scoreEventLimit},
		{`DELETE FROM flip_cards WHERE id IN (SELECT id FROM flip_cards ORDER BY "timestamp" DESC OFFSET $1)`, flipCardLimit},
	}
	for _, s := range stmts {
		if _, err := r.db.Pool.Exec(ctx, s.sql, s.limit); err != nil {
			return err
		}
	}
	return nil
}

// TrimJudgments enforces the judgment retention limit by sorted timestamp.
func (r *Repository) TrimJudgments(ctx context.Context, judgmentLimit int) error {
	_, err := r.db.Pool.Exec(ctx, `
		DELETE FROM judgments WHERE (round_id, agent_id) IN (
			SELECT round_id, agent_id FROM judgments ORDER BY "timestamp" DESC OFFSET $1
		)
	`, judgmentLimit)
	return err
}

// ============================================================================
// META STATE
// ============================================================================

// GetMeta reads the singleton meta row.
func (r *Repository) GetMeta(ctx context.Context) (*MetaState, error) {
	m := &MetaState{}
	err := r.db.Pool.QueryRow(ctx, `
		SELECT last_price, current_price, last_delta_pct, last_price_at FROM meta WHERE id = 1
	`).Scan(&m.LastPrice, &m.CurrentPrice, &m.LastDeltaPct, &m.LastPriceAt)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// UpdateMeta overwrites the singleton meta row.
func (r *Repository) UpdateMeta(ctx context.Context, m *MetaState) error {
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE meta SET last_price = $1, current_price = $2, last_delta_pct = $3, last_price_at = $4 WHERE id = 1
	`, m.LastPrice, m.CurrentPrice, m.LastDeltaPct, m.LastPriceAt)
	return err
}

// ============================================================================
// REASON STATS
// ============================================================================

// ReasonStatsRow is one aggregation bucket (overall, per-timeframe, or per-pattern).
type ReasonStatsRow struct {
	Key            string
	TotalEvaluated int
	TotalValid     int
	AccuracyAll    float64
	AccuracyValid  float64
	AvgDeltaPct    float64
	AvgAbsDeltaPct float64
}

// ReasonStatsOverall computes the aggregate stats for all evaluated judgments
// in [since, until], optionally scoped to one agent.
func (r *Repository) ReasonStatsOverall(ctx context.Context, since, until time.Time, agentID string, rowCap int) (*ReasonStatsRow, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE reason_evaluated_at IS NOT NULL),
			COUNT(*) FILTER (WHERE reason_pattern_holds = 1),
			COALESCE(AVG(CASE WHEN reason_correct IS NOT NULL THEN (reason_correct)::int ELSE NULL END), 0),
			COALESCE(AVG(CASE WHEN reason_pattern_holds = 1 THEN (reason_correct)::int ELSE NULL END), 0),
			COALESCE(AVG(reason_delta_pct), 0),
			COALESCE(AVG(ABS(reason_delta_pct)), 0)
		FROM (
			SELECT * FROM judgments
			WHERE "timestamp" BETWEEN $1 AND $2 AND ($3 = '' OR agent_id = $3)
			ORDER BY "timestamp" DESC LIMIT $4
		) j
	`
	row := &ReasonStatsRow{Key: "overall"}
	err := r.db.Pool.QueryRow(ctx, query, since, until, agentID, rowCap).Scan(
		&row.TotalEvaluated, &row.TotalValid, &row.AccuracyAll, &row.AccuracyValid, &row.AvgDeltaPct, &row.AvgAbsDeltaPct,
	)
	if err != nil {
		return nil, err
	}
	return row, nil
}

// ReasonStatsByTimeframe breaks the aggregation down by reason_timeframe.
func (r *Repository) ReasonStatsByTimeframe(ctx context.Context, since, until time.Time, agentID string, rowCap int) ([]*ReasonStatsRow, error) {
	return r.reasonStatsGroupedBy(ctx, "reason_timeframe", since, until, agentID, rowCap)
}

// ReasonStatsByPattern breaks the aggregation down by reason_pattern.
func (r *Repository) ReasonStatsByPattern(ctx context.Context, since, until time.Time, agentID string, rowCap int) ([]*ReasonStatsRow, error) {
	return r.reasonStatsGroupedBy(ctx, "reason_pattern", since, until, agentID, rowCap)
}

func (r *Repository) reasonStatsGroupedBy(ctx context.Context, column string, since, until time.Time, agentID string, rowCap int) ([]*ReasonStatsRow, error) {
	// column is one of a fixed internal whitelist (never user input), so this
	// is not subject to the usual string-formatting-into-SQL concern.
	query := `
		SELECT ` + column + ` AS key,
			COUNT(*) FILTER (WHERE reason_evaluated_at IS NOT NULL),
			COUNT(*) FILTER (WHERE reason_pattern_holds = 1),
			COALESCE(AVG(CASE WHEN reason_correct IS NOT NULL THEN (reason_correct)::int ELSE NULL END), 0),
			COALESCE(AVG(CASE WHEN reason_pattern_holds = 1 THEN (reason_correct)::int ELSE NULL END), 0),
			COALESCE(AVG(reason_delta_pct), 0),
			COALESCE(AVG(ABS(reason_delta_pct)), 0)
		FROM (
			SELECT * FROM judgments
			WHERE "timestamp" BETWEEN $1 AND $2 AND ($3 = '' OR agent_id = $3)
			ORDER BY "timestamp" DESC LIMIT $4
		) j
		WHERE ` + column + ` IS NOT NULL
		GROUP BY ` + column + `
	`
	rows, err := r.db.Pool.Query(ctx, query, since, until, agentID, rowCap)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ReasonStatsRow
	for rows.Next() {
		row := &ReasonStatsRow{}
		if err := rows.Scan(&row.Key, &row.TotalEvaluated, &row.TotalValid, &row.AccuracyAll, &row.AccuracyValid, &row.AvgDeltaPct, &row.AvgAbsDeltaPct); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
