package expstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/scenfuzz/scenfuzz/pkg/experiment"
)

const recordColumns = `id, name, route_id, route_name, route_file, search_method,
	num_iterations, timeout_seconds, headless, random_seed, reward_function, agent,
	pso_pop_size, pso_w, pso_c1, pso_c2, ga_pop_size, ga_prob_mut,
	status, created_at, started_at, completed_at,
	current_iteration, total_iterations, scenarios_executed, scenarios_this_iteration,
	total_scenarios, best_reward, collision_found, output_directory, error_message, notes, pid`

// Create inserts a new experiment row.
func (s *Store) Create(ctx context.Context, rec *experiment.Record) error {
	if ctx == nil {
		ctx = context.Background()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO experiments (`+recordColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Name, rec.RouteID, nullStr(rec.RouteName), rec.RouteFile, string(rec.Method),
		rec.Iterations, rec.TimeoutSeconds, boolToInt(rec.Headless), rec.RandomSeed, rec.RewardFunction, string(rec.Agent),
		rec.PSOPopSize, rec.PSOW, rec.PSOC1, rec.PSOC2, rec.GAPopSize, rec.GAProbMut,
		string(rec.Status), rec.CreatedAt, rec.StartedAt, rec.CompletedAt,
		rec.CurrentIteration, rec.TotalIterations, rec.ScenariosExecuted, rec.ScenariosThisIteration,
		rec.TotalScenarios, rec.BestReward, boolToInt(rec.CollisionFound), rec.OutputDirectory,
		nullStr(rec.ErrorMessage), nullStr(rec.Notes), rec.PID)
	if err != nil {
		return fmt.Errorf("insert experiment: %w", err)
	}
	return nil
}

// Get retrieves one experiment by id. Returns experiment.ErrNotFound when
// the row does not exist.
func (s *Store) Get(ctx context.Context, id string) (*experiment.Record, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM experiments WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, experiment.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get experiment: %w", err)
	}
	return rec, nil
}

// List returns the most recently created experiments, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]*experiment.Record, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM experiments ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list experiments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*experiment.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan experiment: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list experiments: %w", err)
	}
	return out, nil
}

// UpdateStatus records a lifecycle transition. started_at is set once when
// entering running, completed_at once when entering a terminal state.
func (s *Store) UpdateStatus(ctx context.Context, id string, status experiment.Status, errMsg string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	now := time.Now().UTC()

	var err error
	switch {
	case status == experiment.StatusRunning:
		_, err = s.db.ExecContext(ctx,
			`UPDATE experiments
			 SET status = ?, error_message = ?, started_at = COALESCE(started_at, ?)
			 WHERE id = ?`,
			string(status), nullStr(errMsg), now, id)
	case status.Terminal():
		_, err = s.db.ExecContext(ctx,
			`UPDATE experiments
			 SET status = ?, error_message = ?, completed_at = COALESCE(completed_at, ?)
			 WHERE id = ?`,
			string(status), nullStr(errMsg), now, id)
	default:
		_, err = s.db.ExecContext(ctx,
			`UPDATE experiments SET status = ?, error_message = ? WHERE id = ?`,
			string(status), nullStr(errMsg), id)
	}
	if err != nil {
		return fmt.Errorf("update experiment status: %w", err)
	}
	return nil
}

// UpdateProgress flushes summary counters. best_reward and collision_found
// stay monotonic even when flushes land out of order.
func (s *Store) UpdateProgress(ctx context.Context, id string, fl experiment.ProgressFlush) error {
	if ctx == nil {
		ctx = context.Background()
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE experiments
		 SET current_iteration = ?,
		     total_iterations = ?,
		     scenarios_executed = ?,
		     scenarios_this_iteration = ?,
		     best_reward = CASE WHEN ? IS NULL THEN best_reward
		                        ELSE MIN(COALESCE(best_reward, ?), ?) END,
		     collision_found = MAX(collision_found, ?)
		 WHERE id = ?`,
		fl.CurrentIteration, fl.TotalIterations, fl.ScenariosExecuted, fl.ScenariosThisIteration,
		fl.BestReward, fl.BestReward, fl.BestReward,
		boolToInt(fl.CollisionFound), id)
	if err != nil {
		return fmt.Errorf("update experiment progress: %w", err)
	}
	return nil
}

// UpdateOutputDir records the output directory the runner reported.
func (s *Store) UpdateOutputDir(ctx context.Context, id, path string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE experiments SET output_directory = ? WHERE id = ?`, path, id)
	if err != nil {
		return fmt.Errorf("update output directory: %w", err)
	}
	return nil
}

// UpdatePID records the runner's process id.
func (s *Store) UpdatePID(ctx context.Context, id string, pid int) error {
	if ctx == nil {
		ctx = context.Background()
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE experiments SET pid = ? WHERE id = ?`, pid, id)
	if err != nil {
		return fmt.Errorf("update pid: %w", err)
	}
	return nil
}

// Rename changes the experiment name.
func (s *Store) Rename(ctx context.Context, id, name string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE experiments SET name = ? WHERE id = ?`, name, id)
	if err != nil {
		return fmt.Errorf("rename experiment: %w", err)
	}
	return nil
}

// UpdateNotes replaces the free-text notes.
func (s *Store) UpdateNotes(ctx context.Context, id, notes string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE experiments SET notes = ? WHERE id = ?`, nullStr(notes), id)
	if err != nil {
		return fmt.Errorf("update notes: %w", err)
	}
	return nil
}

// Delete removes an experiment row. Returns false when the id was unknown.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM experiments WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete experiment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete experiment: %w", err)
	}
	return n > 0, nil
}

// Count returns the number of stored experiments.
func (s *Store) Count(ctx context.Context) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM experiments`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count experiments: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*experiment.Record, error) {
	var rec experiment.Record
	var (
		routeName, errMsg, notes sql.NullString
		method, agent, status    string
		headless, collision      int
		startedAt, completedAt   sql.NullTime
		bestReward               sql.NullFloat64
	)

	err := row.Scan(
		&rec.ID, &rec.Name, &rec.RouteID, &routeName, &rec.RouteFile, &method,
		&rec.Iterations, &rec.TimeoutSeconds, &headless, &rec.RandomSeed, &rec.RewardFunction, &agent,
		&rec.PSOPopSize, &rec.PSOW, &rec.PSOC1, &rec.PSOC2, &rec.GAPopSize, &rec.GAProbMut,
		&status, &rec.CreatedAt, &startedAt, &completedAt,
		&rec.CurrentIteration, &rec.TotalIterations, &rec.ScenariosExecuted, &rec.ScenariosThisIteration,
		&rec.TotalScenarios, &bestReward, &collision, &rec.OutputDirectory, &errMsg, &notes, &rec.PID)
	if err != nil {
		return nil, err
	}

	rec.Method = experiment.SearchMethod(method)
	rec.Agent = experiment.Agent(agent)
	rec.Status = experiment.Status(status)
	rec.Headless = headless != 0
	rec.CollisionFound = collision != 0
	if routeName.Valid {
		rec.RouteName = routeName.String
	}
	if errMsg.Valid {
		rec.ErrorMessage = errMsg.String
	}
	if notes.Valid {
		rec.Notes = notes.String
	}
	if startedAt.Valid {
		t := startedAt.Time.UTC()
		rec.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		rec.CompletedAt = &t
	}
	if bestReward.Valid {
		v := bestReward.Float64
		rec.BestReward = &v
	}
	return &rec, nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
