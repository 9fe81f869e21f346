// Package analytics aggregates the run history: how long phases take, which
// gates reject candidates and how often runs succeed.
package analytics

import (
	"database/sql"
	"fmt"
	"math"
	"sort"
	"time"
)

// DB is the interface for database queries used by analytics.
type DB interface {
	Conn() *sql.DB
	Rebind(query string) string
}

// PhaseDuration holds duration stats for a phase, in seconds.
type PhaseDuration struct {
	Phase string  `json:"phase"`
	Count int     `json:"count"`
	Avg   float64 `json:"avg_seconds"`
	P50   float64 `json:"p50_seconds"`
	P95   float64 `json:"p95_seconds"`
}

// timestamp formats to try when parsing timestamps from the database
var timestampFormats = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05",
}

func parseTimestamp(s string) (time.Time, error) {
	for _, f := range timestampFormats {
		if t, err := time.Parse(f, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %q", s)
}

// QueryPhaseDurations returns average and percentile durations per phase.
// A phase lasts from its phase_start event to the next event of the same
// run; terminal phases have no successor and are not counted.
func QueryPhaseDurations(database DB, since string) ([]PhaseDuration, error) {
	query := `
		SELECT e1.phase, e1.timestamp AS start_ts,
			(SELECT MIN(e2.timestamp) FROM run_events e2
			 WHERE e2.run_id = e1.run_id
			 AND e2.event = 'phase_start'
			 AND e2.id > e1.id) AS end_ts
		FROM run_events e1
		WHERE e1.event = 'phase_start'`

	var args []interface{}
	if since != "" {
		query += ` AND e1.timestamp >= ?`
		args = append(args, since)
	}

	rows, err := database.Conn().Query(database.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query phase durations: %w", err)
	}
	defer rows.Close()

	durations := make(map[string][]float64)
	for rows.Next() {
		var phase, startTS string
		var endTS sql.NullString
		if err := rows.Scan(&phase, &startTS, &endTS); err != nil {
			return nil, fmt.Errorf("scan phase duration: %w", err)
		}
		if !endTS.Valid {
			continue
		}
		start, err := parseTimestamp(startTS)
		if err != nil {
			continue
		}
		end, err := parseTimestamp(endTS.String)
		if err != nil {
			continue
		}
		if secs := end.Sub(start).Seconds(); secs >= 0 {
			durations[phase] = append(durations[phase], secs)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var results []PhaseDuration
	for phase, ds := range durations {
		sort.Float64s(ds)
		results = append(results, PhaseDuration{
			Phase: phase,
			Count: len(ds),
			Avg:   avg(ds),
			P50:   percentile(ds, 50),
			P95:   percentile(ds, 95),
		})
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Phase < results[j].Phase
	})
	return results, nil
}

// GateRejection counts the candidates a gate rejected.
type GateRejection struct {
	Gate     string  `json:"gate"`
	Count    int     `json:"count"`
	Attempts int     `json:"attempts"`
	Pct      float64 `json:"pct_of_attempts"`
}

// QueryGateRejections returns rejection counts per gate, most frequent
// first. Percentages use all recorded attempts as the denominator.
func QueryGateRejections(database DB, since string) ([]GateRejection, error) {
	where := ""
	var args []interface{}
	if since != "" {
		where = ` WHERE timestamp >= ?`
		args = append(args, since)
	}

	var total int
	if err := database.Conn().QueryRow(database.Rebind(`SELECT COUNT(*) FROM attempts`+where), args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count attempts: %w", err)
	}

	query := `SELECT COALESCE(failed_gate, ''), COUNT(*) FROM attempts WHERE NOT accepted`
	if since != "" {
		query += ` AND timestamp >= ?`
	}
	query += ` GROUP BY failed_gate`

	rows, err := database.Conn().Query(database.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query gate rejections: %w", err)
	}
	defer rows.Close()

	var results []GateRejection
	for rows.Next() {
		var r GateRejection
		if err := rows.Scan(&r.Gate, &r.Count); err != nil {
			return nil, fmt.Errorf("scan gate rejection: %w", err)
		}
		if r.Gate == "" {
			r.Gate = "unknown"
		}
		r.Attempts = total
		r.Pct = pct(r.Count, total)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Count != results[j].Count {
			return results[i].Count > results[j].Count
		}
		return results[i].Gate < results[j].Gate
	})
	return results, nil
}

// AttemptStats summarises fix attempts per file and iteration.
type AttemptStats struct {
	FileIterations  int     `json:"file_iterations"`
	FirstTryPct     float64 `json:"first_try_pct"`
	AcceptedPct     float64 `json:"accepted_pct"`
	FallbackPct     float64 `json:"fallback_pct"`
	AvgAttempts     float64 `json:"avg_attempts"`
	MaxAttemptsSeen int     `json:"max_attempts"`
}

// QueryAttemptStats groups attempts by (run, iteration, file). A group is
// accepted when any attempt was accepted and first-try when retry 0 was.
func QueryAttemptStats(database DB, since string) (*AttemptStats, error) {
	query := `
		SELECT COUNT(*),
			MAX(CASE WHEN accepted THEN 1 ELSE 0 END),
			MAX(CASE WHEN accepted AND retry_index = 0 THEN 1 ELSE 0 END)
		FROM attempts`
	var args []interface{}
	if since != "" {
		query += ` WHERE timestamp >= ?`
		args = append(args, since)
	}
	query += ` GROUP BY run_id, iteration, file`

	rows, err := database.Conn().Query(database.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query attempt stats: %w", err)
	}
	defer rows.Close()

	stats := &AttemptStats{}
	var counts []float64
	firstTry, accepted := 0, 0
	for rows.Next() {
		var n, acc, first int
		if err := rows.Scan(&n, &acc, &first); err != nil {
			return nil, fmt.Errorf("scan attempt stats: %w", err)
		}
		stats.FileIterations++
		counts = append(counts, float64(n))
		if n > stats.MaxAttemptsSeen {
			stats.MaxAttemptsSeen = n
		}
		accepted += acc
		firstTry += first
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	stats.FirstTryPct = pct(firstTry, stats.FileIterations)
	stats.AcceptedPct = pct(accepted, stats.FileIterations)
	stats.FallbackPct = pct(stats.FileIterations-accepted, stats.FileIterations)
	stats.AvgAttempts = avg(counts)
	return stats, nil
}

// RunOutcomes summarises finished runs.
type RunOutcomes struct {
	Runs          int     `json:"runs"`
	Succeeded     int     `json:"succeeded"`
	SuccessPct    float64 `json:"success_pct"`
	AvgIterations float64 `json:"avg_iterations"`
	AvgPassPct    float64 `json:"avg_pass_pct"`
	BugsFixed     int     `json:"bugs_fixed"`
}

// QueryRunOutcomes aggregates the finished runs started since the given
// timestamp. Runs without tests are left out of the pass rate average.
func QueryRunOutcomes(database DB, since string) (*RunOutcomes, error) {
	query := `
		SELECT success, COALESCE(iterations_used, 0), COALESCE(tests_passed, 0),
			COALESCE(tests_total, 0), COALESCE(bugs_fixed, 0)
		FROM runs WHERE finished_at IS NOT NULL`
	var args []interface{}
	if since != "" {
		query += ` AND started_at >= ?`
		args = append(args, since)
	}

	rows, err := database.Conn().Query(database.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query run outcomes: %w", err)
	}
	defer rows.Close()

	out := &RunOutcomes{}
	var iterations, passRates []float64
	for rows.Next() {
		var success sql.NullBool
		var iters, passed, total, fixed int
		if err := rows.Scan(&success, &iters, &passed, &total, &fixed); err != nil {
			return nil, fmt.Errorf("scan run outcome: %w", err)
		}
		out.Runs++
		if success.Valid && success.Bool {
			out.Succeeded++
		}
		out.BugsFixed += fixed
		iterations = append(iterations, float64(iters))
		if total > 0 {
			passRates = append(passRates, pct(passed, total))
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out.SuccessPct = pct(out.Succeeded, out.Runs)
	out.AvgIterations = avg(iterations)
	out.AvgPassPct = avg(passRates)
	return out, nil
}

// --- helpers ---

func avg(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return math.Round(sum/float64(len(values))*10) / 10
}

func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := float64(p) / 100.0 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper || upper >= len(sorted) {
		return math.Round(sorted[lower]*10) / 10
	}
	weight := rank - float64(lower)
	return math.Round((sorted[lower]*(1-weight)+sorted[upper]*weight)*10) / 10
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(total)*1000) / 10
}
