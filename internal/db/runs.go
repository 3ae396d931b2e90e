package db

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/pulse.report/internal/ppg"
)

// Run is one stored detection pass.
type Run struct {
	ID             string    `json:"run_id"`
	Source         string    `json:"source"`
	SampleRate     float64   `json:"sample_rate"`
	WindowWidth    int       `json:"window_width"`
	SampleCount    int       `json:"sample_count"`
	Windows        int       `json:"windows"`
	HeartbeatCount int       `json:"heartbeat_count"`
	CreatedAt      time.Time `json:"created_at"`
}

func (r *Run) String() string {
	return fmt.Sprintf("Run %s: source=%s rate=%.2f width=%d samples=%d windows=%d heartbeats=%d",
		r.ID, r.Source, r.SampleRate, r.WindowWidth, r.SampleCount, r.Windows, r.HeartbeatCount)
}

// Heartbeat is one detected beat of a stored run.
type Heartbeat struct {
	RunID     string  `json:"run_id"`
	Index     int     `json:"sample_index"`
	Timestamp int64   `json:"timestamp"`
	Amplitude float64 `json:"amplitude"`
}

// RecordRun stores rec and its heartbeats in one transaction and returns the
// new run ID. It satisfies ppg.Recorder.
func (db *DB) RecordRun(rec ppg.RunRecord) (string, error) {
	if rec.Result == nil {
		return "", fmt.Errorf("run from %s has no result", rec.Source)
	}
	res := rec.Result
	if len(res.Amplitudes) != len(res.Heartbeats) {
		return "", fmt.Errorf("run has %d heartbeats but %d amplitudes", len(res.Heartbeats), len(res.Amplitudes))
	}
	timestamps, err := res.HeartbeatTimestamps()
	if err != nil {
		return "", err
	}

	id := uuid.NewString()

	tx, err := db.Begin()
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO runs (
			run_id, source, sample_rate, window_width, sample_count,
			windows, heartbeat_count, created_unix_nanos
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, rec.Source, rec.SampleRate, rec.WindowWidth, rec.SampleCount,
		res.Windows, len(res.Heartbeats), time.Now().UnixNano(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO heartbeats (run_id, sample_index, timestamp, amplitude) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("failed to prepare heartbeat insert: %w", err)
	}
	defer stmt.Close()

	for i, idx := range res.Heartbeats {
		if _, err := stmt.Exec(id, idx, timestamps[i], res.Amplitudes[i]); err != nil {
			return "", fmt.Errorf("failed to insert heartbeat %d: %w", idx, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit run: %w", err)
	}
	return id, nil
}

// Runs returns the 100 most recent runs, newest first.
func (db *DB) Runs() ([]Run, error) {
	rows, err := db.Query(`SELECT run_id, source, sample_rate, window_width, sample_count,
			windows, heartbeat_count, created_unix_nanos
		FROM runs ORDER BY created_unix_nanos DESC, rowid DESC LIMIT 100`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var (
			r       Run
			created int64
		)
		if err := rows.Scan(&r.ID, &r.Source, &r.SampleRate, &r.WindowWidth, &r.SampleCount,
			&r.Windows, &r.HeartbeatCount, &created); err != nil {
			return nil, err
		}
		r.CreatedAt = time.Unix(0, created).UTC()
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}

// Heartbeats returns the beats stored for runID in sample order.
func (db *DB) Heartbeats(runID string) ([]Heartbeat, error) {
	rows, err := db.Query(`SELECT run_id, sample_index, timestamp, amplitude
		FROM heartbeats WHERE run_id = ? ORDER BY sample_index`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	beats := []Heartbeat{}
	for rows.Next() {
		var h Heartbeat
		if err := rows.Scan(&h.RunID, &h.Index, &h.Timestamp, &h.Amplitude); err != nil {
			return nil, err
		}
		beats = append(beats, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return beats, nil
}
