// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/qrr/internal/dbinterface"
)

const (
	// Fixed width so started_at sorts as text.
	timeLayout          = "2006-01-02T15:04:05.000000000Z"
	defaultHistoryLimit = 20
)

var ErrPushRunNotFound = errors.New("push run not found")

// PushRun records one push of the export set to a qBittorrent server.
type PushRun struct {
	ID            int64        `json:"-"`
	RunID         string       `json:"id"`
	Host          string       `json:"host"`
	WebAPIVersion string       `json:"webApiVersion,omitempty"`
	Total         int          `json:"total"`
	Failed        int          `json:"failed"`
	StartedAt     time.Time    `json:"startedAt"`
	FinishedAt    time.Time    `json:"finishedAt"`
	Results       []PushResult `json:"results,omitempty"`
}

type PushResult struct {
	Rule    string `json:"rule"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type PushHistoryStore struct {
	db dbinterface.Querier
}

func NewPushHistoryStore(db dbinterface.Querier) *PushHistoryStore {
	return &PushHistoryStore{db: db}
}

// Create stores run and its results in one transaction, assigning RunID when
// empty and recomputing the totals from Results.
func (s *PushHistoryStore) Create(ctx context.Context, run *PushRun) error {
	if run == nil {
		return fmt.Errorf("run cannot be nil")
	}
	if run.Host == "" {
		return fmt.Errorf("run host is required")
	}
	if run.RunID == "" {
		run.RunID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	if run.FinishedAt.IsZero() {
		run.FinishedAt = time.Now()
	}

	run.Total = len(run.Results)
	run.Failed = 0
	for _, r := range run.Results {
		if !r.Success {
			run.Failed++
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			log.Debug().Err(err).Msg("rollback push history")
		}
	}()

	strs := make([]string, 0, len(run.Results)+1)
	strs = append(strs, run.Host)
	for _, r := range run.Results {
		strs = append(strs, r.Rule)
	}
	ids, err := dbinterface.InternStrings(ctx, tx, strs...)
	if err != nil {
		return fmt.Errorf("intern push strings: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO push_runs (run_id, host_id, web_api_version, total, failed, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, ids[0], run.WebAPIVersion, run.Total, run.Failed,
		run.StartedAt.UTC().Format(timeLayout), run.FinishedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert push run: %w", err)
	}
	runID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}

	for i, r := range run.Results {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO push_results (push_run_id, rule_name_id, success, error) VALUES (?, ?, ?, ?)`,
			runID, ids[i+1], boolToInt(r.Success), r.Error,
		); err != nil {
			return fmt.Errorf("insert push result: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	run.ID = runID
	return nil
}

// List returns the most recent runs without their results.
func (s *PushHistoryStore) List(ctx context.Context, limit int) ([]*PushRun, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id, r.run_id, sp.value, r.web_api_version, r.total, r.failed, r.started_at, r.finished_at
		 FROM push_runs r JOIN string_pool sp ON sp.id = r.host_id
		 ORDER BY r.started_at DESC, r.id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*PushRun
	for rows.Next() {
		run, err := scanPushRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Get returns one run with its results.
func (s *PushHistoryStore) Get(ctx context.Context, runID string) (*PushRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT r.id, r.run_id, sp.value, r.web_api_version, r.total, r.failed, r.started_at, r.finished_at
		 FROM push_runs r JOIN string_pool sp ON sp.id = r.host_id
		 WHERE r.run_id = ?`, runID)
	run, err := scanPushRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPushRunNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT rule_name_id, success, error FROM push_results WHERE push_run_id = ? ORDER BY id`, run.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nameIDs []int64
	for rows.Next() {
		var (
			nameID  int64
			success int
			r       PushResult
		)
		if err := rows.Scan(&nameID, &success, &r.Error); err != nil {
			return nil, err
		}
		r.Success = success != 0
		nameIDs = append(nameIDs, nameID)
		run.Results = append(run.Results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	names, err := dbinterface.GetString(ctx, s.db, nameIDs...)
	if err != nil {
		return nil, err
	}
	for i := range run.Results {
		run.Results[i].Rule = names[i]
	}
	return run, nil
}

// Prune keeps the newest keep runs and deletes the rest.
func (s *PushHistoryStore) Prune(ctx context.Context, keep int) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM push_runs WHERE id NOT IN (
			SELECT id FROM push_runs ORDER BY started_at DESC, id DESC LIMIT ?)`, keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPushRun(sc scanner) (*PushRun, error) {
	var (
		run               PushRun
		started, finished string
	)
	if err := sc.Scan(&run.ID, &run.RunID, &run.Host, &run.WebAPIVersion, &run.Total, &run.Failed, &started, &finished); err != nil {
		return nil, err
	}
	var err error
	if run.StartedAt, err = time.Parse(timeLayout, started); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if run.FinishedAt, err = time.Parse(timeLayout, finished); err != nil {
		return nil, fmt.Errorf("parse finished_at: %w", err)
	}
	return &run, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
