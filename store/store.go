/***************************************************************
 *
 * Copyright (C) 2025, Morph Project
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you
 * may not use this file except in compliance with the License.  You may
 * obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 ***************************************************************/

// Package store persists the per-project transformation job history so
// an in-flight remote job can be rediscovered after the host restarts.
package store

import (
	"database/sql"
	"embed"
	"time"

	_ "github.com/glebarez/go-sqlite" // SQLite driver
	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"
	log "github.com/sirupsen/logrus"

	"github.com/morph-project/morph/api"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// JobRecord is one persisted transformation job.
type JobRecord struct {
	JobID          string
	ProjectKey     string
	Status         api.Status
	Reason         string
	HilArtifactID  string
	SourceLanguage string
	TargetLanguage string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	StoppedAt      *time.Time
}

// Store is a sqlite-backed job history.
type Store struct {
	db *sql.DB
}

// NewStore opens (creating if necessary) the job database at dbPath and
// applies pending migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, errors.Wrap(err, "failed to open job database")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to ping job database")
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.runMigrations(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to run job database migrations")
	}
	log.Debugf("Job database initialized at %s", dbPath)
	return store, nil
}

func (s *Store) runMigrations() error {
	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return errors.Wrap(err, "failed to set goose dialect")
	}
	if err := goose.Up(s.db, "migrations"); err != nil {
		return errors.Wrap(err, "failed to apply migrations")
	}
	return nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// UpsertJob inserts or replaces the record for rec.JobID.  Zero
// timestamps are filled in with the current time.
func (s *Store) UpsertJob(rec JobRecord) error {
	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = now
	}
	query := `INSERT INTO jobs
		(job_id, project_key, status, reason, hil_artifact_id, source_language, target_language, created_at, updated_at, stopped_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET
		status = excluded.status, reason = excluded.reason,
		hil_artifact_id = excluded.hil_artifact_id,
		updated_at = excluded.updated_at, stopped_at = excluded.stopped_at`
	var stoppedAt any
	if rec.StoppedAt != nil {
		stoppedAt = rec.StoppedAt.Unix()
	}
	_, err := s.db.Exec(query, rec.JobID, rec.ProjectKey, string(rec.Status), rec.Reason,
		rec.HilArtifactID, rec.SourceLanguage, rec.TargetLanguage,
		rec.CreatedAt.Unix(), rec.UpdatedAt.Unix(), stoppedAt)
	return errors.Wrapf(err, "failed to upsert job %s", rec.JobID)
}

// UpdateStatus records a new status (and optional reason) for jobID.
// Terminal statuses also set the stopped timestamp.
func (s *Store) UpdateStatus(jobID string, status api.Status, reason string) error {
	now := time.Now()
	var stoppedAt any
	if status.IsTerminal() {
		stoppedAt = now.Unix()
	}
	res, err := s.db.Exec(
		`UPDATE jobs SET status = ?, reason = ?, updated_at = ?, stopped_at = COALESCE(?, stopped_at) WHERE job_id = ?`,
		string(status), reason, now.Unix(), stoppedAt, jobID)
	if err != nil {
		return errors.Wrapf(err, "failed to update status for job %s", jobID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Errorf("job %s is not in the job database", jobID)
	}
	return nil
}

// SetHilArtifact records (or clears, with an empty id) the pending
// human-in-the-loop artifact for jobID.
func (s *Store) SetHilArtifact(jobID, artifactID string) error {
	_, err := s.db.Exec(`UPDATE jobs SET hil_artifact_id = ?, updated_at = ? WHERE job_id = ?`,
		artifactID, time.Now().Unix(), jobID)
	return errors.Wrapf(err, "failed to set HIL artifact for job %s", jobID)
}

// GetJob fetches a single record by job id.
func (s *Store) GetJob(jobID string) (*JobRecord, error) {
	row := s.db.QueryRow(selectColumns+` WHERE job_id = ?`, jobID)
	rec, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, errors.Errorf("job %s is not in the job database", jobID)
	}
	return rec, err
}

// ActiveJob returns the most recent non-terminal job for the project,
// or nil when there is nothing to resume.
func (s *Store) ActiveJob(projectKey string) (*JobRecord, error) {
	rows, err := s.db.Query(selectColumns+` WHERE project_key = ? ORDER BY created_at DESC`, projectKey)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query jobs")
	}
	defer rows.Close()
	for rows.Next() {
		rec, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		if !rec.Status.IsTerminal() {
			return rec, nil
		}
	}
	return nil, rows.Err()
}

// ListJobs returns up to limit records for the project, newest first.
// An empty projectKey lists jobs across all projects; a zero limit
// returns everything.
func (s *Store) ListJobs(projectKey string, limit int) ([]JobRecord, error) {
	query := selectColumns
	var args []any
	if projectKey != "" {
		query += ` WHERE project_key = ?`
		args = append(args, projectKey)
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query jobs")
	}
	defer rows.Close()

	var records []JobRecord
	for rows.Next() {
		rec, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

const selectColumns = `SELECT job_id, project_key, status, reason, hil_artifact_id,
	source_language, target_language, created_at, updated_at, stopped_at FROM jobs`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*JobRecord, error) {
	rec := JobRecord{}
	var status string
	var createdAt, updatedAt int64
	var stoppedAt sql.NullInt64
	err := row.Scan(&rec.JobID, &rec.ProjectKey, &status, &rec.Reason, &rec.HilArtifactID,
		&rec.SourceLanguage, &rec.TargetLanguage, &createdAt, &updatedAt, &stoppedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, errors.Wrap(err, "failed to scan job record")
	}
	rec.Status = api.Status(status)
	rec.CreatedAt = time.Unix(createdAt, 0)
	rec.UpdatedAt = time.Unix(updatedAt, 0)
	if stoppedAt.Valid {
		stopped := time.Unix(stoppedAt.Int64, 0)
		rec.StoppedAt = &stopped
	}
	return &rec, nil
}
