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

package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/morph-project/morph/api"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "jobs.db")
	s, err := NewStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testRecord(jobID string, status api.Status) JobRecord {
	now := time.Now().Truncate(time.Second)
	return JobRecord{
		JobID:          jobID,
		ProjectKey:     "project-1",
		Status:         status,
		SourceLanguage: "JAVA_8",
		TargetLanguage: "JAVA_17",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestUpsertAndGetJob(t *testing.T) {
	s := setupTestStore(t)

	rec := testRecord("job-1", api.StatusStarted)
	require.NoError(t, s.UpsertJob(rec))

	got, err := s.GetJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, api.StatusStarted, got.Status)
	assert.Equal(t, "project-1", got.ProjectKey)
	assert.Equal(t, rec.CreatedAt.Unix(), got.CreatedAt.Unix())
	assert.Nil(t, got.StoppedAt)
}

func TestUpsertJobDefaultsTimestamps(t *testing.T) {
	s := setupTestStore(t)

	rec := testRecord("job-1", api.StatusStarted)
	rec.CreatedAt = time.Time{}
	rec.UpdatedAt = time.Time{}
	require.NoError(t, s.UpsertJob(rec))

	got, err := s.GetJob("job-1")
	require.NoError(t, err)
	assert.False(t, got.CreatedAt.IsZero())
	assert.WithinDuration(t, time.Now(), got.CreatedAt, time.Minute)
	assert.WithinDuration(t, time.Now(), got.UpdatedAt, time.Minute)
}

func TestGetJobMissing(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.GetJob("nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in the job database")
}

func TestUpdateStatusSetsStoppedAtOnTerminal(t *testing.T) {
	s := setupTestStore(t)
	require.NoError(t, s.UpsertJob(testRecord("job-1", api.StatusStarted)))

	require.NoError(t, s.UpdateStatus("job-1", api.StatusTransforming, ""))
	got, err := s.GetJob("job-1")
	require.NoError(t, err)
	assert.Nil(t, got.StoppedAt)

	require.NoError(t, s.UpdateStatus("job-1", api.StatusFailed, "build broke"))
	got, err = s.GetJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, api.StatusFailed, got.Status)
	assert.Equal(t, "build broke", got.Reason)
	require.NotNil(t, got.StoppedAt)
}

func TestUpdateStatusUnknownJob(t *testing.T) {
	s := setupTestStore(t)
	err := s.UpdateStatus("ghost", api.StatusFailed, "")
	require.Error(t, err)
}

func TestActiveJobSkipsTerminal(t *testing.T) {
	s := setupTestStore(t)

	older := testRecord("job-old", api.StatusCompleted)
	older.CreatedAt = older.CreatedAt.Add(-time.Hour)
	require.NoError(t, s.UpsertJob(older))
	require.NoError(t, s.UpsertJob(testRecord("job-new", api.StatusTransforming)))

	active, err := s.ActiveJob("project-1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "job-new", active.JobID)
}

func TestActiveJobNoneToResume(t *testing.T) {
	s := setupTestStore(t)
	require.NoError(t, s.UpsertJob(testRecord("job-1", api.StatusCompleted)))

	active, err := s.ActiveJob("project-1")
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestSetHilArtifact(t *testing.T) {
	s := setupTestStore(t)
	require.NoError(t, s.UpsertJob(testRecord("job-1", api.StatusPaused)))

	require.NoError(t, s.SetHilArtifact("job-1", "hil-9"))
	got, err := s.GetJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, "hil-9", got.HilArtifactID)

	require.NoError(t, s.SetHilArtifact("job-1", ""))
	got, err = s.GetJob("job-1")
	require.NoError(t, err)
	assert.Empty(t, got.HilArtifactID)
}

func TestListJobsNewestFirst(t *testing.T) {
	s := setupTestStore(t)

	first := testRecord("job-1", api.StatusCompleted)
	first.CreatedAt = first.CreatedAt.Add(-2 * time.Hour)
	second := testRecord("job-2", api.StatusFailed)
	second.CreatedAt = second.CreatedAt.Add(-time.Hour)
	third := testRecord("job-3", api.StatusTransforming)
	require.NoError(t, s.UpsertJob(first))
	require.NoError(t, s.UpsertJob(second))
	require.NoError(t, s.UpsertJob(third))

	records, err := s.ListJobs("project-1", 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "job-3", records[0].JobID)
	assert.Equal(t, "job-2", records[1].JobID)

	all, err := s.ListJobs("project-1", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestListJobsAcrossProjects(t *testing.T) {
	s := setupTestStore(t)

	other := testRecord("job-other", api.StatusCompleted)
	other.ProjectKey = "project-2"
	require.NoError(t, s.UpsertJob(testRecord("job-1", api.StatusStarted)))
	require.NoError(t, s.UpsertJob(other))

	scoped, err := s.ListJobs("project-1", 0)
	require.NoError(t, err)
	assert.Len(t, scoped, 1)

	all, err := s.ListJobs("", 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestStoreSurvivesReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "jobs.db")
	s, err := NewStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.UpsertJob(testRecord("job-1", api.StatusPaused)))
	require.NoError(t, s.Close())

	reopened, err := NewStore(dbPath)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, api.StatusPaused, got.Status)
}
