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

package session

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/morph-project/morph/api"
	"github.com/morph-project/morph/config"
	"github.com/morph-project/morph/store"
)

func setupConfig(t *testing.T) {
	t.Helper()
	viper.Reset()
	require.NoError(t, config.InitClient())
	viper.Set("Client.DataHome", t.TempDir())
	viper.Set("Transform.PollInitialDelay", time.Duration(0))
	viper.Set("Transform.PollInterval", time.Millisecond)
	viper.Set("Transform.MaxPollDuration", 5*time.Second)
	viper.Set("Transform.AuthRetryBudget", 3)
	t.Cleanup(viper.Reset)
}

func writeMavenProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "pom.xml"), []byte("<project/>"), 0644))
	srcDir := filepath.Join(root, "src", "main", "java")
	require.NoError(t, os.MkdirAll(srcDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "Main.java"), []byte("class Main {}"), 0644))
	return root
}

func setupSession(t *testing.T, client *fakeClient) (*Session, *store.Store) {
	t.Helper()
	setupConfig(t)
	st, err := store.NewStore(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	sess, err := NewSession(client, &fakeTokens{}, st, writeMavenProject(t))
	require.NoError(t, err)
	return sess, st
}

// uploadServer accepts presigned PUTs and remembers how many arrived.
func uploadServer(t *testing.T) (*httptest.Server, *int) {
	t.Helper()
	puts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		puts++
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, &puts
}

// buildZip assembles an in-memory zip from entry name to contents.
func buildZip(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	writer := zip.NewWriter(&buf)
	for name, contents := range entries {
		entry, err := writer.Create(name)
		require.NoError(t, err)
		_, err = entry.Write([]byte(contents))
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	return buf.Bytes()
}

func TestCreateModernizationJob(t *testing.T) {
	srv, puts := uploadServer(t)
	client := &fakeClient{
		uploadTarget: &api.UploadTarget{UploadID: "up-1", URL: srv.URL, KmsKeyArn: "arn:kms"},
		startedJobID: "job-42",
	}
	sess, st := setupSession(t, client)

	result := sess.CreateModernizationJob(context.Background())
	require.Equal(t, StartStarted, result.Kind, "cause: %v", result.Cause)
	assert.Equal(t, "job-42", result.JobID)
	assert.Equal(t, "job-42", sess.JobID())
	assert.Equal(t, api.StatusStarted, sess.Status())
	assert.Equal(t, 1, *puts)

	rec, err := st.GetJob("job-42")
	require.NoError(t, err)
	assert.Equal(t, api.StatusStarted, rec.Status)
	assert.Equal(t, "JAVA_8", rec.SourceLanguage)
	assert.Equal(t, "JAVA_17", rec.TargetLanguage)
	assert.WithinDuration(t, time.Now(), rec.CreatedAt, time.Minute)

	require.NotNil(t, sess.LastStartResult())
	assert.Equal(t, StartStarted, sess.LastStartResult().Kind)
}

func TestCreateModernizationJobMissingManifest(t *testing.T) {
	setupConfig(t)
	root := t.TempDir() // no pom.xml
	sess, err := NewSession(&fakeClient{}, &fakeTokens{}, nil, root)
	require.NoError(t, err)

	result := sess.CreateModernizationJob(context.Background())
	assert.Equal(t, StartCancelledMissingDependencies, result.Kind)
	assert.Error(t, result.Cause)
	assert.Empty(t, sess.JobID())
}

func TestCreateModernizationJobTooLarge(t *testing.T) {
	client := &fakeClient{}
	sess, _ := setupSession(t, client)
	viper.Set("Transform.MaxArtifactBytes", int64(1))

	result := sess.CreateModernizationJob(context.Background())
	assert.Equal(t, StartCancelledZipTooLarge, result.Kind)
}

func TestCreateModernizationJobCancelled(t *testing.T) {
	client := &fakeClient{}
	sess, _ := setupSession(t, client)
	sess.shouldStop.Store(true)

	result := sess.CreateModernizationJob(context.Background())
	assert.Equal(t, StartCancelled, result.Kind)
}

func TestCreateModernizationJobUploadFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)
	client := &fakeClient{uploadTarget: &api.UploadTarget{UploadID: "up-1", URL: srv.URL}}
	sess, _ := setupSession(t, client)

	result := sess.CreateModernizationJob(context.Background())
	assert.Equal(t, StartFailedUpload, result.Kind)
	assert.Error(t, result.Cause)
}

func startedSession(t *testing.T, client *fakeClient) (*Session, *store.Store) {
	t.Helper()
	srv, _ := uploadServer(t)
	client.uploadTarget = &api.UploadTarget{UploadID: "up-1", URL: srv.URL}
	client.startedJobID = "job-42"
	sess, st := setupSession(t, client)
	result := sess.CreateModernizationJob(context.Background())
	require.Equal(t, StartStarted, result.Kind, "cause: %v", result.Cause)
	return sess, st
}

func TestPollUntilJobCompletionCompleted(t *testing.T) {
	client := &fakeClient{steps: []pollStep{
		{status: api.StatusStarted},
		{status: api.StatusTransforming},
		{status: api.StatusCompleted},
	}}
	sess, st := startedSession(t, client)

	completion, err := sess.PollUntilJobCompletion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CompletedSuccessfully, completion.Kind)
	assert.Equal(t, api.StatusCompleted, sess.Status())
	assert.True(t, sess.PassedInitialBuild())

	rec, err := st.GetJob("job-42")
	require.NoError(t, err)
	assert.Equal(t, api.StatusCompleted, rec.Status)
	assert.NotNil(t, rec.StoppedAt)

	require.NotNil(t, sess.LastCompletion())
	assert.Equal(t, CompletedSuccessfully, sess.LastCompletion().Kind)
}

func TestPollUntilJobCompletionPausedDetectsHil(t *testing.T) {
	client := &fakeClient{
		steps: []pollStep{
			{status: api.StatusStarted},
			{status: api.StatusPaused},
		},
		plan: &api.Plan{Steps: []api.PlanStep{{
			ID:   "1",
			Name: "dependency upgrade",
			ProgressUpdates: []api.ProgressUpdate{{
				Name:             "awaiting human input",
				DownloadArtifact: &api.DownloadArtifact{ID: "hil-7", Type: api.ArtifactTypeClientInstructions},
			}},
		}}},
	}
	sess, st := startedSession(t, client)

	completion, err := sess.PollUntilJobCompletion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Paused, completion.Kind)
	assert.Equal(t, "hil-7", sess.HilArtifactID())

	rec, err := st.GetJob("job-42")
	require.NoError(t, err)
	assert.Equal(t, "hil-7", rec.HilArtifactID)
}

func TestPollUntilJobCompletionFailedBeforeBuild(t *testing.T) {
	client := &fakeClient{steps: []pollStep{
		{status: api.StatusStarted},
		{status: api.StatusPreparing},
		{status: api.StatusFailed},
	}}
	sess, _ := startedSession(t, client)

	completion, err := sess.PollUntilJobCompletion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, FailedInitialBuild, completion.Kind)
	assert.False(t, sess.PassedInitialBuild())
}

func TestPollUntilJobCompletionFailedAfterBuild(t *testing.T) {
	client := &fakeClient{steps: []pollStep{
		{status: api.StatusStarted},
		{status: api.StatusTransforming},
		{status: api.StatusFailed, reason: "transformation step 3 failed"},
	}}
	sess, st := startedSession(t, client)

	completion, err := sess.PollUntilJobCompletion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Failed, completion.Kind)
	assert.Equal(t, "transformation step 3 failed", completion.Reason)
	assert.True(t, sess.PassedInitialBuild())

	rec, err := st.GetJob("job-42")
	require.NoError(t, err)
	assert.Equal(t, "transformation step 3 failed", rec.Reason)
}

func TestPollUntilJobCompletionStoppedByUser(t *testing.T) {
	client := &fakeClient{steps: []pollStep{{status: api.StatusStarted}}}
	sess, _ := startedSession(t, client)
	sess.shouldStop.Store(true)

	completion, err := sess.PollUntilJobCompletion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stopped, completion.Kind)
	assert.Zero(t, client.jobCalls)
}

func TestStopTransformation(t *testing.T) {
	client := &fakeClient{}
	sess, _ := startedSession(t, client)

	stopped, err := sess.StopTransformation(context.Background())
	require.NoError(t, err)
	assert.True(t, stopped)
	assert.True(t, sess.shouldStop.Load())
}

func TestStopTransformationAlreadyFinished(t *testing.T) {
	client := &fakeClient{stopErr: &api.ServiceError{Op: "StopTransformation", StatusCode: 409}}
	sess, _ := startedSession(t, client)

	stopped, err := sess.StopTransformation(context.Background())
	require.NoError(t, err)
	assert.False(t, stopped)
}

func TestTryResumeJobAdoptsActive(t *testing.T) {
	client := &fakeClient{steps: []pollStep{{status: api.StatusTransforming}}}
	sess, st := setupSession(t, client)
	require.NoError(t, st.UpsertJob(store.JobRecord{
		JobID:      "job-old",
		ProjectKey: sess.projectKey,
		Status:     api.StatusStarted,
	}))

	rec, err := sess.TryResumeJob(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "job-old", rec.JobID)
	assert.Equal(t, api.StatusTransforming, rec.Status)
	assert.Equal(t, "job-old", sess.JobID())
	assert.True(t, sess.PassedInitialBuild())
}

func TestTryResumeJobTerminalNotAdopted(t *testing.T) {
	client := &fakeClient{steps: []pollStep{{status: api.StatusCompleted}}}
	sess, st := setupSession(t, client)
	require.NoError(t, st.UpsertJob(store.JobRecord{
		JobID:      "job-old",
		ProjectKey: sess.projectKey,
		Status:     api.StatusStarted,
	}))

	rec, err := sess.TryResumeJob(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, api.StatusCompleted, rec.Status)
	assert.Empty(t, sess.JobID(), "terminal jobs are reported, not adopted")
}

func TestTryResumeJobNothingPersisted(t *testing.T) {
	sess, _ := setupSession(t, &fakeClient{})

	rec, err := sess.TryResumeJob(context.Background())
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestDownloadHilArtifact(t *testing.T) {
	manifest := `{"hilCapability":"HIL_1pomVersionUpdate","pomGroupId":"org.example",` +
		`"pomArtifactId":"lib","sourcePomVersion":"1.2.3","pomFolderName":"module-a"}`
	client := &fakeClient{
		exportZip: buildZip(t, map[string]string{
			"manifest.json":     manifest,
			"dependencies.json": `{"currentVersion":"1.2.3","latestVersion":"2.0.0"}`,
			"module-a/pom.xml":  "<project><version>1.2.3</version></project>",
		}),
	}
	sess, _ := startedSession(t, client)
	sess.mu.Lock()
	sess.hilArtifactID = "hil-7"
	sess.mu.Unlock()

	artifact := sess.DownloadHilArtifact(context.Background())
	require.NotNil(t, artifact)
	assert.Equal(t, "org.example", artifact.Manifest.PomGroupID)
	assert.Equal(t, "2.0.0", artifact.Report.LatestVersion)
	assert.FileExists(t, artifact.PomPath)
}

func TestDownloadHilArtifactFailureReturnsNil(t *testing.T) {
	client := &fakeClient{exportErr: &api.ServiceError{Op: "ExportResultArchive", StatusCode: 500}}
	sess, _ := startedSession(t, client)
	sess.mu.Lock()
	sess.hilArtifactID = "hil-7"
	sess.mu.Unlock()

	assert.Nil(t, sess.DownloadHilArtifact(context.Background()))
}

func TestDownloadHilArtifactNoPendingIntervention(t *testing.T) {
	sess, _ := startedSession(t, &fakeClient{})
	assert.Nil(t, sess.DownloadHilArtifact(context.Background()))
}

func TestHilRoundTrip(t *testing.T) {
	manifest := `{"hilCapability":"HIL_1pomVersionUpdate","pomFolderName":"module-a"}`
	client := &fakeClient{
		exportZip: buildZip(t, map[string]string{
			"manifest.json":    manifest,
			"module-a/pom.xml": "<project><version>1.2.3</version></project>",
		}),
	}
	srv, puts := uploadServer(t)
	client.uploadTarget = &api.UploadTarget{UploadID: "up-1", URL: srv.URL}
	client.startedJobID = "job-42"
	sess, _ := setupSession(t, client)
	require.Equal(t, StartStarted, sess.CreateModernizationJob(context.Background()).Kind)
	sess.mu.Lock()
	sess.hilArtifactID = "hil-7"
	sess.mu.Unlock()

	artifact := sess.DownloadHilArtifact(context.Background())
	require.NotNil(t, artifact)

	// Simulate the human picking a version by editing the pom in place.
	require.NoError(t, os.WriteFile(artifact.PomPath, []byte("<project><version>2.0.0</version></project>"), 0644))
	require.NoError(t, sess.UploadHilPayload(context.Background(), artifact, artifact.PomPath))
	assert.Equal(t, 2, *puts, "project upload plus HIL payload upload")

	require.NoError(t, sess.ResumeTransformFromHil(context.Background()))
	assert.Equal(t, api.ActionCompleted, client.resumeAction)

	workspace := sess.hilWorkspace
	require.DirExists(t, workspace)
	sess.HilCleanup()
	assert.Empty(t, sess.HilArtifactID())
	assert.NoDirExists(t, workspace)
}

func TestRejectHilAndContinue(t *testing.T) {
	client := &fakeClient{}
	sess, _ := startedSession(t, client)

	require.NoError(t, sess.RejectHilAndContinue(context.Background()))
	assert.Equal(t, api.ActionRejected, client.resumeAction)
}

func TestHilCleanupWithoutWorkspace(t *testing.T) {
	sess, _ := setupSession(t, &fakeClient{})
	sess.HilCleanup() // no-op, must not panic
	assert.Empty(t, sess.HilArtifactID())
}

func TestArtifactHandlerCachesDownloads(t *testing.T) {
	setupConfig(t)
	client := &fakeClient{
		exportZip: buildZip(t, map[string]string{
			"patch/diff.patch":   "--- a/Main.java\n+++ b/Main.java\n",
			"summary/summary.md": "# Transformation summary\n",
		}),
	}
	handler := NewArtifactHandler(client, filepath.Join(t.TempDir(), "artifacts"))

	first, err := handler.GetResultArchive(context.Background(), "job-42")
	require.NoError(t, err)
	assert.Contains(t, first.Patch, "Main.java")
	assert.Contains(t, first.Summary, "summary")
	assert.Equal(t, 1, client.exportCalls)

	second, err := handler.GetResultArchive(context.Background(), "job-42")
	require.NoError(t, err)
	assert.Equal(t, first.Patch, second.Patch)
	assert.Equal(t, 1, client.exportCalls, "second request must come from cache")
	assert.FileExists(t, handler.ArchivePath("job-42"))
}

func TestArtifactHandlerRedownloadsAfterEviction(t *testing.T) {
	setupConfig(t)
	client := &fakeClient{
		exportZip: buildZip(t, map[string]string{"patch/diff.patch": "delta"}),
	}
	handler := NewArtifactHandler(client, filepath.Join(t.TempDir(), "artifacts"))

	_, err := handler.GetResultArchive(context.Background(), "job-42")
	require.NoError(t, err)
	require.NoError(t, os.Remove(handler.ArchivePath("job-42")))

	_, err = handler.GetResultArchive(context.Background(), "job-42")
	require.NoError(t, err)
	assert.Equal(t, 2, client.exportCalls)
}

func TestArtifactHandlerInFlightDownloadRejected(t *testing.T) {
	setupConfig(t)
	client := &fakeClient{
		exportZip: buildZip(t, map[string]string{"patch/diff.patch": "delta"}),
	}
	handler := NewArtifactHandler(client, filepath.Join(t.TempDir(), "artifacts"))
	handler.downloading.Store(true)

	_, err := handler.GetResultArchive(context.Background(), "job-42")
	require.ErrorIs(t, err, ErrDownloadInProgress)
	assert.Zero(t, client.exportCalls)
}

func TestArtifactHandlerMalformedArchive(t *testing.T) {
	setupConfig(t)
	client := &fakeClient{exportZip: []byte("not a zip")}
	handler := NewArtifactHandler(client, filepath.Join(t.TempDir(), "artifacts"))

	_, err := handler.GetResultArchive(context.Background(), "job-42")
	require.Error(t, err)
	assert.Empty(t, handler.ArchivePath("job-42"))

	// A failed download is not cached; the next call hits the network.
	_, err = handler.GetResultArchive(context.Background(), "job-42")
	require.Error(t, err)
	assert.Equal(t, 2, client.exportCalls)
}
