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

// Package session orchestrates the lifecycle of a remote code
// transformation job: packaging and uploading the project, submitting
// the job, polling it to completion (including human-in-the-loop
// pauses), and fetching result artifacts.
package session

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/morph-project/morph/api"
	"github.com/morph-project/morph/client"
	"github.com/morph-project/morph/config"
	"github.com/morph-project/morph/metrics"
	"github.com/morph-project/morph/store"
	"github.com/morph-project/morph/token"
)

const requiredManifest = "pom.xml"

// Session tracks one project's transformation job from submission to
// terminal state.  Safe for concurrent use.
type Session struct {
	client   api.Client
	tokens   token.Provider
	store    *store.Store
	poller   *Poller
	archives *ArtifactHandler

	projectRoot string
	projectKey  string
	shouldStop  *atomic.Bool
	progress    client.ProgressFunc

	mu                 sync.Mutex
	jobID              string
	status             api.Status
	plan               *api.Plan
	hilArtifactID      string
	hilWorkspace       string
	passedInitialBuild bool
	lastStart          *StartJobResult
	lastCompletion     *CompletionResult
}

// NewSession creates a session for the project rooted at projectRoot.
// st may be nil when the host does not want persistence.
func NewSession(apiClient api.Client, tokens token.Provider, st *store.Store, projectRoot string) (*Session, error) {
	abs, err := filepath.Abs(projectRoot)
	if err != nil {
		return nil, errors.Wrap(err, "failed to resolve project root")
	}
	dataHome, err := config.GetDataHome()
	if err != nil {
		return nil, err
	}
	return &Session{
		client:      apiClient,
		tokens:      tokens,
		store:       st,
		poller:      NewPoller(apiClient, tokens),
		archives:    NewArtifactHandler(apiClient, filepath.Join(dataHome, "artifacts")),
		projectRoot: abs,
		projectKey:  abs,
		shouldStop:  atomic.NewBool(false),
		status:      api.StatusUnknown,
	}, nil
}

// SetProgress installs a transfer progress callback used for uploads.
func (s *Session) SetProgress(fn client.ProgressFunc) {
	s.progress = fn
}

func (s *Session) JobID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobID
}

func (s *Session) Status() api.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) Plan() *api.Plan {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.plan
}

func (s *Session) HilArtifactID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hilArtifactID
}

// PassedInitialBuild reports whether the job got past the service-side
// build of the uploaded project at any point.
func (s *Session) PassedInitialBuild() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.passedInitialBuild
}

func (s *Session) Artifacts() *ArtifactHandler {
	return s.archives
}

// LastStartResult returns the outcome of the most recent job submission
// attempt, or nil if none was made.
func (s *Session) LastStartResult() *StartJobResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastStart
}

// LastCompletion returns the outcome of the most recent full polling
// run, or nil if none finished.
func (s *Session) LastCompletion() *CompletionResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCompletion
}

// CreateModernizationJob packages the project, uploads the artifact, and
// submits a transformation job.  All recoverable outcomes are reported
// through the result kind rather than the error.
func (s *Session) CreateModernizationJob(ctx context.Context) StartJobResult {
	result := s.createModernizationJob(ctx)
	s.mu.Lock()
	s.lastStart = &result
	s.mu.Unlock()
	return result
}

func (s *Session) createModernizationJob(ctx context.Context) StartJobResult {
	zipPath, size, err := client.PackageProject(s.projectRoot, client.PackageOptions{
		RequiredManifest: requiredManifest,
		MaxBytes:         config.GetMaxArtifactBytes(),
		Cancel:           s.shouldStop.Load,
	})
	if err != nil {
		var missing *client.MissingManifestError
		var tooLarge *client.ArtifactTooLargeError
		var cancelled *client.CancelledError
		switch {
		case errors.As(err, &missing):
			return StartJobResult{Kind: StartCancelledMissingDependencies, Cause: err}
		case errors.As(err, &tooLarge):
			return StartJobResult{Kind: StartCancelledZipTooLarge, Cause: err}
		case errors.As(err, &cancelled):
			return StartJobResult{Kind: StartCancelled, Cause: err}
		default:
			return StartJobResult{Kind: StartFailed, Cause: err}
		}
	}
	defer os.Remove(zipPath)
	log.Debugf("Packaged %s into %s (%d bytes)", s.projectRoot, zipPath, size)

	checksum, err := client.ComputeChecksum(zipPath)
	if err != nil {
		return StartJobResult{Kind: StartFailed, Cause: err}
	}
	target, err := s.client.CreateUploadUrl(ctx, checksum, api.IntentTransformation, "")
	if err != nil {
		return StartJobResult{Kind: StartFailed, Cause: errors.Wrap(err, "failed to create upload URL")}
	}
	if err := client.UploadArtifact(ctx, target.URL, zipPath, checksum, target.KmsKeyArn, s.shouldStop.Load, s.progress); err != nil {
		var cancelled *client.CancelledError
		if errors.As(err, &cancelled) {
			return StartJobResult{Kind: StartCancelled, Cause: err}
		}
		return StartJobResult{Kind: StartFailedUpload, Cause: err}
	}
	// The local zip is no longer needed once the service has the bytes;
	// the deferred remove covers the failure paths too.
	os.Remove(zipPath)

	jobID, err := s.client.StartTransformation(ctx, target.UploadID, config.GetSourceLanguage(), config.GetTargetLanguage())
	if err != nil {
		return StartJobResult{Kind: StartFailed, Cause: errors.Wrap(err, "failed to start transformation")}
	}

	s.mu.Lock()
	s.jobID = jobID
	s.status = api.StatusStarted
	s.plan = nil
	s.hilArtifactID = ""
	s.passedInitialBuild = false
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.UpsertJob(store.JobRecord{
			JobID:          jobID,
			ProjectKey:     s.projectKey,
			Status:         api.StatusStarted,
			SourceLanguage: config.GetSourceLanguage(),
			TargetLanguage: config.GetTargetLanguage(),
		}); err != nil {
			log.Warnf("Failed to persist job %s: %v", jobID, err)
		}
	}
	return StartJobResult{Kind: StartStarted, JobID: jobID}
}

// PollUntilJobCompletion polls the current job until it pauses for human
// input or reaches a terminal state.
func (s *Session) PollUntilJobCompletion(ctx context.Context) (CompletionResult, error) {
	jobID := s.JobID()
	if jobID == "" {
		return CompletionResult{Kind: Failed, Reason: "no job in progress"}, errors.New("no job in progress")
	}
	cfg := PollConfig{
		SucceedOn:    api.NewStatusSet(api.StatusCompleted, api.StatusPartiallyCompleted, api.StatusPaused),
		FailOn:       api.NewStatusSet(api.StatusFailed, api.StatusRejected, api.StatusStopped),
		InitialDelay: config.GetPollInitialDelay(),
		Interval:     config.GetPollInterval(),
		MaxDuration:  config.GetMaxPollDuration(),
		AuthRetries:  config.GetAuthRetryBudget(),
	}
	result, err := s.poller.Poll(ctx, jobID, cfg, s.shouldStop, s.onTransition)
	completion, err := s.classify(result, err)
	s.mu.Lock()
	s.lastCompletion = &completion
	s.mu.Unlock()
	return completion, err
}

// onTransition records each observed status/plan change and mirrors it
// into the job store.
func (s *Session) onTransition(previous, current api.Status, plan *api.Plan, reason string) {
	log.Infof("Job %s: %s -> %s", s.JobID(), previous, current)

	s.mu.Lock()
	s.status = current
	s.plan = plan
	if api.PostBuildStates.Contains(current) {
		s.passedInitialBuild = true
	}
	hilID := ""
	if current == api.StatusPaused {
		if artifact := plan.HilArtifact(); artifact != nil {
			hilID = artifact.ID
			s.hilArtifactID = hilID
		}
	}
	jobID := s.jobID
	s.mu.Unlock()

	if s.store == nil || jobID == "" {
		return
	}
	if err := s.store.UpdateStatus(jobID, current, reason); err != nil {
		log.Debugf("Could not persist status %s for job %s: %v", current, jobID, err)
	}
	if hilID != "" {
		if err := s.store.SetHilArtifact(jobID, hilID); err != nil {
			log.Debugf("Could not persist HIL artifact for job %s: %v", jobID, err)
		}
	}
	if current.IsTerminal() {
		metrics.JobsTerminal.WithLabelValues(string(current)).Inc()
	}
}

func (s *Session) classify(result PollingResult, err error) (CompletionResult, error) {
	if errors.Is(err, ErrDisposed) {
		return CompletionResult{Kind: ManagerDisposed}, err
	}
	if err != nil {
		// The job may well still be running remotely; the caller can
		// resume polling later.
		return CompletionResult{Kind: RetryableFailure, Reason: err.Error()}, err
	}
	if result.Cancelled {
		return CompletionResult{Kind: Stopped, Reason: "stopped by user"}, nil
	}

	reason := ""
	if result.Details != nil {
		reason = result.Details.Reason
	}
	switch result.State {
	case api.StatusCompleted:
		return CompletionResult{Kind: CompletedSuccessfully, Reason: reason}, nil
	case api.StatusPartiallyCompleted:
		return CompletionResult{Kind: PartiallySucceeded, Reason: reason}, nil
	case api.StatusPaused:
		return CompletionResult{Kind: Paused, Reason: reason}, nil
	case api.StatusStopped:
		return CompletionResult{Kind: Stopped, Reason: reason}, nil
	default:
		if !s.PassedInitialBuild() {
			return CompletionResult{Kind: FailedInitialBuild, Reason: reason}, nil
		}
		return CompletionResult{Kind: Failed, Reason: reason}, nil
	}
}

// StopTransformation asks the service to stop the current job and flags
// every in-flight local operation to wind down.  Returns false when the
// job had already finished on its own.
func (s *Session) StopTransformation(ctx context.Context) (bool, error) {
	s.shouldStop.Store(true)
	jobID := s.JobID()
	if jobID == "" {
		return false, nil
	}
	if err := s.client.StopTransformation(ctx, jobID); err != nil {
		var svcErr *api.ServiceError
		if errors.As(err, &svcErr) && svcErr.StatusCode == 409 {
			// Already terminal on the service side.
			return false, nil
		}
		return false, errors.Wrapf(err, "failed to stop job %s", jobID)
	}
	return true, nil
}

// ResetStopFlag re-arms the session for another run after a stop.
func (s *Session) ResetStopFlag() {
	s.shouldStop.Store(false)
}

// TryResumeJob looks for a persisted non-terminal job for this project,
// refreshes its status once, and adopts it into the session if it is
// still running.  Returns nil when there is nothing to resume.
func (s *Session) TryResumeJob(ctx context.Context) (*store.JobRecord, error) {
	if s.store == nil {
		return nil, nil
	}
	rec, err := s.store.ActiveJob(s.projectKey)
	if err != nil || rec == nil {
		return nil, err
	}
	details, err := s.client.GetTransformationJob(ctx, rec.JobID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to refresh persisted job %s", rec.JobID)
	}
	if updErr := s.store.UpdateStatus(rec.JobID, details.Status, details.Reason); updErr != nil {
		log.Debugf("Could not persist refreshed status for job %s: %v", rec.JobID, updErr)
	}
	rec.Status = details.Status
	rec.Reason = details.Reason
	if details.Status.IsTerminal() {
		return rec, nil
	}

	s.mu.Lock()
	s.jobID = rec.JobID
	s.status = details.Status
	s.hilArtifactID = rec.HilArtifactID
	s.passedInitialBuild = api.PostBuildStates.Contains(details.Status)
	s.mu.Unlock()
	log.Infof("Resumed tracking job %s (status %s)", rec.JobID, details.Status)
	return rec, nil
}
