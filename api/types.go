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

package api

import (
	"context"
	"io"
	"time"
)

// Status is the remote transformation job status vocabulary.
type Status string

const (
	StatusUnknown            Status = "UNKNOWN"
	StatusStarted            Status = "STARTED"
	StatusPreparing          Status = "PREPARING"
	StatusPrepared           Status = "PREPARED"
	StatusPlanning           Status = "PLANNING"
	StatusPlanned            Status = "PLANNED"
	StatusTransforming       Status = "TRANSFORMING"
	StatusTransformed        Status = "TRANSFORMED"
	StatusPaused             Status = "PAUSED"
	StatusCompleted          Status = "COMPLETED"
	StatusPartiallyCompleted Status = "PARTIALLY_COMPLETED"
	StatusStopped            Status = "STOPPED"
	StatusFailed             Status = "FAILED"
	StatusRejected           Status = "REJECTED"
)

// StatusSet is an immutable membership set over job statuses.
type StatusSet map[Status]struct{}

func NewStatusSet(statuses ...Status) StatusSet {
	set := make(StatusSet, len(statuses))
	for _, s := range statuses {
		set[s] = struct{}{}
	}
	return set
}

func (s StatusSet) Contains(status Status) bool {
	_, ok := s[status]
	return ok
}

// The status transition table, consolidated in one place.  Every other
// package derives its behavior from these sets rather than re-deriving
// ad hoc literals.
var (
	// TerminalStates permanently end polling once observed.
	TerminalStates = NewStatusSet(StatusCompleted, StatusPartiallyCompleted,
		StatusStopped, StatusFailed, StatusRejected)

	// PlanCapableStates are the statuses at which the service can return
	// a transformation plan.
	PlanCapableStates = NewStatusSet(StatusPlanned, StatusTransforming,
		StatusTransformed, StatusPaused, StatusCompleted, StatusPartiallyCompleted)

	// PostBuildStates indicate the job made it past the initial build of
	// the uploaded project.  Failures before this milestone get different
	// remediation guidance than failures after it.
	PostBuildStates = NewStatusSet(StatusPrepared, StatusPlanning, StatusPlanned,
		StatusTransforming, StatusTransformed, StatusPaused, StatusCompleted,
		StatusPartiallyCompleted)
)

func (s Status) IsTerminal() bool {
	return TerminalStates.Contains(s)
}

// JobDetails is the service's view of a transformation job.
type JobDetails struct {
	JobID     string     `json:"jobId"`
	Status    Status     `json:"status"`
	Reason    string     `json:"reason,omitempty"`
	CreatedAt *time.Time `json:"creationTime,omitempty"`
	EndedAt   *time.Time `json:"endTime,omitempty"`
}

// DownloadArtifact references a sub-artifact attached to a progress
// update, e.g. the archive a paused job wants a human to act on.
type DownloadArtifact struct {
	ID   string `json:"downloadArtifactId"`
	Type string `json:"downloadArtifactType"`
}

const ArtifactTypeClientInstructions = "CLIENT_INSTRUCTIONS"

// ProgressUpdate is a single progress entry beneath a plan step.
type ProgressUpdate struct {
	Name             string            `json:"name"`
	Status           string            `json:"status"`
	Description      string            `json:"description,omitempty"`
	DownloadArtifact *DownloadArtifact `json:"downloadArtifact,omitempty"`
}

// PlanStep is one ordered step of a transformation plan.
type PlanStep struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	Description     string           `json:"description,omitempty"`
	Status          string           `json:"status,omitempty"`
	ProgressUpdates []ProgressUpdate `json:"progressUpdates,omitempty"`
}

// Plan is the ordered sequence of steps the service intends to (or did)
// execute.  Replaced wholesale whenever a newer plan is fetched.
type Plan struct {
	Steps []PlanStep `json:"transformationSteps"`
}

// HilArtifact returns the first client-instructions artifact referenced
// by the plan, or nil.  A paused job attaches exactly one.
func (p *Plan) HilArtifact() *DownloadArtifact {
	if p == nil {
		return nil
	}
	for _, step := range p.Steps {
		for _, update := range step.ProgressUpdates {
			if update.DownloadArtifact != nil && update.DownloadArtifact.Type == ArtifactTypeClientInstructions {
				return update.DownloadArtifact
			}
		}
	}
	return nil
}

// UploadIntent distinguishes the initial project upload from a
// human-in-the-loop payload upload.
type UploadIntent string

const (
	IntentTransformation UploadIntent = "TRANSFORMATION"
	IntentHumanLoop      UploadIntent = "HUMAN_IN_THE_LOOP"
)

// UploadTarget is a presigned upload location issued by the service.
type UploadTarget struct {
	UploadID  string `json:"uploadId"`
	URL       string `json:"uploadUrl"`
	KmsKeyArn string `json:"kmsKeyArn,omitempty"`
}

// ResumeAction is the human decision reported back to a paused job.
type ResumeAction string

const (
	ActionCompleted ResumeAction = "COMPLETED"
	ActionRejected  ResumeAction = "REJECTED"
)

// Client is the remote transformation service surface the toolkit
// consumes.  The wire format belongs to the service; callers treat these
// as black-box operations.
type Client interface {
	// CreateUploadUrl requests a presigned upload location for an
	// artifact with the given SHA-256 checksum.  jobID is only set for
	// human-in-the-loop uploads, tying the payload to the paused job.
	CreateUploadUrl(ctx context.Context, checksum string, intent UploadIntent, jobID string) (*UploadTarget, error)

	// StartTransformation submits a job against a completed upload and
	// returns the service-assigned job id.
	StartTransformation(ctx context.Context, uploadID, sourceLang, targetLang string) (string, error)

	GetTransformationJob(ctx context.Context, jobID string) (*JobDetails, error)

	GetTransformationPlan(ctx context.Context, jobID string) (*Plan, error)

	StopTransformation(ctx context.Context, jobID string) error

	// ResumeTransformation reports the human-in-the-loop decision and
	// un-pauses the job.
	ResumeTransformation(ctx context.Context, jobID string, action ResumeAction) error

	// ExportResultArchive streams the result archive for a job.  An
	// empty artifactID exports the final patch archive; a non-empty one
	// exports the referenced sub-artifact.
	ExportResultArchive(ctx context.Context, jobID, artifactID string) (io.ReadCloser, error)
}
