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

// StartJobKind classifies how a job submission attempt ended.
type StartJobKind int

const (
	StartStarted StartJobKind = iota
	StartCancelledMissingDependencies
	StartCancelledZipTooLarge
	StartCancelled
	StartFailedUpload
	StartFailed
)

func (k StartJobKind) String() string {
	switch k {
	case StartStarted:
		return "started"
	case StartCancelledMissingDependencies:
		return "cancelled: missing build manifest"
	case StartCancelledZipTooLarge:
		return "cancelled: artifact exceeds size limit"
	case StartCancelled:
		return "cancelled"
	case StartFailedUpload:
		return "failed: upload"
	default:
		return "failed"
	}
}

// StartJobResult reports the outcome of CreateModernizationJob.  JobID
// is set only for StartStarted; Cause carries the underlying error for
// the failure kinds.
type StartJobResult struct {
	Kind  StartJobKind
	JobID string
	Cause error
}

// CompletionKind classifies how a full polling run ended.
type CompletionKind int

const (
	CompletedSuccessfully CompletionKind = iota
	PartiallySucceeded
	Paused
	Stopped
	Failed
	FailedInitialBuild
	ManagerDisposed
	RetryableFailure
)

func (k CompletionKind) String() string {
	switch k {
	case CompletedSuccessfully:
		return "completed"
	case PartiallySucceeded:
		return "partially completed"
	case Paused:
		return "paused"
	case Stopped:
		return "stopped"
	case FailedInitialBuild:
		return "failed initial build"
	case ManagerDisposed:
		return "disposed"
	case RetryableFailure:
		return "retryable failure"
	default:
		return "failed"
	}
}

// CompletionResult is the final word on a watched job.
type CompletionResult struct {
	Kind   CompletionKind
	Reason string
}
