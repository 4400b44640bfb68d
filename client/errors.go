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

package client

import (
	"fmt"
	"net/http"

	"github.com/dustin/go-humanize"
)

type (
	// ConnectionSetupError is returned when the connection to the remote
	// storage endpoint cannot be established at all.
	ConnectionSetupError struct {
		URL string
		Err error
	}

	// PresignedURLExpiredError is returned when the storage endpoint
	// rejects the presigned URL; the caller should request a fresh one.
	PresignedURLExpiredError struct {
		URL string
	}

	// StatusCodeError indicates the storage endpoint returned a non-2xx
	// code that is not a presigned-URL rejection.
	StatusCodeError int

	// CancelledError is returned when the caller's cancel flag stopped
	// an operation; it is an intentional stop, never surfaced as a
	// failure.
	CancelledError struct {
		Op string
	}

	// MissingManifestError is returned by the packager when the project
	// lacks a required build manifest.  Recoverable: the user can add
	// one and retry.
	MissingManifestError struct {
		Manifest string
	}

	// ArtifactTooLargeError is returned when the packaged artifact
	// exceeds the configured ceiling.
	ArtifactTooLargeError struct {
		Size  int64
		Limit int64
	}
)

func (e *ConnectionSetupError) Error() string {
	if e.Err != nil {
		if len(e.URL) > 0 {
			return "failed connection setup to " + e.URL + ": " + e.Err.Error()
		}
		return "failed connection setup: " + e.Err.Error()
	}
	return "connection to remote storage endpoint failed"
}

func (e *ConnectionSetupError) Unwrap() error {
	return e.Err
}

func (e *PresignedURLExpiredError) Error() string {
	return "presigned upload URL was rejected (HTTP 403); it has likely expired"
}

func (e *StatusCodeError) Error() string {
	return fmt.Sprintf("storage endpoint returned status code %d (%s)",
		int(*e), http.StatusText(int(*e)))
}

func (e *CancelledError) Error() string {
	return e.Op + " was cancelled"
}

func (e *MissingManifestError) Error() string {
	return fmt.Sprintf("project is missing required build file %s", e.Manifest)
}

func (e *ArtifactTooLargeError) Error() string {
	return fmt.Sprintf("packaged artifact is %s, exceeding the %s limit",
		humanize.IBytes(uint64(e.Size)), humanize.IBytes(uint64(e.Limit)))
}
