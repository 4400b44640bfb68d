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
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/morph-project/morph/api"
	"github.com/morph-project/morph/client"
)

// ErrDownloadInProgress is returned when a result download is requested
// while another one for the same handler is still running.
var ErrDownloadInProgress = errors.New("a result download is already in progress")

// ArtifactHandler caches downloaded result archives per job so repeated
// requests for the same result do not hit the service again.
type ArtifactHandler struct {
	client      api.Client
	dir         string
	downloading *atomic.Bool

	mu     sync.Mutex
	cached map[string]string
}

func NewArtifactHandler(apiClient api.Client, dir string) *ArtifactHandler {
	return &ArtifactHandler{
		client:      apiClient,
		dir:         dir,
		downloading: atomic.NewBool(false),
		cached:      make(map[string]string),
	}
}

// GetResultArchive returns the parsed result archive for jobID,
// downloading it first if it is not already cached on disk.  Concurrent
// calls for any job while a download is in flight get
// ErrDownloadInProgress instead of piling up.
func (h *ArtifactHandler) GetResultArchive(ctx context.Context, jobID string) (*client.PatchArtifact, error) {
	if cached := h.cachedPath(jobID); cached != "" {
		artifact, err := client.ParsePatchArtifact(cached)
		if err == nil {
			log.Debugf("Serving cached result archive for job %s", jobID)
			return artifact, nil
		}
		// The cached file went bad; drop it and re-download.
		log.Warnf("Cached result archive for job %s is unreadable, re-downloading: %v", jobID, err)
		h.evict(jobID)
	}

	if !h.downloading.CompareAndSwap(false, true) {
		return nil, ErrDownloadInProgress
	}
	defer h.downloading.Store(false)

	if err := os.MkdirAll(h.dir, 0700); err != nil {
		return nil, errors.Wrap(err, "failed to create artifact cache directory")
	}
	stream, err := h.client.ExportResultArchive(ctx, jobID, "")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to export result archive for job %s", jobID)
	}
	defer stream.Close()

	zipPath := filepath.Join(h.dir, jobID+".zip")
	if _, err := client.WriteArchive(stream, zipPath); err != nil {
		return nil, errors.Wrapf(err, "failed to store result archive for job %s", jobID)
	}
	artifact, err := client.ParsePatchArtifact(zipPath)
	if err != nil {
		os.Remove(zipPath)
		return nil, errors.Wrapf(err, "result archive for job %s is malformed", jobID)
	}

	h.mu.Lock()
	h.cached[jobID] = zipPath
	h.mu.Unlock()
	return artifact, nil
}

// ArchivePath returns the on-disk location of a cached result archive,
// or "" if none is cached.
func (h *ArtifactHandler) ArchivePath(jobID string) string {
	return h.cachedPath(jobID)
}

// cachedPath returns the cached zip path for jobID, verifying the file
// still exists on disk.
func (h *ArtifactHandler) cachedPath(jobID string) string {
	h.mu.Lock()
	path, ok := h.cached[jobID]
	h.mu.Unlock()
	if !ok {
		return ""
	}
	if _, err := os.Stat(path); err != nil {
		h.evict(jobID)
		return ""
	}
	return path
}

func (h *ArtifactHandler) evict(jobID string) {
	h.mu.Lock()
	delete(h.cached, jobID)
	h.mu.Unlock()
}
