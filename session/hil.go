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
	"context"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/morph-project/morph/api"
	"github.com/morph-project/morph/client"
	"github.com/morph-project/morph/config"
)

const hilManifestEntry = "manifest.json"

// DownloadHilArtifact fetches and unpacks the human-in-the-loop payload
// attached to the currently paused job.  A nil result means the download
// or parse failed; the pause itself remains valid and the caller should
// fall back to rejecting the intervention.
func (s *Session) DownloadHilArtifact(ctx context.Context) *client.HilArtifact {
	s.mu.Lock()
	jobID, artifactID := s.jobID, s.hilArtifactID
	s.mu.Unlock()
	if jobID == "" || artifactID == "" {
		log.Warn("No paused job with a pending intervention artifact")
		return nil
	}

	dataHome, err := config.GetDataHome()
	if err != nil {
		log.Warnf("Cannot resolve data directory for HIL artifact: %v", err)
		return nil
	}
	workspace := filepath.Join(dataHome, "hil", jobID)
	if err := os.MkdirAll(workspace, 0700); err != nil {
		log.Warnf("Cannot create HIL workspace %s: %v", workspace, err)
		return nil
	}

	stream, err := s.client.ExportResultArchive(ctx, jobID, artifactID)
	if err != nil {
		log.Warnf("Failed to export HIL artifact %s for job %s: %v", artifactID, jobID, err)
		return nil
	}
	defer stream.Close()

	zipPath := filepath.Join(workspace, "payload.zip")
	if _, err := client.WriteArchive(stream, zipPath); err != nil {
		log.Warnf("Failed to write HIL archive for job %s: %v", jobID, err)
		return nil
	}
	if err := client.ExtractZip(zipPath, workspace); err != nil {
		log.Warnf("Failed to unpack HIL archive for job %s: %v", jobID, err)
		return nil
	}
	artifact, err := client.ParseHilArtifact(workspace)
	if err != nil {
		log.Warnf("Failed to parse HIL artifact for job %s: %v", jobID, err)
		return nil
	}

	s.mu.Lock()
	s.hilWorkspace = workspace
	s.mu.Unlock()
	return artifact
}

// UploadHilPayload zips the human-adjusted pom together with the
// original manifest and uploads it against the paused job.
func (s *Session) UploadHilPayload(ctx context.Context, artifact *client.HilArtifact, pomPath string) error {
	s.mu.Lock()
	jobID, workspace := s.jobID, s.hilWorkspace
	s.mu.Unlock()
	if jobID == "" {
		return errors.New("no job in progress")
	}

	payloadPath := filepath.Join(workspace, "hil-upload.zip")
	entries := map[string]string{
		hilManifestEntry: filepath.Join(workspace, hilManifestEntry),
		path.Join(artifact.Manifest.PomFolder, "pom.xml"): pomPath,
	}
	if err := buildPayloadZip(payloadPath, entries); err != nil {
		return errors.Wrap(err, "failed to build HIL payload")
	}
	defer os.Remove(payloadPath)

	checksum, err := client.ComputeChecksum(payloadPath)
	if err != nil {
		return err
	}
	target, err := s.client.CreateUploadUrl(ctx, checksum, api.IntentHumanLoop, jobID)
	if err != nil {
		return errors.Wrap(err, "failed to create HIL upload URL")
	}
	if err := client.UploadArtifact(ctx, target.URL, payloadPath, checksum, target.KmsKeyArn, s.shouldStop.Load, nil); err != nil {
		return errors.Wrap(err, "failed to upload HIL payload")
	}
	return nil
}

// ResumeTransformFromHil reports the intervention as completed and lets
// the job continue.
func (s *Session) ResumeTransformFromHil(ctx context.Context) error {
	jobID := s.JobID()
	if jobID == "" {
		return errors.New("no job in progress")
	}
	if err := s.client.ResumeTransformation(ctx, jobID, api.ActionCompleted); err != nil {
		return errors.Wrapf(err, "failed to resume job %s", jobID)
	}
	return nil
}

// RejectHilAndContinue declines the intervention; the service carries on
// without the suggested dependency upgrade.
func (s *Session) RejectHilAndContinue(ctx context.Context) error {
	jobID := s.JobID()
	if jobID == "" {
		return errors.New("no job in progress")
	}
	if err := s.client.ResumeTransformation(ctx, jobID, api.ActionRejected); err != nil {
		return errors.Wrapf(err, "failed to reject intervention for job %s", jobID)
	}
	return nil
}

// HilCleanup removes the downloaded intervention workspace and clears
// the in-memory references.  Failures are logged, never propagated; the
// references are dropped regardless so a stale artifact cannot be acted
// on twice.
func (s *Session) HilCleanup() {
	s.mu.Lock()
	workspace := s.hilWorkspace
	s.hilWorkspace = ""
	s.hilArtifactID = ""
	s.mu.Unlock()

	if workspace == "" {
		return
	}
	if err := os.RemoveAll(workspace); err != nil {
		log.Warnf("Could not remove HIL workspace %s: %v", workspace, err)
	}
}

// buildPayloadZip writes a zip at zipPath whose archive entries map to
// the given source files.
func buildPayloadZip(zipPath string, entries map[string]string) (err error) {
	out, err := os.Create(zipPath)
	if err != nil {
		return errors.Wrap(err, "failed to create payload zip")
	}
	defer func() {
		if closeErr := out.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		if err != nil {
			os.Remove(zipPath)
		}
	}()

	writer := zip.NewWriter(out)
	for name, src := range entries {
		in, openErr := os.Open(src)
		if openErr != nil {
			writer.Close()
			return errors.Wrapf(openErr, "failed to read %s", src)
		}
		entry, createErr := writer.Create(name)
		if createErr != nil {
			in.Close()
			writer.Close()
			return createErr
		}
		if _, copyErr := io.Copy(entry, in); copyErr != nil {
			in.Close()
			writer.Close()
			return copyErr
		}
		in.Close()
	}
	return writer.Close()
}
