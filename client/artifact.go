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
	"archive/zip"
	"encoding/json"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/pkg/errors"
)

// Result archive layout produced by the service.
const (
	patchEntry   = "patch/diff.patch"
	summaryEntry = "summary/summary.md"
)

// PatchArtifact is the parsed content of a transformation result
// archive: a unified diff plus a human-readable summary.
type PatchArtifact struct {
	Patch   string
	Summary string
}

// ParsePatchArtifact reads the patch and summary out of a downloaded
// result archive.  The zip bytes on disk are the durable representation;
// this is re-invoked on every display rather than caching the parse.
func ParsePatchArtifact(zipPath string) (*PatchArtifact, error) {
	reader, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open result archive %s", zipPath)
	}
	defer reader.Close()

	artifact := PatchArtifact{}
	for _, entry := range reader.File {
		switch path.Clean(entry.Name) {
		case patchEntry:
			artifact.Patch, err = readZipEntry(entry)
		case summaryEntry:
			artifact.Summary, err = readZipEntry(entry)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read %s from result archive", entry.Name)
		}
	}
	if artifact.Patch == "" {
		return nil, errors.Errorf("result archive %s contains no %s entry", zipPath, patchEntry)
	}
	return &artifact, nil
}

func readZipEntry(entry *zip.File) (string, error) {
	src, err := entry.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()
	contents, err := io.ReadAll(src)
	if err != nil {
		return "", err
	}
	return string(contents), nil
}

// HilManifest describes the paused job's dependency question: which
// module and dependency the service could not resolve on its own.
type HilManifest struct {
	Capability    string `json:"hilCapability"`
	PomGroupID    string `json:"pomGroupId"`
	PomArtifactID string `json:"pomArtifactId"`
	SourceVersion string `json:"sourcePomVersion"`
	PomFolder     string `json:"pomFolderName"`
}

// DependencyReport lists the candidate versions the user may pick from.
type DependencyReport struct {
	CurrentVersion string   `json:"currentVersion"`
	LatestVersion  string   `json:"latestVersion"`
	MajorVersions  []string `json:"majorVersions"`
	MinorVersions  []string `json:"minorVersions"`
}

// HilArtifact is the unpacked human-in-the-loop sub-archive.
type HilArtifact struct {
	Manifest HilManifest
	Report   DependencyReport
	// PomPath points at the pom the user (or their IDE) edits with the
	// chosen version before the payload is re-uploaded.
	PomPath string
}

// ParseHilArtifact reads an extracted HIL sub-archive directory.
func ParseHilArtifact(dir string) (*HilArtifact, error) {
	artifact := HilArtifact{}
	if err := readJSONFile(filepath.Join(dir, "manifest.json"), &artifact.Manifest); err != nil {
		return nil, errors.Wrap(err, "HIL artifact is missing a readable manifest")
	}
	// The report is advisory; a missing one leaves the struct empty.
	reportPath := filepath.Join(dir, "dependencies.json")
	if _, err := os.Stat(reportPath); err == nil {
		if err := readJSONFile(reportPath, &artifact.Report); err != nil {
			return nil, errors.Wrap(err, "HIL dependency report is unreadable")
		}
	}
	if artifact.Manifest.PomFolder != "" {
		artifact.PomPath = filepath.Join(dir, artifact.Manifest.PomFolder, "pom.xml")
	}
	return &artifact, nil
}

func readJSONFile(path string, out any) error {
	contents, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(contents, out)
}
