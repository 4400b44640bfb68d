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
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// PackageOptions controls how a project subtree is packaged for upload.
type PackageOptions struct {
	// RequiredManifest must exist at the project root (e.g. "pom.xml");
	// its absence is a recoverable MissingManifestError.
	RequiredManifest string

	// MaxBytes caps the size of the produced zip.  Zero means no cap.
	MaxBytes int64

	// ExcludeDirs are directory names skipped during the walk (build
	// output, VCS metadata).
	ExcludeDirs []string

	// Cancel is polled between files; when it returns true packaging
	// stops with a CancelledError.
	Cancel func() bool
}

var defaultExcludeDirs = []string{".git", ".idea", "target", "build", "node_modules"}

// PackageProject zips the project under root into a fresh temp file and
// returns its path and size.  The caller owns the returned file and is
// expected to delete it once uploaded.
func PackageProject(root string, opts PackageOptions) (zipPath string, size int64, err error) {
	if opts.RequiredManifest != "" {
		manifestPath := filepath.Join(root, opts.RequiredManifest)
		if _, statErr := os.Stat(manifestPath); statErr != nil {
			return "", 0, &MissingManifestError{Manifest: opts.RequiredManifest}
		}
	}
	excluded := opts.ExcludeDirs
	if excluded == nil {
		excluded = defaultExcludeDirs
	}

	zipPath = filepath.Join(os.TempDir(), "morph-upload-"+uuid.NewString()+".zip")
	fp, err := os.Create(zipPath)
	if err != nil {
		return "", 0, errors.Wrap(err, "failed to create upload archive")
	}
	defer func() {
		if closeErr := fp.Close(); closeErr != nil && err == nil {
			err = errors.Wrap(closeErr, "failed to finalize upload archive")
		}
		if err != nil {
			os.Remove(zipPath)
			zipPath = ""
		}
	}()

	writer := zip.NewWriter(fp)
	fileCount := 0
	err = filepath.WalkDir(root, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if opts.Cancel != nil && opts.Cancel() {
			return &CancelledError{Op: "packaging"}
		}
		if entry.IsDir() {
			for _, name := range excluded {
				if entry.Name() == name {
					return filepath.SkipDir
				}
			}
			return nil
		}
		if !entry.Type().IsRegular() {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		entryWriter, zipErr := writer.Create(filepath.ToSlash(rel))
		if zipErr != nil {
			return zipErr
		}
		src, openErr := os.Open(path)
		if openErr != nil {
			return openErr
		}
		defer src.Close()
		if _, copyErr := io.Copy(entryWriter, src); copyErr != nil {
			return copyErr
		}
		fileCount++
		return nil
	})
	if err == nil {
		err = writer.Close()
	} else {
		writer.Close()
	}
	if err != nil {
		var cancelled *CancelledError
		if errors.As(err, &cancelled) {
			return "", 0, cancelled
		}
		return "", 0, errors.Wrapf(err, "failed to package project at %s", root)
	}

	info, err := fp.Stat()
	if err != nil {
		return "", 0, errors.Wrap(err, "failed to stat upload archive")
	}
	size = info.Size()
	if opts.MaxBytes > 0 && size > opts.MaxBytes {
		err = &ArtifactTooLargeError{Size: size, Limit: opts.MaxBytes}
		return "", 0, err
	}
	log.Debugf("Packaged %d files from %s into %s (%d bytes)", fileCount, root, zipPath, size)
	return zipPath, size, nil
}

// ExtractZip unpacks archive into destDir, refusing entries that would
// escape the destination.
func ExtractZip(archive, destDir string) error {
	reader, err := zip.OpenReader(archive)
	if err != nil {
		return errors.Wrapf(err, "failed to open archive %s", archive)
	}
	defer reader.Close()

	for _, entry := range reader.File {
		cleaned := filepath.Clean(entry.Name)
		if strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
			return errors.Errorf("archive entry %s escapes the extraction directory", entry.Name)
		}
		target := filepath.Join(destDir, cleaned)
		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return errors.Wrapf(err, "failed to create directory %s", target)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return errors.Wrapf(err, "failed to create directory for %s", target)
		}
		if err := extractEntry(entry, target); err != nil {
			return err
		}
	}
	return nil
}

func extractEntry(entry *zip.File, target string) error {
	src, err := entry.Open()
	if err != nil {
		return errors.Wrapf(err, "failed to read archive entry %s", entry.Name)
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, entry.Mode())
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", target)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return errors.Wrapf(err, "failed to extract %s", entry.Name)
	}
	return nil
}
