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
	"context"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"net/http"
	"os"
	"syscall"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/morph-project/morph/config"
	"github.com/morph-project/morph/metrics"
)

// ProgressFunc receives upload/download progress: bytes moved so far and
// the total when known (-1 otherwise).
type ProgressFunc func(transferred, total int64)

// ComputeChecksum returns the base64-encoded SHA-256 digest of the file,
// the form the service expects in CreateUploadUrl.
func ComputeChecksum(path string) (string, error) {
	fp, err := os.Open(path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to open %s for checksumming", path)
	}
	defer fp.Close()

	digest := sha256.New()
	if _, err := io.Copy(digest, fp); err != nil {
		return "", errors.Wrapf(err, "failed to checksum %s", path)
	}
	return base64.StdEncoding.EncodeToString(digest.Sum(nil)), nil
}

// progressReader wraps the upload body, reporting progress and aborting
// when the cancel flag trips.  Returning an error from Read is the
// native abort path for an in-flight PUT.
type progressReader struct {
	inner       io.Reader
	transferred int64
	total       int64
	cancel      func() bool
	progress    ProgressFunc
}

func (r *progressReader) Read(p []byte) (int, error) {
	if r.cancel != nil && r.cancel() {
		return 0, &CancelledError{Op: "upload"}
	}
	n, err := r.inner.Read(p)
	r.transferred += int64(n)
	if r.progress != nil && n > 0 {
		r.progress(r.transferred, r.total)
	}
	return n, err
}

// UploadArtifact PUTs the file at path to a presigned URL.  Transport
// failures come back as the typed taxonomy (connection setup, expired
// URL, status code, cancellation) so callers can give cause-specific
// remediation.
func UploadArtifact(ctx context.Context, presignedUrl, path, checksum, kmsKeyArn string, cancel func() bool, progress ProgressFunc) error {
	fp, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "failed to open artifact %s", path)
	}
	defer fp.Close()
	info, err := fp.Stat()
	if err != nil {
		return errors.Wrapf(err, "failed to stat artifact %s", path)
	}

	reader := &progressReader{inner: fp, total: info.Size(), cancel: cancel, progress: progress}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, presignedUrl, reader)
	if err != nil {
		return errors.Wrap(err, "failed to build upload request")
	}
	req.ContentLength = info.Size()
	req.Header.Set("Content-Type", "application/zip")
	req.Header.Set("x-amz-checksum-sha256", checksum)
	if kmsKeyArn != "" {
		req.Header.Set("x-amz-server-side-encryption", "aws:kms")
		req.Header.Set("x-amz-server-side-encryption-aws-kms-key-id", kmsKeyArn)
	}

	httpClient := &http.Client{Transport: config.GetTransport()}
	resp, err := httpClient.Do(req)
	if err != nil {
		var cancelled *CancelledError
		if errors.As(err, &cancelled) {
			return cancelled
		}
		if errors.Is(err, syscall.ECONNREFUSED) ||
			errors.Is(err, syscall.ECONNRESET) ||
			errors.Is(err, syscall.ECONNABORTED) {
			return &ConnectionSetupError{URL: presignedUrl, Err: err}
		}
		return errors.Wrap(err, "artifact upload failed")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusForbidden {
		return &PresignedURLExpiredError{URL: presignedUrl}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		sce := StatusCodeError(resp.StatusCode)
		return &sce
	}
	metrics.BytesUploaded.Add(float64(info.Size()))
	log.Debugf("Uploaded %d bytes from %s", info.Size(), path)
	return nil
}

// WriteArchive drains the chunked export stream into destPath, returning
// the byte count for accounting.  A partial write removes the file so a
// failed download is never mistaken for a cached one.
func WriteArchive(stream io.Reader, destPath string) (written int64, err error) {
	fp, err := os.Create(destPath)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to create archive %s", destPath)
	}
	defer func() {
		if closeErr := fp.Close(); closeErr != nil && err == nil {
			err = errors.Wrapf(closeErr, "failed to finalize archive %s", destPath)
		}
		if err != nil {
			os.Remove(destPath)
		}
	}()

	written, err = io.Copy(fp, stream)
	if err != nil {
		return 0, errors.Wrap(err, "result archive stream ended prematurely")
	}
	metrics.BytesDownloaded.Add(float64(written))
	return written, nil
}
