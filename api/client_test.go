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
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/morph-project/morph/config"
)

type staticTokens struct {
	refreshes int
}

func (s *staticTokens) Bearer(_ context.Context) (string, error) {
	return "test-bearer", nil
}

func (s *staticTokens) Refresh(_ context.Context) (string, error) {
	s.refreshes++
	return "test-bearer", nil
}

func newTestClient(t *testing.T, handler http.Handler) *HTTPClient {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	require.NoError(t, config.InitClient())
	// Let tests poll as fast as they like.
	viper.Set("Transform.StatusPollRate", 10000.0)

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewHTTPClient(server.URL, &staticTokens{})
	require.NoError(t, err)
	return client
}

func TestNewHTTPClientRequiresEndpoint(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	require.NoError(t, config.InitClient())

	_, err := NewHTTPClient("", &staticTokens{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no transformation service endpoint")
}

func TestCreateUploadUrl(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/CreateUploadUrl", r.URL.Path)
		assert.Equal(t, "Bearer test-bearer", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("X-Client-Request-Id"))

		var req createUploadUrlRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "abc123", req.ContentChecksum)
		assert.Equal(t, IntentTransformation, req.UploadIntent)

		_ = json.NewEncoder(w).Encode(UploadTarget{
			UploadID:  "upload-1",
			URL:       "https://storage.example.com/presigned",
			KmsKeyArn: "arn:aws:kms:key/1",
		})
	}))

	target, err := client.CreateUploadUrl(context.Background(), "abc123", IntentTransformation, "")
	require.NoError(t, err)
	assert.Equal(t, "upload-1", target.UploadID)
	assert.Equal(t, "https://storage.example.com/presigned", target.URL)
}

func TestStartTransformation(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/StartTransformation", r.URL.Path)
		var req startTransformationRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "upload-1", req.UploadID)
		assert.Equal(t, "JAVA_8", req.SourceLanguage)
		_ = json.NewEncoder(w).Encode(startTransformationResponse{JobID: "job-42"})
	}))

	jobID, err := client.StartTransformation(context.Background(), "upload-1", "JAVA_8", "JAVA_17")
	require.NoError(t, err)
	assert.Equal(t, "job-42", jobID)
}

func TestGetTransformationJobDefaultsUnknown(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"transformationJob": {}}`))
	}))

	details, err := client.GetTransformationJob(context.Background(), "job-42")
	require.NoError(t, err)
	assert.Equal(t, StatusUnknown, details.Status)
	assert.Equal(t, "job-42", details.JobID)
}

func TestStatusErrorMapping(t *testing.T) {
	tests := []struct {
		name  string
		code  int
		check func(t *testing.T, err error)
	}{
		{
			name: "unauthorized maps to AuthError",
			code: http.StatusForbidden,
			check: func(t *testing.T, err error) {
				assert.True(t, IsAuthError(err))
				assert.False(t, IsRetryable(err))
			},
		},
		{
			name: "throttling is retryable",
			code: http.StatusTooManyRequests,
			check: func(t *testing.T, err error) {
				assert.False(t, IsAuthError(err))
				assert.True(t, IsRetryable(err))
			},
		},
		{
			name: "server error is retryable",
			code: http.StatusServiceUnavailable,
			check: func(t *testing.T, err error) {
				assert.True(t, IsRetryable(err))
			},
		},
		{
			name: "validation error is not retryable",
			code: http.StatusBadRequest,
			check: func(t *testing.T, err error) {
				assert.False(t, IsRetryable(err))
				var svcErr *ServiceError
				require.ErrorAs(t, err, &svcErr)
				assert.Equal(t, "upload no longer exists", svcErr.Message)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
				_, _ = w.Write([]byte(`{"message": "upload no longer exists"}`))
			}))

			_, err := client.GetTransformationJob(context.Background(), "job-42")
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestTransportErrorIsRetryable(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	require.NoError(t, config.InitClient())
	viper.Set("Transform.StatusPollRate", 10000.0)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	client, err := NewHTTPClient(server.URL, &staticTokens{})
	require.NoError(t, err)
	// Nothing listening any more; the dial fails at the network level.
	server.Close()

	_, err = client.GetTransformationJob(context.Background(), "job-42")
	require.Error(t, err)
	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.True(t, IsRetryable(err))
	assert.False(t, IsAuthError(err))

	// A request the caller cancelled is not worth retrying.
	cancelled := &TransportError{Op: "GetTransformationJob", Cause: context.Canceled}
	assert.False(t, IsRetryable(cancelled))
}

func TestExportResultArchiveStreams(t *testing.T) {
	payload := []byte("zip-bytes-here")
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ExportResultArchive", r.URL.Path)
		var req exportRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "job-42", req.JobID)
		assert.Equal(t, "hil-artifact-7", req.ArtifactID)
		_, _ = w.Write(payload)
	}))

	stream, err := client.ExportResultArchive(context.Background(), "job-42", "hil-artifact-7")
	require.NoError(t, err)
	defer stream.Close()

	got, err := io.ReadAll(stream)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestPlanHilArtifact(t *testing.T) {
	plan := &Plan{
		Steps: []PlanStep{
			{ID: "1", Name: "Build"},
			{
				ID:   "2",
				Name: "Awaiting dependency decision",
				ProgressUpdates: []ProgressUpdate{
					{Name: "build output"},
					{
						Name: "dependency choice",
						DownloadArtifact: &DownloadArtifact{
							ID:   "hil-artifact-7",
							Type: ArtifactTypeClientInstructions,
						},
					},
				},
			},
		},
	}

	artifact := plan.HilArtifact()
	require.NotNil(t, artifact)
	assert.Equal(t, "hil-artifact-7", artifact.ID)

	assert.Nil(t, (&Plan{}).HilArtifact())
	var nilPlan *Plan
	assert.Nil(t, nilPlan.HilArtifact())
}
