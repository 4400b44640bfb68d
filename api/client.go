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
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/morph-project/morph/config"
	"github.com/morph-project/morph/token"
)

// HTTPClient implements Client over the service's HTTP+JSON interface.
// Status polls are rate limited client-side so a misconfigured poll
// interval cannot hammer the service.
type HTTPClient struct {
	endpoint  *url.URL
	http      *http.Client
	tokens    token.Provider
	limiter   *rate.Limiter
	userAgent string
}

func NewHTTPClient(endpoint string, tokens token.Provider) (*HTTPClient, error) {
	if endpoint == "" {
		endpoint = config.GetEndpoint()
	}
	if endpoint == "" {
		return nil, errors.New("no transformation service endpoint configured; set Client.Endpoint")
	}
	endpointUrl, err := url.Parse(endpoint)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid transformation service endpoint %s", endpoint)
	}
	pollRate := config.GetStatusPollRate()
	if pollRate <= 0 {
		pollRate = 1.0
	}
	return &HTTPClient{
		endpoint:  endpointUrl,
		http:      &http.Client{Transport: config.GetTransport()},
		tokens:    tokens,
		limiter:   rate.NewLimiter(rate.Limit(pollRate), 1),
		userAgent: config.GetUserAgent(),
	}, nil
}

type createUploadUrlRequest struct {
	ContentChecksum   string       `json:"contentChecksum"`
	ChecksumAlgorithm string       `json:"contentChecksumType"`
	UploadIntent      UploadIntent `json:"uploadIntent"`
	JobID             string       `json:"jobId,omitempty"`
}

func (c *HTTPClient) CreateUploadUrl(ctx context.Context, checksum string, intent UploadIntent, jobID string) (*UploadTarget, error) {
	req := createUploadUrlRequest{
		ContentChecksum:   checksum,
		ChecksumAlgorithm: "SHA_256",
		UploadIntent:      intent,
		JobID:             jobID,
	}
	target := UploadTarget{}
	if err := c.do(ctx, "CreateUploadUrl", &req, &target); err != nil {
		return nil, err
	}
	if target.UploadID == "" || target.URL == "" {
		return nil, errors.New("CreateUploadUrl: service response missing upload id or url")
	}
	return &target, nil
}

type startTransformationRequest struct {
	UploadID       string `json:"uploadId"`
	SourceLanguage string `json:"sourceLanguage"`
	TargetLanguage string `json:"targetLanguage"`
}

type startTransformationResponse struct {
	JobID string `json:"transformationJobId"`
}

func (c *HTTPClient) StartTransformation(ctx context.Context, uploadID, sourceLang, targetLang string) (string, error) {
	req := startTransformationRequest{
		UploadID:       uploadID,
		SourceLanguage: sourceLang,
		TargetLanguage: targetLang,
	}
	resp := startTransformationResponse{}
	if err := c.do(ctx, "StartTransformation", &req, &resp); err != nil {
		return "", err
	}
	if resp.JobID == "" {
		return "", errors.New("StartTransformation: service response missing job id")
	}
	return resp.JobID, nil
}

type jobRequest struct {
	JobID string `json:"transformationJobId"`
}

type getJobResponse struct {
	Job JobDetails `json:"transformationJob"`
}

func (c *HTTPClient) GetTransformationJob(ctx context.Context, jobID string) (*JobDetails, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, "GetTransformationJob: interrupted while rate limited")
	}
	resp := getJobResponse{}
	if err := c.do(ctx, "GetTransformationJob", &jobRequest{JobID: jobID}, &resp); err != nil {
		return nil, err
	}
	if resp.Job.Status == "" {
		resp.Job.Status = StatusUnknown
	}
	if resp.Job.JobID == "" {
		resp.Job.JobID = jobID
	}
	return &resp.Job, nil
}

type getPlanResponse struct {
	Plan Plan `json:"transformationPlan"`
}

func (c *HTTPClient) GetTransformationPlan(ctx context.Context, jobID string) (*Plan, error) {
	resp := getPlanResponse{}
	if err := c.do(ctx, "GetTransformationPlan", &jobRequest{JobID: jobID}, &resp); err != nil {
		return nil, err
	}
	return &resp.Plan, nil
}

func (c *HTTPClient) StopTransformation(ctx context.Context, jobID string) error {
	return c.do(ctx, "StopTransformation", &jobRequest{JobID: jobID}, nil)
}

type resumeRequest struct {
	JobID      string       `json:"transformationJobId"`
	UserAction ResumeAction `json:"userActionStatus"`
}

func (c *HTTPClient) ResumeTransformation(ctx context.Context, jobID string, action ResumeAction) error {
	return c.do(ctx, "ResumeTransformation", &resumeRequest{JobID: jobID, UserAction: action}, nil)
}

type exportRequest struct {
	JobID      string `json:"transformationJobId"`
	ArtifactID string `json:"downloadArtifactId,omitempty"`
}

func (c *HTTPClient) ExportResultArchive(ctx context.Context, jobID, artifactID string) (io.ReadCloser, error) {
	body, err := json.Marshal(&exportRequest{JobID: jobID, ArtifactID: artifactID})
	if err != nil {
		return nil, errors.Wrap(err, "ExportResultArchive: failed to encode request")
	}
	req, err := c.newRequest(ctx, "ExportResultArchive", body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/octet-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "ExportResultArchive", Cause: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, c.statusError("ExportResultArchive", resp)
	}
	return resp.Body, nil
}

// do runs one JSON round trip against the named operation.  A nil out
// skips response decoding.
func (c *HTTPClient) do(ctx context.Context, op string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return errors.Wrapf(err, "%s: failed to encode request", op)
	}
	req, err := c.newRequest(ctx, op, body)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Op: op, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.statusError(op, resp)
	}
	if out == nil {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "%s: failed to decode response", op)
	}
	return nil
}

func (c *HTTPClient) newRequest(ctx context.Context, op string, body []byte) (*http.Request, error) {
	opUrl := c.endpoint.JoinPath(op)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, opUrl.String(), bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrapf(err, "%s: failed to build request", op)
	}
	bearer, err := c.tokens.Bearer(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: no bearer credential available", op)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Client-Request-Id", uuid.NewString())
	return req, nil
}

func (c *HTTPClient) statusError(op string, resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &AuthError{Op: op}
	case http.StatusTooManyRequests:
		return &ThrottleError{Op: op}
	}
	message := ""
	if body, err := io.ReadAll(io.LimitReader(resp.Body, 4096)); err == nil {
		message = serviceMessage(body)
	}
	log.Debugf("%s returned HTTP %d: %s", op, resp.StatusCode, message)
	return &ServiceError{Op: op, StatusCode: resp.StatusCode, Message: message}
}

// serviceMessage pulls the service's error message out of a JSON error
// body, falling back to the raw body.
func serviceMessage(body []byte) string {
	var decoded struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &decoded); err == nil && decoded.Message != "" {
		return decoded.Message
	}
	return string(bytes.TrimSpace(body))
}
