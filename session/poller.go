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
	"reflect"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/morph-project/morph/api"
	"github.com/morph-project/morph/metrics"
	"github.com/morph-project/morph/token"
)

// ErrDisposed is returned when the surrounding session was torn down
// mid-poll.  Callers treat it as an intentional stop, not a failure.
var ErrDisposed = errors.New("session was disposed while polling")

// TransitionFunc observes each status/plan change, in the order the
// single polling loop saw them.  reason is the service's explanation
// for the current status, usually empty outside failure states.
type TransitionFunc func(previous, current api.Status, plan *api.Plan, reason string)

// PollingResult is the outcome of one pollTransformationStatusAndPlan
// invocation.  Immutable once returned.
type PollingResult struct {
	Succeeded bool
	Cancelled bool
	Details   *api.JobDetails
	State     api.Status
	Plan      *api.Plan
}

// PollConfig parameterizes a polling run.
type PollConfig struct {
	SucceedOn    api.StatusSet
	FailOn       api.StatusSet
	InitialDelay time.Duration
	Interval     time.Duration
	MaxDuration  time.Duration
	// AuthRetries bounds consecutive credential-refresh attempts before
	// an authorization failure is propagated.
	AuthRetries int
}

// Poller drives the status/plan polling loop for a job.
type Poller struct {
	client api.Client
	tokens token.Provider
}

func NewPoller(client api.Client, tokens token.Provider) *Poller {
	return &Poller{client: client, tokens: tokens}
}

// Poll fetches job status (and, when available, the plan) until a status
// in SucceedOn or FailOn is reached, the cancel flag trips, MaxDuration
// elapses, or an unrecoverable error occurs.  onChange fires exactly
// once per observed status/plan change; on unexpected failure a final
// FAILED transition is reported so the caller always sees a terminal
// notification.
func (p *Poller) Poll(ctx context.Context, jobID string, cfg PollConfig, cancel *atomic.Bool, onChange TransitionFunc) (PollingResult, error) {
	result := PollingResult{State: api.StatusUnknown}
	prevStatus := api.StatusUnknown
	var prevPlan *api.Plan
	lastReported := api.StatusUnknown
	authFailures := 0
	first := true
	delayed := false
	accum := newErrorAccum()

	deadline := time.Time{}
	if cfg.MaxDuration > 0 {
		deadline = time.Now().Add(cfg.MaxDuration)
	}

	// Any failure path still owes the caller a terminal notification.
	reportFailed := func() {
		if onChange != nil && lastReported != api.StatusFailed {
			onChange(prevStatus, api.StatusFailed, prevPlan, "")
		}
	}

	for {
		if cancel != nil && cancel.Load() {
			result.Cancelled = true
			return result, nil
		}
		if !delayed {
			// The service throttles immediate re-queries after job
			// submission; give it a beat before the first fetch.
			delayed = true
			if err := sleepCtx(ctx, cfg.InitialDelay); err != nil {
				result.Cancelled = true
				return result, ErrDisposed
			}
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			reportFailed()
			return result, errors.Errorf("job %s did not finish within %s%s", jobID, cfg.MaxDuration, accum.suffix())
		}

		details, err := p.client.GetTransformationJob(ctx, jobID)
		if err != nil {
			if ctx.Err() != nil {
				result.Cancelled = true
				return result, ErrDisposed
			}
			if api.IsAuthError(err) {
				authFailures++
				if authFailures > cfg.AuthRetries {
					reportFailed()
					return result, errors.Wrapf(err, "giving up after %d credential refreshes", cfg.AuthRetries)
				}
				metrics.AuthRefreshes.Inc()
				metrics.StatusPollsTotal.WithLabelValues("auth").Inc()
				if _, refreshErr := p.tokens.Refresh(ctx); refreshErr != nil {
					log.Warnf("Credential refresh failed while polling job %s: %v", jobID, refreshErr)
				}
				if sleepErr := sleepCtx(ctx, cfg.Interval); sleepErr != nil {
					result.Cancelled = true
					return result, ErrDisposed
				}
				continue
			}
			if api.IsRetryable(err) {
				accum.add(err)
				metrics.StatusPollsTotal.WithLabelValues("transient").Inc()
				log.Debugf("Transient error polling job %s: %v", jobID, err)
				if sleepErr := sleepCtx(ctx, cfg.Interval); sleepErr != nil {
					result.Cancelled = true
					return result, ErrDisposed
				}
				continue
			}
			reportFailed()
			return result, errors.Wrapf(err, "status poll for job %s failed%s", jobID, accum.suffix())
		}
		authFailures = 0
		metrics.StatusPollsTotal.WithLabelValues("ok").Inc()

		status := details.Status
		plan := prevPlan
		if api.PlanCapableStates.Contains(status) {
			// Best effort: a plan fetch hiccup must not fail the poll.
			if newPlan, planErr := p.client.GetTransformationPlan(ctx, jobID); planErr == nil {
				plan = newPlan
			} else {
				log.Debugf("Could not fetch plan for job %s: %v", jobID, planErr)
			}
		}

		if status != prevStatus || !reflect.DeepEqual(plan, prevPlan) {
			if onChange != nil {
				onChange(prevStatus, status, plan, details.Reason)
			}
			lastReported = status
		}
		result.Details = details
		result.State = status
		result.Plan = plan

		if cfg.FailOn.Contains(status) {
			result.Succeeded = false
			return result, nil
		}
		// The very first observation may predate our own side effects
		// (e.g. the stale PAUSED right after a HIL resume); never let it
		// satisfy the succeed condition.
		if !first && cfg.SucceedOn.Contains(status) {
			result.Succeeded = true
			return result, nil
		}
		prevStatus, prevPlan = status, plan
		first = false

		if err := sleepCtx(ctx, cfg.Interval); err != nil {
			result.Cancelled = true
			return result, ErrDisposed
		}
	}
}

// sleepCtx sleeps for d unless the context ends first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
