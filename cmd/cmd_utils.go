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

package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/morph-project/morph/api"
	"github.com/morph-project/morph/client"
	"github.com/morph-project/morph/config"
	"github.com/morph-project/morph/session"
	"github.com/morph-project/morph/store"
	"github.com/morph-project/morph/token"
)

const tokenEnvVar = "MORPH_TOKEN"

func newTokenProvider() token.Provider {
	if path := config.GetTokenFile(); path != "" {
		return token.NewCachingProvider(config.GetProfile(), token.FileSource{Path: path})
	}
	return token.NewCachingProvider(config.GetProfile(), token.EnvSource{Name: tokenEnvVar})
}

func newAPIClient() (api.Client, token.Provider, error) {
	tokens := newTokenProvider()
	apiClient, err := api.NewHTTPClient(config.GetEndpoint(), tokens)
	if err != nil {
		return nil, nil, err
	}
	return apiClient, tokens, nil
}

func openJobStore() (*store.Store, error) {
	dataHome, err := config.GetDataHome()
	if err != nil {
		return nil, err
	}
	return store.NewStore(filepath.Join(dataHome, "jobs.db"))
}

// newSession wires a full session for the given project root.  The
// returned store must be closed by the caller.
func newSession(projectRoot string) (*session.Session, *store.Store, error) {
	apiClient, tokens, err := newAPIClient()
	if err != nil {
		return nil, nil, err
	}
	st, err := openJobStore()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to open job store")
	}
	sess, err := session.NewSession(apiClient, tokens, st, projectRoot)
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	return sess, st, nil
}

// uploadProgress returns a progress callback rendering a transfer bar,
// plus a finish function that must run once the upload ends.
func uploadProgress() (client.ProgressFunc, func()) {
	progress := mpb.New(mpb.WithWidth(40), mpb.WithRefreshRate(200*time.Millisecond))
	var bar *mpb.Bar
	callback := func(transferred, total int64) {
		if bar == nil {
			bar = progress.AddBar(total,
				mpb.PrependDecorators(
					decor.Name("Uploading ", decor.WCSyncSpaceR),
					decor.CountersKibiByte("% .2f / % .2f"),
				),
				mpb.AppendDecorators(decor.Percentage()),
			)
		}
		bar.SetCurrent(transferred)
	}
	finish := func() {
		if bar != nil {
			bar.SetTotal(-1, true)
		}
		progress.Wait()
	}
	return callback, finish
}

// resolveProjectKey canonicalizes the --project flag into the key used
// by the job store.
func resolveProjectKey() (string, error) {
	key, err := filepath.Abs(transformProject)
	if err != nil {
		return "", errors.Wrap(err, "failed to resolve project root")
	}
	return key, nil
}

// activeJobForProject returns the newest non-terminal job persisted for
// the project named by the --project flag, or nil.
func activeJobForProject(st *store.Store) (*store.JobRecord, error) {
	key, err := resolveProjectKey()
	if err != nil {
		return nil, err
	}
	return st.ActiveJob(key)
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal JSON")
	}
	fmt.Println(string(out))
	return nil
}

func printJobDetails(details *api.JobDetails, plan *api.Plan) {
	fmt.Printf("Job ID:  %s\n", details.JobID)
	fmt.Printf("Status:  %s\n", details.Status)
	if details.Reason != "" {
		fmt.Printf("Reason:  %s\n", details.Reason)
	}
	if details.CreatedAt != nil {
		fmt.Printf("Created: %s\n", details.CreatedAt.Format(time.RFC3339))
	}
	if details.EndedAt != nil {
		fmt.Printf("Ended:   %s\n", details.EndedAt.Format(time.RFC3339))
	}
	if plan != nil && len(plan.Steps) > 0 {
		fmt.Println("\nPlan:")
		for idx, step := range plan.Steps {
			fmt.Printf("  %d. %s", idx+1, step.Name)
			if step.Status != "" {
				fmt.Printf(" [%s]", step.Status)
			}
			fmt.Println()
			for _, update := range step.ProgressUpdates {
				fmt.Printf("     - %s (%s)\n", update.Name, update.Status)
			}
		}
	}
}
