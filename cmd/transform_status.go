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
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/morph-project/morph/api"
)

var transformStatusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Show the current status of a transformation job",
	Long: `Show the status and plan of a transformation job.  Without a job id
the active job for the project is used.`,
	Args: cobra.MaximumNArgs(1),
	RunE: transformStatusMain,
}

func init() {
	transformCmd.AddCommand(transformStatusCmd)
}

func transformStatusMain(cmd *cobra.Command, args []string) error {
	apiClient, _, err := newAPIClient()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	jobID := ""
	if len(args) > 0 {
		jobID = args[0]
	} else {
		jobID, err = activeJobID()
		if err != nil {
			return err
		}
	}

	details, err := apiClient.GetTransformationJob(ctx, jobID)
	if err != nil {
		return errors.Wrapf(err, "failed to fetch status of job %s", jobID)
	}
	var plan *api.Plan
	if api.PlanCapableStates.Contains(details.Status) {
		if plan, err = apiClient.GetTransformationPlan(ctx, jobID); err != nil {
			plan = nil
		}
	}

	if outputJSON {
		return printJSON(struct {
			*api.JobDetails
			Plan *api.Plan `json:"plan,omitempty"`
		}{details, plan})
	}
	printJobDetails(details, plan)
	return nil
}

// activeJobID resolves the newest non-terminal persisted job for the
// project.
func activeJobID() (string, error) {
	st, err := openJobStore()
	if err != nil {
		return "", err
	}
	defer st.Close()

	rec, err := activeJobForProject(st)
	if err != nil {
		return "", err
	}
	if rec == nil {
		return "", errors.New("no active transformation job for this project; pass a job id")
	}
	return rec.JobID, nil
}
