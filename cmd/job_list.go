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
	"fmt"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/morph-project/morph/store"
)

var (
	jobListCmd = &cobra.Command{
		Use:     "list",
		Aliases: []string{"history"},
		Short:   "List tracked transformation jobs",
		Long: `List transformation jobs from the local job store, newest first.
With --refresh the status of each non-terminal job is re-fetched from
the service before printing.`,
		RunE: jobListMain,
	}

	jobListLimit   int
	jobListAll     bool
	jobListRefresh bool
)

func init() {
	jobListCmd.Flags().IntVarP(&jobListLimit, "limit", "l", 10, "Maximum number of jobs to show")
	jobListCmd.Flags().BoolVarP(&jobListAll, "all", "a", false, "Show jobs from all projects, not just the current one")
	jobListCmd.Flags().BoolVarP(&jobListRefresh, "refresh", "r", false, "Re-fetch the status of non-terminal jobs")
	jobListCmd.Flags().StringVarP(&transformProject, "project", "C", ".", "Project root directory")
	jobCmd.AddCommand(jobListCmd)
}

func jobListMain(cmd *cobra.Command, args []string) error {
	st, err := openJobStore()
	if err != nil {
		return errors.Wrap(err, "failed to open job store")
	}
	defer st.Close()

	projectKey := ""
	if !jobListAll {
		if projectKey, err = resolveProjectKey(); err != nil {
			return err
		}
	}

	records, err := st.ListJobs(projectKey, jobListLimit)
	if err != nil {
		return errors.Wrap(err, "failed to list jobs")
	}
	if jobListRefresh && len(records) > 0 {
		if err := refreshRecords(cmd, st, records); err != nil {
			log.Warnln("Could not refresh every job status:", err)
		}
	}

	if outputJSON {
		return printJSON(records)
	}
	if len(records) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	fmt.Printf("%-38s %-22s %-20s %s\n", "Job ID", "Status", "Created", "Languages")
	for _, rec := range records {
		fmt.Printf("%-38s %-22s %-20s %s -> %s\n",
			rec.JobID,
			rec.Status,
			rec.CreatedAt.Format(time.RFC3339),
			rec.SourceLanguage,
			rec.TargetLanguage)
	}
	return nil
}

// refreshRecords re-fetches the status of every non-terminal record,
// a few at a time, and folds the fresh statuses back into the slice and
// the store.
func refreshRecords(cmd *cobra.Command, st *store.Store, records []store.JobRecord) error {
	apiClient, _, err := newAPIClient()
	if err != nil {
		return err
	}

	egrp, ctx := errgroup.WithContext(cmd.Context())
	egrp.SetLimit(4)
	for idx := range records {
		if records[idx].Status.IsTerminal() {
			continue
		}
		idx := idx
		egrp.Go(func() error {
			details, err := apiClient.GetTransformationJob(ctx, records[idx].JobID)
			if err != nil {
				return errors.Wrapf(err, "failed to refresh job %s", records[idx].JobID)
			}
			records[idx].Status = details.Status
			records[idx].Reason = details.Reason
			if err := st.UpdateStatus(records[idx].JobID, details.Status, details.Reason); err != nil {
				log.Debugln("Could not persist refreshed status:", err)
			}
			return nil
		})
	}
	return egrp.Wait()
}
