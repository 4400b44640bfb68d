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

	"github.com/spf13/cobra"
)

var transformStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the active transformation job",
	RunE:  transformStopMain,
}

func init() {
	transformCmd.AddCommand(transformStopCmd)
}

func transformStopMain(cmd *cobra.Command, args []string) error {
	sess, st, err := newSession(transformProject)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	rec, err := sess.TryResumeJob(ctx)
	if err != nil {
		return err
	}
	if sess.JobID() == "" {
		if rec != nil {
			fmt.Printf("Job %s already finished with status %s\n", rec.JobID, rec.Status)
			return nil
		}
		fmt.Println("No active transformation job for this project")
		return nil
	}

	stopped, err := sess.StopTransformation(ctx)
	if err != nil {
		return err
	}
	if stopped {
		fmt.Printf("Stopped job %s\n", sess.JobID())
	} else {
		fmt.Printf("Job %s had already finished\n", sess.JobID())
	}
	return nil
}
