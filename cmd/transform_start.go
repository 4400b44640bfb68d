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

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/morph-project/morph/session"
)

var (
	transformStartCmd = &cobra.Command{
		Use:   "start",
		Short: "Package the project and start a transformation job",
		Long: `Package the project into an artifact, upload it, and submit a
transformation job.  With --watch the command keeps running and follows
the job until it pauses or finishes.`,
		RunE: transformStartMain,
	}

	startWatch  bool
	startSource string
	startTarget string
)

func init() {
	transformStartCmd.Flags().BoolVarP(&startWatch, "watch", "w", false, "Keep polling until the job pauses or finishes")
	transformStartCmd.Flags().StringVar(&startSource, "source", "", "Source language level (e.g. JAVA_8)")
	transformStartCmd.Flags().StringVar(&startTarget, "target", "", "Target language level (e.g. JAVA_17)")
	transformCmd.AddCommand(transformStartCmd)
}

func transformStartMain(cmd *cobra.Command, args []string) error {
	if startSource != "" {
		viper.Set("Transform.SourceLanguage", startSource)
	}
	if startTarget != "" {
		viper.Set("Transform.TargetLanguage", startTarget)
	}

	sess, st, err := newSession(transformProject)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	if rec, err := sess.TryResumeJob(ctx); err == nil && rec != nil && !rec.Status.IsTerminal() {
		return errors.Errorf("job %s is still %s for this project; stop it before starting another", rec.JobID, rec.Status)
	}

	progress, finish := uploadProgress()
	sess.SetProgress(progress)
	result := sess.CreateModernizationJob(ctx)
	finish()

	switch result.Kind {
	case session.StartStarted:
		fmt.Printf("Started transformation job %s\n", result.JobID)
	case session.StartCancelledMissingDependencies:
		return errors.New("project has no build manifest (pom.xml); morph needs a buildable Maven project")
	case session.StartCancelledZipTooLarge:
		return errors.Wrap(result.Cause, "project artifact is too large to upload")
	case session.StartCancelled:
		fmt.Println("Job submission cancelled")
		return nil
	case session.StartFailedUpload:
		return errors.Wrap(result.Cause, "artifact upload failed")
	default:
		return errors.Wrap(result.Cause, "failed to start transformation job")
	}

	if !startWatch {
		fmt.Println("Run 'morph transform watch' to follow its progress")
		return nil
	}
	return watchJob(ctx, sess)
}
