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

	"github.com/morph-project/morph/api"
	"github.com/morph-project/morph/session"
)

var (
	transformResumeCmd = &cobra.Command{
		Use:   "resume",
		Short: "Answer a paused job's dependency question and resume it",
		Long: `Upload the adjusted pom for a paused job and resume the
transformation.  With --pom the given file is used; otherwise the pom
unpacked by 'morph transform watch' is uploaded as-is.`,
		RunE: transformResumeMain,
	}

	transformRejectCmd = &cobra.Command{
		Use:   "reject",
		Short: "Decline a paused job's dependency upgrade and continue",
		RunE:  transformRejectMain,
	}

	resumePom string
)

func init() {
	transformResumeCmd.Flags().StringVar(&resumePom, "pom", "", "Path to the edited pom.xml to upload")
	transformCmd.AddCommand(transformResumeCmd)
	transformCmd.AddCommand(transformRejectCmd)
}

// pausedSession loads the session for the project and verifies the
// active job is actually paused with a pending intervention.
func pausedSession(cmd *cobra.Command) (*session.Session, func(), error) {
	sess, st, err := newSession(transformProject)
	if err != nil {
		return nil, nil, err
	}
	closer := func() { st.Close() }

	rec, err := sess.TryResumeJob(cmd.Context())
	if err != nil {
		closer()
		return nil, nil, err
	}
	if sess.JobID() == "" || rec == nil {
		closer()
		return nil, nil, errors.New("no active transformation job for this project")
	}
	if sess.Status() != api.StatusPaused {
		closer()
		return nil, nil, errors.Errorf("job %s is %s, not paused", sess.JobID(), sess.Status())
	}
	return sess, closer, nil
}

func transformResumeMain(cmd *cobra.Command, args []string) error {
	sess, closer, err := pausedSession(cmd)
	if err != nil {
		return err
	}
	defer closer()
	ctx := cmd.Context()

	artifact := sess.DownloadHilArtifact(ctx)
	if artifact == nil {
		return errors.New("could not fetch the intervention payload; run 'morph transform reject' to continue without it")
	}
	defer sess.HilCleanup()

	pomPath := resumePom
	if pomPath == "" {
		pomPath = artifact.PomPath
	}
	if err := sess.UploadHilPayload(ctx, artifact, pomPath); err != nil {
		return err
	}
	if err := sess.ResumeTransformFromHil(ctx); err != nil {
		return err
	}
	fmt.Printf("Job %s resumed; run 'morph transform watch' to follow it\n", sess.JobID())
	return nil
}

func transformRejectMain(cmd *cobra.Command, args []string) error {
	sess, closer, err := pausedSession(cmd)
	if err != nil {
		return err
	}
	defer closer()

	if err := sess.RejectHilAndContinue(cmd.Context()); err != nil {
		return err
	}
	sess.HilCleanup()
	fmt.Printf("Declined the upgrade; job %s continues without it\n", sess.JobID())
	return nil
}
