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
	"context"
	"fmt"
	"net/http"

	"github.com/oklog/run"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/morph-project/morph/session"
)

var (
	transformWatchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Follow the active transformation job for this project",
		Long: `Poll the active transformation job until it pauses for human input
or reaches a terminal state.  Interrupting the watch stops the remote job.`,
		RunE: transformWatchMain,
	}

	watchMetricsAddr string
)

func init() {
	transformWatchCmd.Flags().StringVar(&watchMetricsAddr, "metrics-addr", "", "Expose Prometheus metrics on this address while watching")
	transformCmd.AddCommand(transformWatchCmd)
}

func transformWatchMain(cmd *cobra.Command, args []string) error {
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
			fmt.Printf("Last job %s already finished with status %s\n", rec.JobID, rec.Status)
			return nil
		}
		return errors.New("no active transformation job for this project")
	}
	fmt.Printf("Watching job %s\n", sess.JobID())
	return watchJob(ctx, sess)
}

// watchJob runs the polling loop alongside the signal handler (and the
// optional metrics listener) until one of them exits.
func watchJob(ctx context.Context, sess *session.Session) error {
	var group run.Group
	var completion session.CompletionResult

	pollCtx, cancelPoll := context.WithCancel(ctx)
	group.Add(func() error {
		var err error
		completion, err = sess.PollUntilJobCompletion(pollCtx)
		if err != nil && !errors.Is(err, session.ErrDisposed) {
			// reportCompletion translates the failure for the user.
			log.Debugln("Polling ended with error:", err)
		}
		return nil
	}, func(error) {
		cancelPoll()
	})

	group.Add(func() error {
		<-pollCtx.Done()
		return nil
	}, func(error) {
		// The surrounding context ends on SIGINT/SIGTERM; ask the
		// service to stop the job before unwinding.
		if ctx.Err() != nil {
			stopped, stopErr := sess.StopTransformation(context.Background())
			if stopErr != nil {
				log.Warnln("Failed to stop remote job:", stopErr)
			} else if stopped {
				fmt.Println("\nRemote job stopped")
			}
		}
		cancelPoll()
	})

	if watchMetricsAddr != "" {
		server := &http.Server{Addr: watchMetricsAddr, Handler: promhttp.Handler()}
		group.Add(func() error {
			log.Infoln("Serving metrics on", watchMetricsAddr)
			err := server.ListenAndServe()
			if err == http.ErrServerClosed {
				return nil
			}
			return err
		}, func(error) {
			server.Close()
		})
	}

	if err := group.Run(); err != nil {
		return err
	}
	return reportCompletion(sess, completion)
}

func reportCompletion(sess *session.Session, completion session.CompletionResult) error {
	switch completion.Kind {
	case session.CompletedSuccessfully:
		fmt.Println("Transformation completed successfully")
		fmt.Printf("Run 'morph transform result %s' to fetch the patch\n", sess.JobID())
	case session.PartiallySucceeded:
		fmt.Println("Transformation partially completed; some files could not be converted")
		fmt.Printf("Run 'morph transform result %s' to fetch the partial patch\n", sess.JobID())
	case session.Paused:
		fmt.Println("Transformation paused: the service needs a dependency decision")
		printHilGuidance(sess)
	case session.Stopped:
		fmt.Println("Transformation stopped")
	case session.FailedInitialBuild:
		fmt.Println("Transformation failed: the uploaded project did not build on the service")
		if completion.Reason != "" {
			fmt.Println("Reason:", completion.Reason)
		}
		fmt.Println("Verify the project builds locally before retrying")
	case session.ManagerDisposed:
		// Interrupted; nothing more to report.
	case session.RetryableFailure:
		return errors.Errorf("lost track of the job: %s; it may still be running, re-run 'morph transform watch'", completion.Reason)
	default:
		msg := "transformation failed"
		if completion.Reason != "" {
			msg += ": " + completion.Reason
		}
		return errors.New(msg)
	}
	return nil
}

func printHilGuidance(sess *session.Session) {
	artifact := sess.DownloadHilArtifact(context.Background())
	if artifact == nil {
		fmt.Println("Could not fetch the intervention details; run 'morph transform reject' to continue without the upgrade")
		return
	}
	fmt.Printf("Dependency in question: %s:%s (currently %s)\n",
		artifact.Manifest.PomGroupID, artifact.Manifest.PomArtifactID, artifact.Manifest.SourceVersion)
	if artifact.Report.LatestVersion != "" {
		fmt.Printf("Latest available version: %s\n", artifact.Report.LatestVersion)
	}
	fmt.Printf("Edit %s with the version to use, then run 'morph transform resume'\n", artifact.PomPath)
	fmt.Println("Or run 'morph transform reject' to continue without the upgrade")
}
