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
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/morph-project/morph/config"
	"github.com/morph-project/morph/session"
)

var (
	transformResultCmd = &cobra.Command{
		Use:   "result <job-id>",
		Short: "Download the result patch of a finished job",
		Long: `Download the result archive of a completed (or partially completed)
job and write the patch and summary into the output directory.  Repeated
invocations serve the archive from the local cache.`,
		Args: cobra.ExactArgs(1),
		RunE: transformResultMain,
	}

	resultOutput string
)

func init() {
	transformResultCmd.Flags().StringVarP(&resultOutput, "output", "o", ".", "Directory to write the patch and summary into")
	transformCmd.AddCommand(transformResultCmd)
}

func transformResultMain(cmd *cobra.Command, args []string) error {
	jobID := args[0]
	apiClient, _, err := newAPIClient()
	if err != nil {
		return err
	}
	dataHome, err := config.GetDataHome()
	if err != nil {
		return err
	}
	handler := session.NewArtifactHandler(apiClient, filepath.Join(dataHome, "artifacts"))

	artifact, err := handler.GetResultArchive(cmd.Context(), jobID)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(resultOutput, 0755); err != nil {
		return errors.Wrapf(err, "failed to create output directory %s", resultOutput)
	}
	patchPath := filepath.Join(resultOutput, "diff.patch")
	if err := os.WriteFile(patchPath, []byte(artifact.Patch), 0644); err != nil {
		return errors.Wrap(err, "failed to write patch")
	}
	fmt.Println("Wrote", patchPath)
	if artifact.Summary != "" {
		summaryPath := filepath.Join(resultOutput, "summary.md")
		if err := os.WriteFile(summaryPath, []byte(artifact.Summary), 0644); err != nil {
			return errors.Wrap(err, "failed to write summary")
		}
		fmt.Println("Wrote", summaryPath)
	}
	return nil
}
