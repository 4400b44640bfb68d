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
	"github.com/spf13/cobra"
)

var (
	transformCmd = &cobra.Command{
		Use:   "transform",
		Short: "Manage code transformation jobs",
		Long: `Manage remote code transformation jobs: submit a project, watch its
progress, answer human-in-the-loop pauses, and fetch the result patch.`,
	}

	transformProject string
)

func init() {
	transformCmd.PersistentFlags().StringVarP(&transformProject, "project", "C", ".", "Project root directory")
	rootCmd.AddCommand(transformCmd)
}
