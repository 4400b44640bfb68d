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
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/morph-project/morph/config"
)

var (
	cfgFile    string
	outputJSON bool
	debug      bool

	rootCmd = &cobra.Command{
		Use:   "morph",
		Short: "Modernize codebases with remote transformation jobs",
		Long: `The morph tool packages a project, submits it to a remote code
transformation service, and tracks the job through planning, transformation,
and any human-in-the-loop pauses until the result patch is ready.`,
		SilenceUsage:      true,
		PersistentPreRunE: initClientConfig,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to the morph configuration file")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output results in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
}

func initClientConfig(cmd *cobra.Command, args []string) error {
	if cfgFile != "" {
		if err := os.Setenv("MORPH_CONFIG_FILE", cfgFile); err != nil {
			return err
		}
	}
	if err := config.InitClient(); err != nil {
		return errors.Wrap(err, "failed to initialize config")
	}
	if debug {
		log.SetLevel(log.DebugLevel)
	}
	return nil
}

func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Errorln("Fatal error:", err)
		return err
	}
	return nil
}
