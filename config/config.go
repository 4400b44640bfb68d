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

package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Client configuration for the morph toolkit.  All values live in viper,
// seeded from defaults, then ~/.morph/config.yaml, then MORPH_-prefixed
// environment variables (in increasing precedence).

const (
	// Hard ceiling on the packaged artifact; the remote service rejects
	// anything larger, so we refuse to upload it in the first place.
	defaultMaxArtifactBytes = int64(1) << 30 // 1 GiB

	// Jobs can legitimately run for days; the poll deadline is a safety
	// net against an orphaned loop, not a user-facing timeout.
	defaultMaxPollDuration = 7 * 24 * time.Hour
)

func setClientDefaults() {
	viper.SetDefault("Client.Profile", "default")
	viper.SetDefault("Client.UserAgent", "morph/1")

	viper.SetDefault("Transform.SourceLanguage", "JAVA_8")
	viper.SetDefault("Transform.TargetLanguage", "JAVA_17")
	viper.SetDefault("Transform.MaxArtifactBytes", defaultMaxArtifactBytes)
	viper.SetDefault("Transform.PollInitialDelay", 5*time.Second)
	viper.SetDefault("Transform.PollInterval", 15*time.Second)
	viper.SetDefault("Transform.MaxPollDuration", defaultMaxPollDuration)
	viper.SetDefault("Transform.AuthRetryBudget", 10)
	viper.SetDefault("Transform.StatusPollRate", 1.0) // polls per second ceiling

	viper.SetDefault("Transport.MaxIdleConns", 30)
	viper.SetDefault("Transport.IdleConnTimeout", 90*time.Second)
	viper.SetDefault("Transport.TLSHandshakeTimeout", 15*time.Second)
	viper.SetDefault("Transport.ExpectContinueTimeout", 1*time.Second)
	viper.SetDefault("Transport.ResponseHeaderTimeout", 30*time.Second)
	viper.SetDefault("Transport.DialerTimeout", 10*time.Second)
	viper.SetDefault("Transport.DialerKeepAlive", 30*time.Second)
}

// InitClient initializes the client-side configuration.  Missing config
// files are not an error; a missing endpoint is only reported when the
// API client is constructed.
func InitClient() error {
	setClientDefaults()

	viper.SetEnvPrefix("MORPH")
	viper.AutomaticEnv()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	home, err := os.UserHomeDir()
	if err == nil {
		viper.AddConfigPath(filepath.Join(home, ".morph"))
	}
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return errors.Wrap(err, "failed to read morph config file")
		}
	}
	if env := os.Getenv("MORPH_CONFIG_FILE"); env != "" {
		fp, err := os.Open(env)
		if err != nil {
			return errors.Wrapf(err, "failed to open config file %s", env)
		}
		defer fp.Close()
		if err := viper.ReadConfig(fp); err != nil {
			return errors.Wrapf(err, "failed to parse config file %s", env)
		}
	}

	setupLogging()
	return nil
}

func setupLogging() {
	levelStr := viper.GetString("Logging.Level")
	if levelStr == "" {
		return
	}
	level, err := log.ParseLevel(levelStr)
	if err != nil {
		log.Warnf("Unknown logging level %q; leaving level unchanged", levelStr)
		return
	}
	log.SetLevel(level)
}

// GetEndpoint returns the transformation service endpoint.  An empty
// string indicates the client is unconfigured.
func GetEndpoint() string {
	return viper.GetString("Client.Endpoint")
}

func GetProfile() string {
	return viper.GetString("Client.Profile")
}

func GetUserAgent() string {
	return viper.GetString("Client.UserAgent")
}

// GetTokenFile returns the path of the bearer token file; empty means
// the token comes from the environment instead.
func GetTokenFile() string {
	return viper.GetString("Client.TokenFile")
}

func GetSourceLanguage() string {
	return viper.GetString("Transform.SourceLanguage")
}

func GetTargetLanguage() string {
	return viper.GetString("Transform.TargetLanguage")
}

func GetMaxArtifactBytes() int64 {
	return viper.GetInt64("Transform.MaxArtifactBytes")
}

func GetPollInitialDelay() time.Duration {
	return viper.GetDuration("Transform.PollInitialDelay")
}

func GetPollInterval() time.Duration {
	return viper.GetDuration("Transform.PollInterval")
}

func GetMaxPollDuration() time.Duration {
	return viper.GetDuration("Transform.MaxPollDuration")
}

func GetAuthRetryBudget() int {
	return viper.GetInt("Transform.AuthRetryBudget")
}

func GetStatusPollRate() float64 {
	return viper.GetFloat64("Transform.StatusPollRate")
}

// GetDataHome returns the directory holding the job store database and
// cached artifacts, creating it if needed.
func GetDataHome() (string, error) {
	if dir := viper.GetString("Client.DataHome"); dir != "" {
		return dir, os.MkdirAll(dir, 0o700)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "unable to determine home directory")
	}
	dir := filepath.Join(home, ".morph", "data")
	return dir, os.MkdirAll(dir, 0o700)
}
