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

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StatusPollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "morph_status_polls_total",
		Help: "Number of job status polls issued, by outcome",
	}, []string{"outcome"})

	JobsTerminal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "morph_jobs_terminal_total",
		Help: "Number of jobs observed reaching a terminal status",
	}, []string{"status"})

	BytesUploaded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "morph_uploaded_bytes_total",
		Help: "Total bytes uploaded to presigned storage URLs",
	})

	BytesDownloaded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "morph_downloaded_bytes_total",
		Help: "Total bytes downloaded from result archive exports",
	})

	AuthRefreshes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "morph_auth_refreshes_total",
		Help: "Number of bearer credential refreshes triggered by auth failures",
	})
)
