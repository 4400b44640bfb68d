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

package session

import (
	"strings"
	"time"
)

type timestampedError struct {
	err       error
	timestamp time.Time
}

// errorAccum collects transient errors seen during a polling run so the
// final error message can show what went wrong along the way.
type errorAccum struct {
	errors []timestampedError
}

func newErrorAccum() *errorAccum {
	return &errorAccum{}
}

func (a *errorAccum) add(err error) {
	a.errors = append(a.errors, timestampedError{err: err, timestamp: time.Now()})
}

func (a *errorAccum) empty() bool {
	return len(a.errors) == 0
}

// suffix renders the accumulated errors as a parenthesized clause
// suitable for appending to a terminal error message, newest first.
func (a *errorAccum) suffix() string {
	if a.empty() {
		return ""
	}
	var b strings.Builder
	b.WriteString(" (transient errors along the way: ")
	for idx := len(a.errors) - 1; idx >= 0; idx-- {
		te := a.errors[idx]
		b.WriteString(te.timestamp.Format("15:04:05"))
		b.WriteString(": ")
		b.WriteString(te.err.Error())
		if idx > 0 {
			b.WriteString("; ")
		}
	}
	b.WriteString(")")
	return b.String()
}
