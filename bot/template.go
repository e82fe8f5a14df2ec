// Copyright 2026 The Termuxbot Authors
// SPDX-License-Identifier: Apache-2.0

package bot

import (
	"strings"
	"time"
)

// renderTemplate substitutes the message-template placeholders:
// {time}, {date}, and {day} from the given local time, plus any extra
// pairs (e.g., {occupant} and {room} in the per-user welcome).
// Unknown placeholders pass through untouched.
func renderTemplate(template string, localTime time.Time, extra map[string]string) string {
	pairs := []string{
		"{time}", localTime.Format("15:04"),
		"{date}", localTime.Format("02 Jan 2006"),
		"{day}", localTime.Format("Monday"),
	}
	for key, value := range extra {
		pairs = append(pairs, "{"+key+"}", value)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}
