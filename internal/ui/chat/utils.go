// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"time"
)

// expiryFormats covers the timestamp shapes the backend has been seen
// emitting for subscription expiry.
var expiryFormats = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseExpiry(s string) (time.Time, error) {
	for _, layout := range expiryFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized expiry timestamp %q", s)
}
