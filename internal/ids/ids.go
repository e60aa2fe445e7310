// Package ids generates identifiers for cycles, scans, and subscriptions.
package ids

import "github.com/google/uuid"

// NewCycleID generates a cycle_id.
func NewCycleID() string { return "cyc_" + uuid.NewString() }

// NewScanID generates a scan_id.
func NewScanID() string { return "scn_" + uuid.NewString() }

// NewTradeID generates a trade id for paper-trade records.
func NewTradeID() string { return "trd_" + uuid.NewString() }

// NewSubscriptionID generates a websocket client / event subscription id.
func NewSubscriptionID() string { return "sub_" + uuid.NewString() }
