package excon

import (
	"strconv"
	"time"

	"github.com/wireclient/excon/pkg/datum"
	"github.com/wireclient/excon/pkg/errors"
)

// defaultRetryableStatus resolves the spec's retryable-status Open Question:
// only the classic transient gateway statuses trigger an idempotent retry.
// Anything else that fails Expects is surfaced to the caller immediately.
var defaultRetryableStatus = map[int]bool{502: true, 503: true, 504: true}

// runWithRetry drives d's middleware stack, retrying transport-class errors
// and the default retryable statuses while d.Idempotent is true and
// RetriesRemaining is above 1 — RetryLimit counts attempts including the
// first, so RetriesRemaining<=1 means this is the last allowed attempt
// (§4.6, §7).
func runWithRetry(d *datum.Datum) error {
	for {
		err := d.Stack.RequestCall(d)
		if err == nil {
			return nil
		}
		if !d.Idempotent || d.RetriesRemaining <= 1 {
			return err
		}
		if !errors.IsTransportClass(err) && !errors.IsRetryableStatus(err, defaultRetryableStatus) {
			return err
		}
		d.RetriesRemaining--
	}
}

func deadlineFrom(d time.Duration) time.Time {
	return time.Now().Add(d)
}

func portInt(p string) (int, error) {
	return strconv.Atoi(p)
}
