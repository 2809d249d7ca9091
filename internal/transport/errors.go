// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind partitions fatal transport errors. Network errors are candidates for
// delivery escalation; media errors are not, a different delivery path will
// serve the same broken bytes.
type Kind string

const (
	KindNetwork Kind = "network"
	KindMedia   Kind = "media"
)

// FatalError is a transport failure that survived the retry budget.
type FatalError struct {
	Stage string // "manifest" or "segment"
	Kind  Kind
	Cause error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("transport %s failure (%s): %v", e.Stage, e.Kind, e.Cause)
}

func (e *FatalError) Unwrap() error { return e.Cause }

// statusError is a non-2xx upstream response.
type statusError struct {
	status int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.status)
}

// ClassifyError buckets a transport failure into network vs media.
func ClassifyError(err error) Kind {
	if err == nil {
		return KindNetwork
	}
	var se *statusError
	if errors.As(err, &se) {
		return KindNetwork
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindNetwork
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "playlist"),
		strings.Contains(msg, "EXTINF"),
		strings.Contains(msg, "TARGETDURATION"),
		strings.Contains(msg, "EXTM3U"):
		return KindMedia
	default:
		return KindNetwork
	}
}
