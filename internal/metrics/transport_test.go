// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestIncSubtitleReassert(t *testing.T) {
	before := testutil.ToFloat64(SubtitleReasserts.WithLabelValues("navigation"))
	IncSubtitleReassert("navigation")
	IncSubtitleReassert("navigation")
	assert.Equal(t, before+2, testutil.ToFloat64(SubtitleReasserts.WithLabelValues("navigation")))
}

func TestIncTransportCounters(t *testing.T) {
	before := testutil.ToFloat64(TransportRetries.WithLabelValues("segment"))
	IncTransportRetry("segment")
	assert.Equal(t, before+1, testutil.ToFloat64(TransportRetries.WithLabelValues("segment")))

	before = testutil.ToFloat64(TransportFatal.WithLabelValues("network"))
	IncTransportFatal("network")
	assert.Equal(t, before+1, testutil.ToFloat64(TransportFatal.WithLabelValues("network")))
}
