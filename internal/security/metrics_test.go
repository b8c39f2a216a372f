// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	m.rateLimitDecision(true)
	m.sessionTimedOut()
	m.tokenRefresh(false)
	m.csrfRejected()
	m.uploadRejected("image")
	m.decryptFailed()
}

func TestMetrics_RateLimiter(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	rl := NewRateLimiter(1, time.Minute, WithRateLimitMetrics(m))

	rl.Allow("a")
	rl.Allow("a")
	rl.Allow("a")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.rateLimitDecisions.WithLabelValues("allowed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.rateLimitDecisions.WithLabelValues("denied")))
}

func TestMetrics_CSRFAndUploads(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	c := NewCSRFProtection(WithCSRFMetrics(m))
	c.ValidateToken("nobody", "nothing")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.csrfRejections))

	s := NewInputSanitizer(WithSanitizerMetrics(m))
	path := filepath.Join(t.TempDir(), "empty.png")
	require.NoError(t, os.WriteFile(path, nil, 0600))
	require.Error(t, s.ValidateFileUpload(path, UploadImage))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.uploadRejections.WithLabelValues("image")))
}

func TestMetrics_Registered(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.sessionTimedOut()

	count, err := testutil.GatherAndCount(reg, "sectoolkit_session_timeouts_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
