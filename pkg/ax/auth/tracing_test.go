/*
SPDX-FileCopyrightText: 2026 The ax Authors

SPDX-License-Identifier: Apache-2.0
*/

package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestPollRecordsSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))

	clock := newFakeClock()
	server := newTokenServer(t, clock, pending(), oauthError("access_denied"))
	poller := newTestPoller(t, server, clock)

	outcome, err := poller.Poll(context.Background(), newTestSession(clock, 5*time.Second, time.Minute))
	require.NoError(t, err)
	assert.Equal(t, StateDenied, outcome.State)

	var found bool
	for _, span := range recorder.Ended() {
		if span.Name() != "auth.Poll" {
			continue
		}
		found = true
		assert.Contains(t, span.Attributes(), attribute.String("ax.outcome", "denied"))
		assert.Contains(t, span.Attributes(), attribute.Int("ax.attempts", 2))
	}
	assert.True(t, found, "auth.Poll span not recorded")
}
