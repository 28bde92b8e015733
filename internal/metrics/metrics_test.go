package metrics

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freePort(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func TestRegistry_ServeExposesMetricsEndpoint(t *testing.T) {
	r := New()
	r.Heartbeat.Inc()
	r.OpenOrders.Set(4)

	addr := freePort(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- r.Serve(ctx, addr) }()

	var resp *http.Response
	var err error
	require.Eventually(t, func() bool {
		resp, err = http.Get(fmt.Sprintf("http://%s/metrics", addr))
		return err == nil
	}, time.Second, 10*time.Millisecond)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "traderd_heartbeat_total")
	assert.Contains(t, string(body), "traderd_open_orders")

	cancel()
	require.NoError(t, <-done)
}

func TestRegistry_RunHeartbeatIncrementsCounter(t *testing.T) {
	r := New()
	ctx, cancel := context.WithCancel(context.Background())

	go r.RunHeartbeat(ctx, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(r.Heartbeat) > 0
	}, time.Second, time.Millisecond)

	cancel()
}
