package main

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type slowCloser struct {
	delay  time.Duration
	closed atomic.Bool
}

func (c *slowCloser) Close(context.Context) error {
	time.Sleep(c.delay)
	c.closed.Store(true)
	return nil
}

func TestServeWaitsForServiceClose(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	svc := &slowCloser{delay: 100 * time.Millisecond}
	server := &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler()}
	metricsServer := &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler()}

	result := make(chan error, 1)
	go func() {
		result <- serve(ctx, zaptest.NewLogger(t), server, metricsServer, svc, 5*time.Second)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-result:
		require.NoError(t, err)
		assert.True(t, svc.closed.Load(), "serve returned before the service was closed")
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after shutdown")
	}
}
