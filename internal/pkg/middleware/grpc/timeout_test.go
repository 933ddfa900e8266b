package grpc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
)

func deadlineOf(t *testing.T, interceptor grpc.UnaryClientInterceptor, ctx context.Context) (time.Time, bool) {
	t.Helper()

	var deadline time.Time
	var ok bool
	err := interceptor(ctx, "/grpc.health.v1.Health/Check", nil, nil, nil,
		func(ctx context.Context, _ string, _, _ any, _ *grpc.ClientConn, _ ...grpc.CallOption) error {
			deadline, ok = ctx.Deadline()
			return nil
		})
	require.NoError(t, err)
	return deadline, ok
}

func TestUnaryTimeoutInterceptor(t *testing.T) {
	start := time.Now()
	deadline, ok := deadlineOf(t, UnaryTimeoutInterceptor(2*time.Second), context.Background())
	require.True(t, ok)
	assert.WithinDuration(t, start.Add(2*time.Second), deadline, time.Second)

	deadline, ok = deadlineOf(t, UnaryTimeoutInterceptor(0), context.Background())
	require.True(t, ok)
	assert.WithinDuration(t, start.Add(DefaultRPCTimeout), deadline, time.Second)
}

func TestUnaryTimeoutInterceptorKeepsCallerDeadline(t *testing.T) {
	want := time.Now().Add(time.Hour)
	ctx, cancel := context.WithDeadline(context.Background(), want)
	defer cancel()

	deadline, ok := deadlineOf(t, UnaryTimeoutInterceptor(time.Second), ctx)
	require.True(t, ok)
	assert.Equal(t, want, deadline)
}
