package sshwait_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannel_RequestPty(t *testing.T) {
	t.Parallel()

	session, _, _ := newTestSession(t)
	authenticate(t, session)

	ctx := context.Background()

	channel, err := session.ChannelSession(ctx)
	require.NoError(t, err)

	require.NoError(t, channel.RequestPty(ctx, "xterm-256color", 80, 24))

	err = channel.RequestPty(ctx, "", 80, 24)
	require.Error(t, err)
}

func TestChannel_ExecOnNonSessionChannelFails(t *testing.T) {
	t.Parallel()

	session, _, _ := newTestSession(t)
	authenticate(t, session)

	ctx := context.Background()

	channel, err := session.ChannelDirectTCPIP(ctx, "10.0.0.7", 443, nil)
	require.NoError(t, err)

	err = channel.Exec(ctx, "ls")
	require.Error(t, err)
	assert.ErrorIs(t, session.LastError(), err)
}

func TestChannel_ReadRetriesAcrossWouldBlock(t *testing.T) {
	t.Parallel()

	session, engine, stream := newTestSession(t)
	authenticate(t, session)

	engine.SetExecOutput("cat /etc/hostname", []byte("web-1\n"))

	ctx := context.Background()

	channel, err := session.ChannelSession(ctx)
	require.NoError(t, err)
	require.NoError(t, channel.Exec(ctx, "cat /etc/hostname"))

	engine.Block("channel-read", 2)
	before := stream.Waits()

	output, err := channel.ReadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, "web-1\n", string(output))
	assert.Equal(t, 2, stream.Waits()-before)
}

func TestChannel_WriteAfterEOFFails(t *testing.T) {
	t.Parallel()

	session, _, _ := newTestSession(t)
	authenticate(t, session)

	ctx := context.Background()

	channel, err := session.ChannelSession(ctx)
	require.NoError(t, err)

	require.NoError(t, channel.SendEOF(ctx))

	_, err = channel.Write(ctx, []byte("too late"))
	require.Error(t, err)
}
