package platform

import (
	"context"
	"errors"
	"testing"

	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMeetingURL(t *testing.T) {
	cases := []struct {
		name       string
		in         string
		wantServer string
		wantRoom   string
	}{
		{"https link", "https://meet.example.com/j/abc-def-ghi", "wss://meet.example.com", "abc-def-ghi"},
		{"plain room path", "https://meet.example.com/standup", "wss://meet.example.com", "standup"},
		{"ws scheme kept insecure", "ws://localhost:7880/testroom", "ws://localhost:7880", "testroom"},
		{"trailing slash", "https://meet.example.com/standup/", "wss://meet.example.com", "standup"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server, room, err := ParseMeetingURL(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.wantServer, server)
			assert.Equal(t, tc.wantRoom, room)
		})
	}
}

func TestParseMeetingURLRejectsBadInput(t *testing.T) {
	for _, in := range []string{"", "https://meet.example.com", "https://meet.example.com/", "not a url ://"} {
		_, _, err := ParseMeetingURL(in)
		assert.Error(t, err, "input %q", in)
	}
}

func TestCommitAfterLeaveIsRejected(t *testing.T) {
	r := NewRoom(Config{}, nil)
	require.NoError(t, r.Leave(context.Background()))

	committed := r.commit(&lksdk.Room{}, nil)
	assert.False(t, committed, "a connection established after Leave must be torn down by the caller")

	admitted, err := r.Admitted(context.Background())
	require.NoError(t, err)
	assert.False(t, admitted)
}

func TestCommitBeforeLeaveAdmits(t *testing.T) {
	r := NewRoom(Config{}, nil)
	require.True(t, r.commit(&lksdk.Room{}, nil))

	admitted, err := r.Admitted(context.Background())
	require.NoError(t, err)
	assert.True(t, admitted)
}

func TestCommitConnectErrorSurfacesViaAdmitted(t *testing.T) {
	r := NewRoom(Config{}, nil)
	require.True(t, r.commit(nil, errors.New("connect to room: unauthorized")))

	_, err := r.Admitted(context.Background())
	assert.Error(t, err)
}

func TestAdoptPresenceAfterLeaveIsRejected(t *testing.T) {
	r := NewRoom(Config{}, nil)
	require.NoError(t, r.Leave(context.Background()))

	assert.False(t, r.adoptPresence(&PresenceTrack{}),
		"presence published after Leave must be stopped, not adopted")
}
