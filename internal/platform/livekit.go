// Package platform joins LiveKit rooms on behalf of the session controller.
// It owns the meeting URL mapping, access tokens, the room connection and
// participant accounting; audio itself flows through the capture package via
// intercepted room callbacks.
package platform

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/livekit/protocol/auth"
	lksdk "github.com/livekit/server-sdk-go/v2"

	"github.com/Agasper/WebRTCTranscribe/internal/capture"
	"github.com/Agasper/WebRTCTranscribe/internal/logging"
)

// Config holds the credentials and identity for joining rooms.
type Config struct {
	// ServerURL is the LiveKit signalling endpoint (wss://...). When empty it
	// is derived from the meeting URL host.
	ServerURL string
	APIKey    string
	APISecret string
	// DisplayName is the participant name other attendees see.
	DisplayName string
	// PublishPresence publishes a silent placeholder track so the bot shows
	// up as an active participant instead of a silent lurker.
	PublishPresence bool
	// TokenTTL bounds token validity.
	TokenTTL time.Duration
}

// Room is a live connection to one meeting.
type Room struct {
	cfg   Config
	mixer *capture.Mixer

	mu        sync.Mutex
	room      *lksdk.Room
	admitted  bool
	ended     bool
	left      bool
	connErr   error
	connected chan struct{}
	presence  *PresenceTrack
}

// NewRoom builds an unconnected room handle over the given mixer.
func NewRoom(cfg Config, mixer *capture.Mixer) *Room {
	if cfg.TokenTTL == 0 {
		cfg.TokenTTL = 6 * time.Hour
	}
	return &Room{cfg: cfg, mixer: mixer, connected: make(chan struct{})}
}

// ParseMeetingURL extracts the room name and signalling endpoint from a
// meeting link. The last path segment names the room; https schemes map to
// wss on the same host.
func ParseMeetingURL(raw string) (serverURL, roomName string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("parse meeting url: %w", err)
	}
	roomName = strings.Trim(u.Path, "/")
	if idx := strings.LastIndex(roomName, "/"); idx >= 0 {
		roomName = roomName[idx+1:]
	}
	if roomName == "" || u.Host == "" {
		return "", "", fmt.Errorf("parse meeting url %q: missing host or room name", raw)
	}
	scheme := "wss"
	if u.Scheme == "http" || u.Scheme == "ws" {
		scheme = "ws"
	}
	return scheme + "://" + u.Host, roomName, nil
}

// Navigate connects to the meeting and begins capturing audio tracks. The
// connection itself runs asynchronously; admission is observed via Admitted.
func (r *Room) Navigate(ctx context.Context, meetingURL string) error {
	serverURL, roomName, err := ParseMeetingURL(meetingURL)
	if err != nil {
		return err
	}
	if r.cfg.ServerURL != "" {
		serverURL = r.cfg.ServerURL
	}

	token, identity, err := r.buildToken(roomName)
	if err != nil {
		return fmt.Errorf("build access token: %w", err)
	}

	logging.Info(logging.CategoryPlatform, "joining room=%s server=%s identity=%s", roomName, serverURL, identity)

	callbacks := r.mixer.InterceptCallbacks(&lksdk.RoomCallback{
		OnDisconnected: func() {
			logging.Info(logging.CategoryPlatform, "disconnected from room")
			r.mu.Lock()
			r.ended = true
			r.mu.Unlock()
		},
	})

	go func() {
		room, err := lksdk.ConnectToRoomWithToken(serverURL, token, callbacks, lksdk.WithAutoSubscribe(true))
		if err != nil {
			r.commit(nil, fmt.Errorf("connect to room: %w", err))
			return
		}
		if !r.commit(room, nil) {
			// Leave already ran; the session is over before the connection
			// completed.
			room.Disconnect()
			logging.Info(logging.CategoryPlatform, "connection completed after leave, disconnected")
			return
		}

		logging.Info(logging.CategoryPlatform, "connected to room room=%s identity=%s", room.Name(), room.LocalParticipant.Identity())

		// Tracks published before we joined never fire the subscribe
		// callback, so sweep the roster once.
		attached := r.mixer.CaptureRoomTracks(room)
		if attached > 0 {
			logging.Info(logging.CategoryPlatform, "attached %d pre-existing audio tracks", attached)
		}

		if r.cfg.PublishPresence {
			presence, err := NewPresenceTrack(room)
			if err != nil {
				logging.Warning(logging.CategoryPlatform, "failed to publish presence track: %v", err)
			} else if !r.adoptPresence(presence) {
				presence.Stop()
			}
		}
	}()
	return nil
}

// commit records the outcome of the asynchronous connect. It reports false
// when Leave already ran, in which case the caller owns the teardown of the
// freshly established connection.
func (r *Room) commit(room *lksdk.Room, err error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	defer close(r.connected)
	if err != nil {
		r.connErr = err
		return true
	}
	if r.left {
		return false
	}
	r.room = room
	r.admitted = true
	return true
}

// adoptPresence hands the presence track to the room unless Leave got there
// first.
func (r *Room) adoptPresence(p *PresenceTrack) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.left || r.room == nil {
		return false
	}
	r.presence = p
	return true
}

// Admitted reports whether the room connection completed. A failed
// connection surfaces here as an error.
func (r *Room) Admitted(ctx context.Context) (bool, error) {
	select {
	case <-r.connected:
	default:
		return false, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.connErr != nil {
		return false, r.connErr
	}
	return r.admitted, nil
}

// PeerCount counts remote human participants. Server-side agents are not
// peers for the alone-detection logic.
func (r *Room) PeerCount(ctx context.Context) (int, error) {
	r.mu.Lock()
	room := r.room
	r.mu.Unlock()
	if room == nil {
		return 0, nil
	}
	count := 0
	for _, p := range room.GetRemoteParticipants() {
		if strings.HasPrefix(p.Identity(), "agent-") {
			continue
		}
		count++
	}
	return count, nil
}

// Ended reports whether the platform tore the meeting down.
func (r *Room) Ended(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ended, nil
}

// Leave disconnects from the room. Safe to call regardless of connection
// state.
func (r *Room) Leave(ctx context.Context) error {
	r.mu.Lock()
	r.left = true
	room := r.room
	presence := r.presence
	r.room = nil
	r.presence = nil
	r.mu.Unlock()

	if presence != nil {
		presence.Stop()
	}
	if room != nil {
		room.Disconnect()
		logging.Info(logging.CategoryPlatform, "left room")
	}
	return nil
}

func (r *Room) buildToken(roomName string) (token, identity string, err error) {
	identity = "scribe-" + uuid.NewString()[:8]
	at := auth.NewAccessToken(r.cfg.APIKey, r.cfg.APISecret)
	grant := &auth.VideoGrant{
		RoomJoin: true,
		Room:     roomName,
	}
	at.AddGrant(grant).
		SetIdentity(identity).
		SetName(r.cfg.DisplayName).
		SetValidFor(r.cfg.TokenTTL)
	token, err = at.ToJWT()
	return token, identity, err
}
