package capture

import (
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4"

	"github.com/Agasper/WebRTCTranscribe/internal/logging"
)

// InterceptCallbacks wraps a RoomCallback with the mixer's track observation.
// The contract is transparent: every inner callback is forwarded unchanged,
// and the only added side effect is connecting newly subscribed remote audio
// tracks into the mixing graph. Pass nil to observe without forwarding.
func (m *Mixer) InterceptCallbacks(inner *lksdk.RoomCallback) *lksdk.RoomCallback {
	if inner == nil {
		inner = &lksdk.RoomCallback{}
	}
	out := &lksdk.RoomCallback{
		OnDisconnected: inner.OnDisconnected,
		OnParticipantConnected: func(p *lksdk.RemoteParticipant) {
			m.post(event{kind: evPeerConnected})
			if inner.OnParticipantConnected != nil {
				inner.OnParticipantConnected(p)
			}
		},
		OnParticipantDisconnected: func(p *lksdk.RemoteParticipant) {
			m.post(event{kind: evPeerDisconnected})
			if inner.OnParticipantDisconnected != nil {
				inner.OnParticipantDisconnected(p)
			}
		},
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackSubscribed: func(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				if track.Kind() == webrtc.RTPCodecTypeAudio {
					m.AttachTrack(pub.SID(), pub.Source().String(), track)
				}
				if inner.ParticipantCallback.OnTrackSubscribed != nil {
					inner.ParticipantCallback.OnTrackSubscribed(track, pub, rp)
				}
			},
			OnTrackUnsubscribed: func(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				if track.Kind() == webrtc.RTPCodecTypeAudio {
					m.DetachTrack(pub.SID())
				}
				if inner.ParticipantCallback.OnTrackUnsubscribed != nil {
					inner.ParticipantCallback.OnTrackUnsubscribed(track, pub, rp)
				}
			},
			OnTrackMuted: func(pub lksdk.TrackPublication, p lksdk.Participant) {
				m.post(event{kind: evTrackMuted, trackID: pub.SID()})
				if inner.ParticipantCallback.OnTrackMuted != nil {
					inner.ParticipantCallback.OnTrackMuted(pub, p)
				}
			},
			OnTrackUnmuted: func(pub lksdk.TrackPublication, p lksdk.Participant) {
				m.post(event{kind: evTrackUnmuted, trackID: pub.SID()})
				if inner.ParticipantCallback.OnTrackUnmuted != nil {
					inner.ParticipantCallback.OnTrackUnmuted(pub, p)
				}
			},
		},
	}
	return out
}

// AttachTrack connects one remote audio track into the mixing graph. It is
// idempotent by track id and returns false when the id is already connected
// or the reader could not be created. A failed attach never disturbs the
// graph or any other track.
func (m *Mixer) AttachTrack(trackID, sourceKind string, track *webrtc.TrackRemote) bool {
	m.readersMu.Lock()
	if _, exists := m.readers[trackID]; exists {
		m.readersMu.Unlock()
		logging.Debug(logging.CategoryCapture, "track already connected trackID=%s", trackID)
		return false
	}
	r, err := newTrackReader(trackID, m)
	if err != nil {
		m.readersMu.Unlock()
		logging.Error(logging.CategoryCapture, "failed to connect track trackID=%s: %v", trackID, err)
		return false
	}
	m.readers[trackID] = r
	m.readersMu.Unlock()

	m.post(event{kind: evTrackConnected, trackID: trackID, sourceKind: sourceKind})
	r.Start(track)
	return true
}

// DetachTrack stops the reader for a track id and records the end of its
// handle. The mixing graph and output stream stay up.
func (m *Mixer) DetachTrack(trackID string) {
	m.readersMu.Lock()
	r, exists := m.readers[trackID]
	if exists {
		delete(m.readers, trackID)
	}
	m.readersMu.Unlock()

	if !exists {
		return
	}
	r.Stop()
	m.post(event{kind: evTrackEnded, trackID: trackID})
}

// CaptureRoomTracks scans already-published media for audio tracks that were
// not observed through the callback proxy and connects them. Already-tracked
// ids are never double-connected. Returns the number of tracks attached.
func (m *Mixer) CaptureRoomTracks(room *lksdk.Room) int {
	attached := 0
	for _, p := range room.GetRemoteParticipants() {
		for _, pub := range p.TrackPublications() {
			if pub.Kind() != lksdk.TrackKindAudio {
				continue
			}
			remotePub, ok := pub.(*lksdk.RemoteTrackPublication)
			if !ok {
				continue
			}
			if !remotePub.IsSubscribed() {
				if err := remotePub.SetSubscribed(true); err != nil {
					logging.Warning(logging.CategoryCapture, "subscribe failed trackID=%s: %v", remotePub.SID(), err)
					continue
				}
			}
			track := remotePub.Track()
			if track == nil {
				continue
			}
			remoteTrack, ok := track.(*webrtc.TrackRemote)
			if !ok {
				continue
			}
			if m.AttachTrack(remotePub.SID(), livekit.TrackSource_MICROPHONE.String(), remoteTrack) {
				attached++
			}
		}
	}
	if attached > 0 {
		logging.Info(logging.CategoryCapture, "captured %d pre-existing tracks", attached)
	}
	return attached
}
