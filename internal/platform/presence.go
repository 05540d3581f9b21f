package platform

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	lkmedia "github.com/livekit/server-sdk-go/v2/pkg/media"

	"github.com/Agasper/WebRTCTranscribe/internal/logging"
)

// PresenceTrack publishes a silent PCM track so meeting UIs render the bot as
// an active participant. Some platforms eject attendees that never publish
// any media.
type PresenceTrack struct {
	track  *lkmedia.PCMLocalTrack
	pub    *lksdk.LocalTrackPublication
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPresenceTrack publishes the placeholder track and starts feeding it.
func NewPresenceTrack(room *lksdk.Room) (*PresenceTrack, error) {
	track, err := lkmedia.NewPCMLocalTrack(48000, 1, nil)
	if err != nil {
		return nil, fmt.Errorf("create PCM track: %w", err)
	}

	pub, err := room.LocalParticipant.PublishTrack(track, &lksdk.TrackPublicationOptions{
		Name:   "presence-audio",
		Source: livekit.TrackSource_MICROPHONE,
	})
	if err != nil {
		track.Close()
		return nil, fmt.Errorf("publish track: %w", err)
	}
	pub.SetMuted(false)

	ctx, cancel := context.WithCancel(context.Background())
	p := &PresenceTrack{track: track, pub: pub, ctx: ctx, cancel: cancel}
	p.wg.Add(1)
	go p.feed()

	logging.Info(logging.CategoryPlatform, "published presence track")
	return p, nil
}

// feed writes 20ms silence frames at wall-clock pace.
func (p *PresenceTrack) feed() {
	defer p.wg.Done()

	silence := make([]int16, 960)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			if err := p.track.WriteSample(silence); err != nil {
				logging.Debug(logging.CategoryPlatform, "presence track write failed, stopping: %v", err)
				return
			}
		}
	}
}

// Stop unpublishes and tears down the track.
func (p *PresenceTrack) Stop() {
	p.cancel()
	p.wg.Wait()
	p.track.Close()
	logging.Info(logging.CategoryPlatform, "stopped presence track")
}
