// Package capture implements the media capture context: it observes remote
// audio tracks, merges them into one mixed PCM stream, and records the stream
// as fixed-cadence chunks sealed into a single blob on stop.
//
// The package has two halves. Track readers (track.go) run one goroutine per
// subscribed track and feed decoded PCM into a bounded event queue. A single
// consumer loop (this file) owns all mix state; nothing outside the loop
// touches it. Control calls (Start/Stop/Status/HasAudio) cross into the loop
// as blocking request/response commands with an explicit timeout, so the
// orchestrating side never shares mutable memory with the capture side.
package capture

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Agasper/WebRTCTranscribe/internal/logging"
)

// Defaults for Config fields left zero.
const (
	DefaultSampleRate  = 16000
	DefaultCadence     = time.Second
	DefaultQueueSize   = 512
	DefaultCallTimeout = 10 * time.Second
)

// ErrUnavailable is returned when the capture loop cannot be reached: the
// boundary call timed out or the mixer is closed.
var ErrUnavailable = errors.New("capture: mixer unavailable")

// ErrNoSupportedEncoding is returned by Start when no encoding from the
// preference list is supported.
var ErrNoSupportedEncoding = errors.New("capture: no supported encoding")

// Config controls mixer behavior.
type Config struct {
	// SampleRate of the mixed output stream in Hz.
	SampleRate int
	// Cadence between emitted chunks.
	Cadence time.Duration
	// QueueSize bounds the capture event queue.
	QueueSize int
	// CallTimeout bounds each boundary call into the capture loop.
	CallTimeout time.Duration
	// Encodings is the ordered encoding preference list. Nil selects the
	// package default.
	Encodings []Encoding
}

func (c Config) withDefaults() Config {
	if c.SampleRate == 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.Cadence == 0 {
		c.Cadence = DefaultCadence
	}
	if c.QueueSize == 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.CallTimeout == 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	if c.Encodings == nil {
		c.Encodings = DefaultEncodings
	}
	return c
}

// Blob is the sealed recording produced by Stop.
type Blob struct {
	Bytes      []byte
	MimeType   string
	Size       int
	ChunkCount int
}

// TrackHandle is the bookkeeping record for one observed audio track.
type TrackHandle struct {
	ID          string
	SourceKind  string
	ConnectedAt time.Time
	EndedAt     *time.Time
	Muted       bool
}

// Status is a read-only snapshot of the capture state.
type Status struct {
	Recording       bool
	TracksConnected int
	TrackIDs        []string
	PeerConnections int
	ChunksRecorded  int
	GraphState      string
	LastChunkAt     time.Time
}

// Graph states reported in Status.
const (
	GraphClosed  = "closed"
	GraphRunning = "running"
)

type eventKind int

const (
	evFrame eventKind = iota
	evTrackConnected
	evTrackEnded
	evTrackMuted
	evTrackUnmuted
	evPeerConnected
	evPeerDisconnected
	evTick
)

type event struct {
	kind       eventKind
	trackID    string
	sourceKind string
	samples    []int16
}

type cmdKind int

const (
	cmdStart cmdKind = iota
	cmdStop
	cmdStatus
	cmdHasAudio
)

type command struct {
	kind  cmdKind
	reply chan cmdResult
}

type cmdResult struct {
	started  bool
	hasAudio bool
	blob     Blob
	status   Status
	err      error
}

// Mixer merges independently-arriving audio tracks into one recorded stream.
type Mixer struct {
	cfg Config

	events chan event
	cmds   chan command

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	readersMu sync.Mutex
	readers   map[string]*trackReader

	// Loop-owned state. Only the consumer goroutine reads or writes these.
	recording bool
	enc       encoder
	mimeType  string
	graph     string
	tracks    map[string]*TrackHandle
	order     []string // connection order of live track ids
	pending   map[string][]int16
	peers     int
	chunks    int
	lastChunk time.Time
}

// NewMixer creates a mixer and starts its consumer loop.
func NewMixer(cfg Config) *Mixer {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	m := &Mixer{
		cfg:     cfg,
		events:  make(chan event, cfg.QueueSize),
		cmds:    make(chan command),
		ctx:     ctx,
		cancel:  cancel,
		readers: make(map[string]*trackReader),
		graph:   GraphClosed,
		tracks:  make(map[string]*TrackHandle),
		pending: make(map[string][]int16),
	}
	m.wg.Add(2)
	go m.loop()
	go m.ticker()
	return m
}

// Close stops the consumer loop and all track readers. Pending state is
// discarded; call Stop first to retrieve a recording.
func (m *Mixer) Close() {
	m.cancel()
	m.readersMu.Lock()
	readers := make([]*trackReader, 0, len(m.readers))
	for _, r := range m.readers {
		readers = append(readers, r)
	}
	m.readers = make(map[string]*trackReader)
	m.readersMu.Unlock()
	for _, r := range readers {
		r.Stop()
	}
	m.wg.Wait()
}

// Start begins recording. It is idempotent: a second call while recording
// returns false with no error and creates no second encoder. It returns
// false and ErrNoSupportedEncoding when no encoding from the preference list
// is supported.
func (m *Mixer) Start() (bool, error) {
	res, err := m.call(command{kind: cmdStart})
	if err != nil {
		return false, err
	}
	return res.started, res.err
}

// Stop finalizes the encoding and seals buffered chunks into one immutable
// blob. Zero captured chunks yield an explicit empty blob, not an error.
func (m *Mixer) Stop() (Blob, error) {
	res, err := m.call(command{kind: cmdStop})
	if err != nil {
		return Blob{}, err
	}
	return res.blob, res.err
}

// Status returns a read-only snapshot of the capture state.
func (m *Mixer) Status() (Status, error) {
	res, err := m.call(command{kind: cmdStatus})
	if err != nil {
		return Status{}, err
	}
	return res.status, nil
}

// HasAudio reports whether at least one track is currently connected.
func (m *Mixer) HasAudio() (bool, error) {
	res, err := m.call(command{kind: cmdHasAudio})
	if err != nil {
		return false, err
	}
	return res.hasAudio, nil
}

// call sends one boundary command into the capture loop and waits for the
// reply, bounded by the configured call timeout.
func (m *Mixer) call(cmd command) (cmdResult, error) {
	cmd.reply = make(chan cmdResult, 1)
	timer := time.NewTimer(m.cfg.CallTimeout)
	defer timer.Stop()

	select {
	case m.cmds <- cmd:
	case <-m.ctx.Done():
		return cmdResult{}, ErrUnavailable
	case <-timer.C:
		return cmdResult{}, ErrUnavailable
	}

	select {
	case res := <-cmd.reply:
		return res, nil
	case <-timer.C:
		return cmdResult{}, ErrUnavailable
	}
}

// post delivers a capture event to the consumer loop. It blocks while the
// bounded queue is full unless the mixer is shutting down.
func (m *Mixer) post(ev event) {
	select {
	case m.events <- ev:
	case <-m.ctx.Done():
	}
}

func (m *Mixer) ticker() {
	defer m.wg.Done()
	t := time.NewTicker(m.cfg.Cadence)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			m.post(event{kind: evTick})
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *Mixer) loop() {
	defer m.wg.Done()
	for {
		select {
		case ev := <-m.events:
			m.handleEvent(ev)
		case cmd := <-m.cmds:
			m.handleCommand(cmd)
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *Mixer) handleEvent(ev event) {
	switch ev.kind {
	case evFrame:
		// Readers keep delivering while attached; only a running recording
		// consumes. Dropping here bounds memory between Stop and teardown.
		if !m.recording {
			return
		}
		if _, ok := m.tracks[ev.trackID]; !ok {
			return
		}
		m.pending[ev.trackID] = append(m.pending[ev.trackID], ev.samples...)
	case evTrackConnected:
		if h, ok := m.tracks[ev.trackID]; ok {
			if h.EndedAt == nil {
				// Repeated add of a live track id never double-counts.
				return
			}
			// The same id reconnecting reuses its handle.
			h.ConnectedAt = time.Now()
			h.EndedAt = nil
			h.SourceKind = ev.sourceKind
		} else {
			m.tracks[ev.trackID] = &TrackHandle{
				ID:          ev.trackID,
				SourceKind:  ev.sourceKind,
				ConnectedAt: time.Now(),
			}
			m.order = append(m.order, ev.trackID)
		}
		logging.Info(logging.CategoryCapture, "track connected trackID=%s source=%s connected=%d", ev.trackID, ev.sourceKind, m.liveTrackCount())
	case evTrackEnded:
		if h, ok := m.tracks[ev.trackID]; ok && h.EndedAt == nil {
			now := time.Now()
			h.EndedAt = &now
			logging.Info(logging.CategoryCapture, "track ended trackID=%s connected=%d", ev.trackID, m.liveTrackCount())
		}
	case evTrackMuted:
		if h, ok := m.tracks[ev.trackID]; ok {
			h.Muted = true
		}
	case evTrackUnmuted:
		if h, ok := m.tracks[ev.trackID]; ok {
			h.Muted = false
		}
	case evPeerConnected:
		m.peers++
	case evPeerDisconnected:
		if m.peers > 0 {
			m.peers--
		}
	case evTick:
		m.rollChunk()
	}
}

func (m *Mixer) handleCommand(cmd command) {
	var res cmdResult
	switch cmd.kind {
	case cmdStart:
		res = m.start()
	case cmdStop:
		res = m.stop()
	case cmdStatus:
		res.status = m.snapshot()
	case cmdHasAudio:
		res.hasAudio = m.liveTrackCount() > 0
	}
	cmd.reply <- res
}

func (m *Mixer) start() cmdResult {
	if m.recording {
		return cmdResult{started: false}
	}
	if m.enc == nil {
		sel := selectEncoding(m.cfg.Encodings)
		if sel == nil {
			logging.Error(logging.CategoryCapture, "no supported encoding in preference list")
			return cmdResult{started: false, err: ErrNoSupportedEncoding}
		}
		m.enc = sel.factory(m.cfg.SampleRate)
		m.mimeType = sel.MimeType
	}
	m.graph = GraphRunning
	m.recording = true
	m.chunks = 0
	logging.Info(logging.CategoryCapture, "recording started mimeType=%s sampleRate=%d cadence=%v", m.mimeType, m.cfg.SampleRate, m.cfg.Cadence)
	return cmdResult{started: true}
}

func (m *Mixer) stop() cmdResult {
	if m.enc == nil {
		// Never started: explicit empty result.
		return cmdResult{blob: Blob{MimeType: ""}}
	}
	m.recording = false
	blob := Blob{MimeType: m.mimeType, ChunkCount: m.chunks}
	if m.chunks > 0 {
		blob.Bytes = m.enc.Finalize()
		blob.Size = len(blob.Bytes)
	}
	m.enc = nil
	m.mimeType = ""
	m.graph = GraphClosed
	m.pending = make(map[string][]int16)
	logging.Info(logging.CategoryCapture, "recording stopped chunks=%d size=%d", blob.ChunkCount, blob.Size)
	return cmdResult{blob: blob}
}

// rollChunk mixes pending samples from every track into one cadence-sized
// chunk and appends it to the encoder. Tracks contribute silence where they
// delivered fewer samples than the chunk holds; surplus carries over.
func (m *Mixer) rollChunk() {
	if !m.recording {
		return
	}
	n := int(float64(m.cfg.SampleRate) * m.cfg.Cadence.Seconds())
	if n <= 0 {
		return
	}
	acc := make([]int32, n)
	for id, buf := range m.pending {
		take := len(buf)
		if take > n {
			take = n
		}
		for i := 0; i < take; i++ {
			acc[i] += int32(buf[i])
		}
		if take == len(buf) {
			delete(m.pending, id)
		} else {
			m.pending[id] = buf[take:]
		}
		// Tracks that ended drain their remainder and drop out of the map.
		if h, ok := m.tracks[id]; ok && h.EndedAt != nil && take == len(buf) {
			delete(m.pending, id)
		}
	}
	chunk := make([]int16, n)
	for i, v := range acc {
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		chunk[i] = int16(v)
	}
	m.enc.AppendChunk(chunk)
	m.chunks++
	m.lastChunk = time.Now()
}

func (m *Mixer) snapshot() Status {
	ids := make([]string, 0, len(m.order))
	for _, id := range m.order {
		if h, ok := m.tracks[id]; ok && h.EndedAt == nil {
			ids = append(ids, id)
		}
	}
	return Status{
		Recording:       m.recording,
		TracksConnected: len(ids),
		TrackIDs:        ids,
		PeerConnections: m.peers,
		ChunksRecorded:  m.chunks,
		GraphState:      m.graph,
		LastChunkAt:     m.lastChunk,
	}
}

func (m *Mixer) liveTrackCount() int {
	n := 0
	for _, h := range m.tracks {
		if h.EndedAt == nil {
			n++
		}
	}
	return n
}
