package av

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/opus"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/opd-ai/accountd/backend"
	"github.com/opd-ai/accountd/crypto"
)

const (
	// OpusPayloadType is the RTP payload type negotiated for audio.
	OpusPayloadType = 111

	// FrameDuration is the duration of each outgoing Opus frame.
	FrameDuration = 20 * time.Millisecond

	// maxDecodedFrame holds 120ms of 48kHz stereo PCM, the largest Opus frame.
	maxDecodedFrame = 5760 * 2 * 2
)

// silenceFrame is a 20ms fullband CELT frame that decodes to silence.
var silenceFrame = []byte{0xf8, 0xff, 0xfe}

var opusCapability = webrtc.RTPCodecCapability{
	MimeType:    webrtc.MimeTypeOpus,
	ClockRate:   48000,
	Channels:    2,
	SDPFmtpLine: "minptime=10;useinbandfec=1",
}

// Option configures a Backend.
type Option func(*options)

type options struct {
	loopback bool
	now      func() time.Time
}

// WithLoopbackCandidates gathers ICE candidates on loopback interfaces.
// Useful when both ends run on the same machine.
func WithLoopbackCandidates() Option {
	return func(o *options) { o.loopback = true }
}

// WithNow overrides the clock used to stamp call start times.
func WithNow(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Backend places and answers audio calls for one identity.
type Backend struct {
	identity backend.IdentityBackend
	api      *webrtc.API
	rtc      webrtc.Configuration
	now      func() time.Time

	mu     sync.Mutex
	calls  map[string]*call
	closed bool
}

type call struct {
	id      string
	peerDID string
	started time.Time
	pc      *webrtc.PeerConnection
	track   *webrtc.TrackLocalStaticSample
	done    chan struct{}
	once    sync.Once

	decoded atomic.Uint64

	mu       sync.Mutex
	state    backend.CallState
	localSDP string
}

// New builds a calling backend bound to identity. ICE servers come from
// cfg.ICEServers.
func New(identity backend.IdentityBackend, cfg backend.Config, opts ...Option) (*Backend, error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	m := &webrtc.MediaEngine{}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: opusCapability,
		PayloadType:        OpusPayloadType,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register opus codec: %w", err)
	}

	se := webrtc.SettingEngine{}
	se.SetIncludeLoopbackCandidate(o.loopback)

	rtc := webrtc.Configuration{}
	if len(cfg.ICEServers) > 0 {
		rtc.ICEServers = []webrtc.ICEServer{{URLs: append([]string(nil), cfg.ICEServers...)}}
	}

	logrus.WithFields(logrus.Fields{
		"function":    "New",
		"ice_servers": len(cfg.ICEServers),
		"loopback":    o.loopback,
	}).Info("Calling backend created")

	return &Backend{
		identity: identity,
		api:      webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(se)),
		rtc:      rtc,
		now:      o.now,
		calls:    make(map[string]*call),
	}, nil
}

// Offer starts an outgoing call to peerDID and returns it with the local
// offer SDP. The identity must be ready.
func (b *Backend) Offer(ctx context.Context, peerDID string) (backend.Call, error) {
	if err := b.admit(ctx, peerDID); err != nil {
		return backend.Call{}, err
	}

	c, err := b.newCall(peerDID, backend.CallOffered)
	if err != nil {
		return backend.Call{}, err
	}

	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		b.discard(c)
		return backend.Call{}, fmt.Errorf("create offer: %w", err)
	}
	if err := c.setLocal(ctx, offer); err != nil {
		b.discard(c)
		return backend.Call{}, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "Offer",
		"call_id":  c.id,
		"peer":     peerDID,
	}).Info("Call offered")
	return c.snapshot(), nil
}

// Accept answers an incoming offer from peerDID and returns the call with
// the local answer SDP.
func (b *Backend) Accept(ctx context.Context, peerDID, offerSDP string) (backend.Call, error) {
	if err := b.admit(ctx, peerDID); err != nil {
		return backend.Call{}, err
	}

	c, err := b.newCall(peerDID, backend.CallAnswered)
	if err != nil {
		return backend.Call{}, err
	}

	if err := c.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offerSDP,
	}); err != nil {
		b.discard(c)
		return backend.Call{}, fmt.Errorf("%w: %v", ErrInvalidSDP, err)
	}

	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		b.discard(c)
		return backend.Call{}, fmt.Errorf("create answer: %w", err)
	}
	if err := c.setLocal(ctx, answer); err != nil {
		b.discard(c)
		return backend.Call{}, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "Accept",
		"call_id":  c.id,
		"peer":     peerDID,
	}).Info("Call accepted")
	return c.snapshot(), nil
}

// Complete applies the remote answer to an offered call.
func (b *Backend) Complete(ctx context.Context, callID, answerSDP string) error {
	c, err := b.lookup(callID)
	if err != nil {
		return err
	}
	if st := c.getState(); st != backend.CallOffered {
		return fmt.Errorf("%w: call %s is %s", ErrInvalidCallState, callID, st)
	}

	if err := c.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answerSDP,
	}); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSDP, err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Complete",
		"call_id":  callID,
	}).Debug("Remote answer applied")
	return nil
}

// Hangup ends a call and releases its peer connection.
func (b *Backend) Hangup(ctx context.Context, callID string) error {
	b.mu.Lock()
	c, ok := b.calls[callID]
	delete(b.calls, callID)
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrCallNotFound, callID)
	}

	err := c.end()
	logrus.WithFields(logrus.Fields{
		"function": "Hangup",
		"call_id":  callID,
	}).Info("Call ended")
	return err
}

// Calls returns snapshots of active calls ordered by start time.
func (b *Backend) Calls() []backend.Call {
	b.mu.Lock()
	out := make([]backend.Call, 0, len(b.calls))
	for _, c := range b.calls {
		out = append(out, c.snapshot())
	}
	b.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Started.Equal(out[j].Started) {
			return out[i].ID < out[j].ID
		}
		return out[i].Started.Before(out[j].Started)
	})
	return out
}

// Close ends every call. It is safe to call more than once.
func (b *Backend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	calls := b.calls
	b.calls = make(map[string]*call)
	b.mu.Unlock()

	var err error
	for _, c := range calls {
		err = multierr.Append(err, c.end())
	}
	return err
}

// admit checks that a call to peerDID may be placed now.
func (b *Backend) admit(ctx context.Context, peerDID string) error {
	if _, err := crypto.DecodeDIDKey(peerDID); err != nil {
		return err
	}
	if _, err := b.identity.OwnIdentity(ctx); err != nil {
		return fmt.Errorf("identity not ready: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	for _, c := range b.calls {
		if c.peerDID == peerDID {
			return fmt.Errorf("%w: %s", ErrCallAlreadyActive, peerDID)
		}
	}
	return nil
}

func (b *Backend) lookup(callID string) (*call, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	c, ok := b.calls[callID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCallNotFound, callID)
	}
	return c, nil
}

// newCall creates the peer connection with a local Opus track and registers
// the call.
func (b *Backend) newCall(peerDID string, state backend.CallState) (*call, error) {
	pc, err := b.api.NewPeerConnection(b.rtc)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	track, err := webrtc.NewTrackLocalStaticSample(opusCapability, "audio", "accountd")
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("create audio track: %w", err)
	}
	if _, err := pc.AddTrack(track); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("add audio track: %w", err)
	}

	c := &call{
		id:      uuid.NewString(),
		peerDID: peerDID,
		started: b.now(),
		pc:      pc,
		track:   track,
		done:    make(chan struct{}),
		state:   state,
	}

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if remote.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		go c.receive(remote)
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		logrus.WithFields(logrus.Fields{
			"function": "OnConnectionStateChange",
			"call_id":  c.id,
			"state":    s.String(),
		}).Debug("Peer connection state changed")

		switch s {
		case webrtc.PeerConnectionStateConnected:
			if c.setState(backend.CallConnected) {
				go c.transmit()
			}
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			c.setState(backend.CallEnded)
		}
	})

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		_ = pc.Close()
		return nil, ErrClosed
	}
	b.calls[c.id] = c
	b.mu.Unlock()
	return c, nil
}

// discard removes a call that failed during negotiation.
func (b *Backend) discard(c *call) {
	b.mu.Lock()
	delete(b.calls, c.id)
	b.mu.Unlock()
	if err := c.end(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "discard",
			"call_id":  c.id,
			"error":    err.Error(),
		}).Warn("Failed to close peer connection")
	}
}

// setLocal applies the local description and waits for ICE gathering so the
// returned SDP carries every candidate.
func (c *call) setLocal(ctx context.Context, desc webrtc.SessionDescription) error {
	gathered := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(desc); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}

	select {
	case <-gathered:
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrGatheringTimeout, ctx.Err())
	}

	local := c.pc.LocalDescription()
	if local == nil {
		return fmt.Errorf("%w: no local description", ErrInvalidSDP)
	}
	c.mu.Lock()
	c.localSDP = local.SDP
	c.mu.Unlock()
	return nil
}

// receive decodes inbound Opus packets until the track ends.
func (c *call) receive(remote *webrtc.TrackRemote) {
	decoder := opus.NewDecoder()
	pcm := make([]byte, maxDecodedFrame)

	for {
		pkt, _, err := remote.ReadRTP()
		if err != nil {
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		if _, _, err := decoder.Decode(pkt.Payload, pcm); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "receive",
				"call_id":  c.id,
				"error":    err.Error(),
			}).Debug("Opus decode failed")
			continue
		}
		c.decoded.Add(1)
	}
}

// transmit keeps the local track alive with silence until the call ends.
func (c *call) transmit() {
	ticker := time.NewTicker(FrameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.track.WriteSample(media.Sample{Data: silenceFrame, Duration: FrameDuration}); err != nil {
				return
			}
		}
	}
}

// setState moves the call to s. It reports false when the call has already
// ended or is already in s.
func (c *call) setState(s backend.CallState) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == backend.CallEnded || c.state == s {
		return false
	}
	c.state = s
	return true
}

func (c *call) getState() backend.CallState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *call) end() error {
	var err error
	c.once.Do(func() {
		c.setState(backend.CallEnded)
		close(c.done)
		err = c.pc.Close()
	})
	return err
}

func (c *call) snapshot() backend.Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return backend.Call{
		ID:             c.id,
		PeerDID:        c.peerDID,
		State:          c.state,
		LocalSDP:       c.localSDP,
		PacketsDecoded: c.decoded.Load(),
		Started:        c.started,
	}
}
