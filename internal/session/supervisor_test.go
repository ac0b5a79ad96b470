package session

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/harudiary/voice-gateway/internal/audio"
	"github.com/harudiary/voice-gateway/internal/observability"
	"github.com/harudiary/voice-gateway/internal/resilience"
	"github.com/harudiary/voice-gateway/internal/transcript"
	"github.com/harudiary/voice-gateway/internal/upstream"
)

// fakeUpstream is a scripted upstream session. Events pushed via emit are
// delivered in order; Close unblocks Recv with io.EOF.
type fakeUpstream struct {
	mu        sync.Mutex
	sent      [][]byte
	events    chan upstream.Event
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{
		events: make(chan upstream.Event, 32),
		closed: make(chan struct{}),
	}
}

func (f *fakeUpstream) emit(ev upstream.Event) {
	f.events <- ev
}

func (f *fakeUpstream) SendAudio(frame []byte) error {
	select {
	case <-f.closed:
		return io.EOF
	default:
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, frame)
	return nil
}

func (f *fakeUpstream) sentFrames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeUpstream) Recv() (upstream.Event, error) {
	// Drain scripted events before reporting closure
	select {
	case ev := <-f.events:
		return ev, nil
	default:
	}
	select {
	case ev := <-f.events:
		return ev, nil
	case <-f.closed:
		return upstream.Event{}, io.EOF
	}
}

func (f *fakeUpstream) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

type fakeDialer struct {
	mu       sync.Mutex
	sessions []*fakeUpstream
	err      error
	dials    int
}

func (d *fakeDialer) Dial(cfg upstream.VoiceConfig) (upstream.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.err != nil {
		return nil, d.err
	}
	sess := newFakeUpstream()
	d.sessions = append(d.sessions, sess)
	return sess, nil
}

type sinkCollector struct {
	mu     sync.Mutex
	frames [][]byte
}

func (c *sinkCollector) write(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, frame)
	return nil
}

func (c *sinkCollector) collected() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.frames))
	copy(out, c.frames)
	return out
}

func newTestSupervisor(t *testing.T, dialer *fakeDialer) (*Supervisor, *sinkCollector) {
	t.Helper()

	sink := &sinkCollector{}
	sup := NewSupervisor(SupervisorConfig{
		ID:     "test-session",
		Dialer: dialer,
		Voice:  upstream.VoiceConfig{Voice: "Aoede"},
		Bridge: audio.NewBridge(audio.BridgeConfig{
			InboundCapacity:  5,
			OutboundCapacity: 32,
			Policy:           audio.DropOldest,
		}),
		Sink: sink.write,
		// Thresholds effectively disable the watchdog for these tests
		Watchdog: WatchdogConfig{
			Tick:           time.Hour,
			SilenceTimeout: time.Hour,
			StallTimeout:   time.Hour,
		},
		Reconnect: resilience.DefaultReconnectConfig(),
		StopGrace: 2 * time.Second,
		Logger:    zerolog.Nop(),
		Metrics:   observability.NewSessionMetrics("test-session"),
	})
	return sup, sink
}

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", desc)
}

func TestSupervisorStartDialFailure(t *testing.T) {
	dialer := &fakeDialer{err: errors.New("upstream unavailable")}
	sup, _ := newTestSupervisor(t, dialer)

	if err := sup.Start(context.Background()); err == nil {
		t.Fatal("Expected Start to fail when dialing fails")
	}
	if sup.State() != StateClosed {
		t.Errorf("Expected state closed after failed start, got %s", sup.State())
	}
	select {
	case <-sup.Done():
	default:
		t.Error("Expected Done to be closed after failed start")
	}
}

func TestSupervisorForwardsInboundAudio(t *testing.T) {
	dialer := &fakeDialer{}
	sup, _ := newTestSupervisor(t, dialer)

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer sup.Stop("test_done")

	frames := [][]byte{{0x01}, {0x02, 0x02}, {0x03}}
	for _, frame := range frames {
		if err := sup.PushAudio(context.Background(), frame); err != nil {
			t.Fatalf("PushAudio failed: %v", err)
		}
	}

	fake := dialer.sessions[0]
	waitFor(t, "frames to reach upstream", func() bool {
		return len(fake.sentFrames()) == len(frames)
	})

	for i, frame := range fake.sentFrames() {
		if !bytes.Equal(frame, frames[i]) {
			t.Errorf("Frame %d: expected %v, got %v", i, frames[i], frame)
		}
	}
}

func TestSupervisorForwardsOutboundAudio(t *testing.T) {
	dialer := &fakeDialer{}
	sup, sink := newTestSupervisor(t, dialer)

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer sup.Stop("test_done")

	fake := dialer.sessions[0]
	fake.emit(upstream.Event{Audio: []byte{0xAA}})
	fake.emit(upstream.Event{Audio: []byte{0xBB}})

	waitFor(t, "frames to reach the sink", func() bool {
		return len(sink.collected()) == 2
	})

	got := sink.collected()
	if !bytes.Equal(got[0], []byte{0xAA}) || !bytes.Equal(got[1], []byte{0xBB}) {
		t.Errorf("Expected frames in emission order, got %v", got)
	}
}

func TestSupervisorTranscriptOrder(t *testing.T) {
	dialer := &fakeDialer{}
	sup, _ := newTestSupervisor(t, dialer)

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer sup.Stop("test_done")

	fake := dialer.sessions[0]
	fake.emit(upstream.Event{AiText: "안녕하세요! "})
	fake.emit(upstream.Event{UserText: "오늘 "})
	fake.emit(upstream.Event{UserText: "산책했어"})
	fake.emit(upstream.Event{AiText: "좋았겠다"})
	fake.emit(upstream.Event{TurnComplete: true})

	waitFor(t, "first turn to complete", func() bool {
		return len(sup.Transcript()) == 2
	})

	entries := sup.Transcript()
	if entries[0].Role != transcript.RoleUser || entries[0].Text != "오늘 산책했어" {
		t.Errorf("Expected USER entry first, got %+v", entries[0])
	}
	if entries[1].Role != transcript.RoleAI || entries[1].Text != "안녕하세요! 좋았겠다" {
		t.Errorf("Expected AI entry second, got %+v", entries[1])
	}
	if entries[0].TurnIndex != 0 || entries[1].TurnIndex != 0 {
		t.Errorf("Expected both entries in turn 0, got %d and %d", entries[0].TurnIndex, entries[1].TurnIndex)
	}
}

func TestSupervisorEndPhraseClosesSession(t *testing.T) {
	dialer := &fakeDialer{}
	sup, _ := newTestSupervisor(t, dialer)

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	fake := dialer.sessions[0]
	fake.emit(upstream.Event{AiText: "응, 듣고 있어"})
	fake.emit(upstream.Event{UserText: "이제 끊을게"})

	select {
	case <-sup.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Expected session to close after end phrase")
	}

	if sup.State() != StateClosed {
		t.Errorf("Expected state closed, got %s", sup.State())
	}
	// The turn never completed, so its fragments stay out of the transcript
	if entries := sup.Transcript(); len(entries) != 0 {
		t.Errorf("Expected empty transcript for an unfinished turn, got %+v", entries)
	}
}

func TestSupervisorUpstreamEOFClosesSession(t *testing.T) {
	dialer := &fakeDialer{}
	sup, _ := newTestSupervisor(t, dialer)

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	dialer.sessions[0].Close()

	select {
	case <-sup.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Expected session to close after upstream EOF")
	}
}

func TestSupervisorConcurrentStop(t *testing.T) {
	dialer := &fakeDialer{}
	sup, _ := newTestSupervisor(t, dialer)

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sup.Stop("client_disconnect")
		}()
	}
	wg.Wait()

	if sup.State() != StateClosed {
		t.Errorf("Expected state closed after concurrent stops, got %s", sup.State())
	}
	select {
	case <-sup.Done():
	default:
		t.Error("Expected Done to be closed")
	}
}

func TestSupervisorPushAudioAfterStop(t *testing.T) {
	dialer := &fakeDialer{}
	sup, _ := newTestSupervisor(t, dialer)

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	sup.Stop("client_disconnect")

	if err := sup.PushAudio(context.Background(), []byte{0x01}); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Expected ErrSessionClosed, got %v", err)
	}
}

func TestSupervisorNoForwardingAfterStop(t *testing.T) {
	dialer := &fakeDialer{}
	sup, sink := newTestSupervisor(t, dialer)

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	sup.Stop("client_disconnect")

	before := len(sink.collected())
	// Events scripted after closure must not reach the client
	dialer.sessions[0].events <- upstream.Event{Audio: []byte{0xEE}}
	time.Sleep(50 * time.Millisecond)

	if after := len(sink.collected()); after != before {
		t.Errorf("Expected no frames forwarded after stop, got %d new", after-before)
	}
}

// gatedDialer holds the handshake open until released, exposing the window
// where a stop can overlap a start
type gatedDialer struct {
	release chan struct{}

	mu   sync.Mutex
	sess *fakeUpstream
}

func (d *gatedDialer) Dial(cfg upstream.VoiceConfig) (upstream.Session, error) {
	<-d.release
	sess := newFakeUpstream()
	d.mu.Lock()
	d.sess = sess
	d.mu.Unlock()
	return sess, nil
}

func TestSupervisorStopDuringStartIsNotResurrected(t *testing.T) {
	dialer := &gatedDialer{release: make(chan struct{})}
	sup, _ := newTestSupervisor(t, &fakeDialer{})
	sup.dialer = dialer

	startErr := make(chan error, 1)
	go func() {
		startErr <- sup.Start(context.Background())
	}()

	// Stop lands while the handshake is still in flight
	sup.beginStop("client_disconnect")
	close(dialer.release)

	if err := <-startErr; !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("Expected ErrSessionClosed from Start after early stop, got %v", err)
	}
	if sup.State() != StateClosed {
		t.Errorf("Expected state closed, got %s", sup.State())
	}
	select {
	case <-sup.Done():
	default:
		t.Error("Expected Done to be closed")
	}

	// The connection dialed during the race must not be leaked open
	dialer.mu.Lock()
	sess := dialer.sess
	dialer.mu.Unlock()
	if sess == nil {
		t.Fatal("Expected the dial to have completed")
	}
	select {
	case <-sess.closed:
	default:
		t.Error("Expected the raced upstream connection to be closed")
	}
}
