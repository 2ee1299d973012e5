package bridge

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/troikatech/pbx-voice-bridge/pkg/ari"
	"github.com/troikatech/pbx-voice-bridge/pkg/calllog"
	"github.com/troikatech/pbx-voice-bridge/pkg/media"
)

var errUnreachable = &ari.UnavailableError{Op: "test", Err: errors.New("connection refused")}

type fakeControl struct {
	mu    sync.Mutex
	calls []string

	answerErr    error
	playErr      error
	hangupErrs   []error // consumed in order, nil once exhausted
	originateErr error
	originated   []ari.OriginateRequest
	played       []string
}

func (f *fakeControl) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeControl) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeControl) Answer(_ context.Context, channelID string) error {
	f.record("answer:" + channelID)
	return f.answerErr
}

func (f *fakeControl) Play(_ context.Context, channelID, mediaURI string) (*ari.Playback, error) {
	f.record("play:" + channelID)
	f.mu.Lock()
	f.played = append(f.played, mediaURI)
	f.mu.Unlock()
	if f.playErr != nil {
		return nil, f.playErr
	}
	return &ari.Playback{ID: "pb-" + channelID, MediaURI: mediaURI, State: "queued"}, nil
}

func (f *fakeControl) Hangup(_ context.Context, channelID string) error {
	f.record("hangup:" + channelID)
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.hangupErrs) == 0 {
		return nil
	}
	err := f.hangupErrs[0]
	f.hangupErrs = f.hangupErrs[1:]
	return err
}

func (f *fakeControl) Originate(_ context.Context, req ari.OriginateRequest) (*ari.Channel, error) {
	f.record("originate:" + req.Endpoint)
	f.mu.Lock()
	f.originated = append(f.originated, req)
	f.mu.Unlock()
	if f.originateErr != nil {
		return nil, f.originateErr
	}
	return &ari.Channel{ID: "out-1", State: "Down"}, nil
}

type fakeSynth struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (f *fakeSynth) Synthesize(_ context.Context, text string) (media.Asset, error) {
	f.mu.Lock()
	f.texts = append(f.texts, text)
	f.mu.Unlock()
	if f.err != nil {
		return media.Asset{}, f.err
	}
	return media.Asset{Name: "greeting.wav", ContentType: "audio/wav", Size: 4}, nil
}

type fakePublisher struct{}

func (fakePublisher) PublicURL(name string) string {
	return "http://bridge.local/media/" + name
}

type failingSink struct{}

func (failingSink) Append(context.Context, calllog.Record) error {
	return errors.New("disk full")
}

type recordedSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordedSleep) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *recordedSleep) Delays() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

type testBridge struct {
	*Bridge
	control *fakeControl
	synth   *fakeSynth
	sink    *calllog.MemorySink
	sleeps  *recordedSleep
}

func newTestBridge() *testBridge {
	control := &fakeControl{}
	synth := &fakeSynth{}
	sink := calllog.NewMemorySink(0)
	sleeps := &recordedSleep{}

	cfg := DefaultConfig()
	cfg.HangupRetry.InitialDelay = time.Millisecond
	cfg.HangupRetry.MaxDelay = time.Millisecond
	cfg.HangupRetry.Jitter = false

	b := New(cfg, Deps{
		Control:   control,
		Synth:     synth,
		Publisher: fakePublisher{},
		Sink:      sink,
		Logger:    zap.NewNop(),
	})
	b.sleep = sleeps.sleep

	return &testBridge{Bridge: b, control: control, synth: synth, sink: sink, sleeps: sleeps}
}

// fakeStream replays messages then ends with io.EOF.
type fakeStream struct {
	mu       sync.Mutex
	messages [][]byte
	closed   bool
}

func newFakeStream(messages ...string) *fakeStream {
	s := &fakeStream{}
	for _, m := range messages {
		s.messages = append(s.messages, []byte(m))
	}
	return s
}

func (s *fakeStream) Next() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.messages) == 0 {
		return nil, io.EOF
	}
	msg := s.messages[0]
	s.messages = s.messages[1:]
	return msg, nil
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// fakeDialer hands out results in order and cancels the run once they are used up.
type fakeDialer struct {
	mu      sync.Mutex
	results []dialResult
	dials   int
	cancel  context.CancelFunc
}

type dialResult struct {
	stream ari.Stream
	err    error
}

func (d *fakeDialer) Dial(ctx context.Context) (ari.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.results) == 0 {
		d.cancel()
		return nil, ctx.Err()
	}
	r := d.results[0]
	d.results = d.results[1:]
	return r.stream, r.err
}

type recordingDispatcher struct {
	mu       sync.Mutex
	channels []string
}

func (d *recordingDispatcher) Dispatch(_ context.Context, channelID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.channels = append(d.channels, channelID)
}

func (d *recordingDispatcher) Channels() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.channels...)
}
