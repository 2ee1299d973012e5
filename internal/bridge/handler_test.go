package bridge

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/troikatech/pbx-voice-bridge/pkg/ari"
	"github.com/troikatech/pbx-voice-bridge/pkg/calllog"
	"github.com/troikatech/pbx-voice-bridge/pkg/ownership"
	"github.com/troikatech/pbx-voice-bridge/pkg/tts"
)

func TestHandleChannel_HappyPath(t *testing.T) {
	tb := newTestBridge()

	final := tb.HandleChannel(context.Background(), "ch-1")

	assert.Equal(t, StateHungUp, final)
	assert.Equal(t, []string{"answer:ch-1", "play:ch-1", "hangup:ch-1"}, tb.control.Calls())
	assert.Equal(t, []string{tb.cfg.GreetingText}, tb.synth.texts)
	assert.Equal(t, []string{"sound:http://bridge.local/media/greeting.wav"}, tb.control.played)
	assert.Equal(t, []time.Duration{4 * time.Second}, tb.sleeps.Delays())

	records := tb.sink.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "ch-1", records[0].ChannelID)
	assert.Equal(t, calllog.OutcomeFinished, records[0].Outcome)
	assert.Equal(t, calllog.DirectionInbound, records[0].Direction)
	assert.False(t, records[0].StartedAt.IsZero())
}

func TestChannelHandler_StateHistory(t *testing.T) {
	tb := newTestBridge()
	h := newChannelHandler(tb.Bridge, "ch-1")

	h.Run(context.Background())

	assert.Equal(t, []State{StateEntered, StateAnswered, StateSpeaking, StateHungUp}, h.History())
	assert.True(t, h.State().Terminal())
}

func TestHandleChannel_SynthesisFailureUsesFallback(t *testing.T) {
	tb := newTestBridge()
	tb.synth.err = &tts.SynthesisError{Provider: "openai", Err: errors.New("quota exceeded")}

	final := tb.HandleChannel(context.Background(), "ch-2")

	assert.Equal(t, StateHungUp, final)
	assert.Equal(t, []string{"sound:hello-world"}, tb.control.played)
	assert.Equal(t, []string{"answer:ch-2", "play:ch-2", "hangup:ch-2"}, tb.control.Calls())
	require.Len(t, tb.sink.Records(), 1)
	assert.Equal(t, calllog.OutcomeFinished, tb.sink.Records()[0].Outcome)
}

func TestHandleChannel_AnswerFailure(t *testing.T) {
	tb := newTestBridge()
	tb.control.answerErr = &ari.ControlPlaneError{Op: "answer", Status: http.StatusInternalServerError, Body: "boom"}
	h := newChannelHandler(tb.Bridge, "ch-3")

	final := h.Run(context.Background())

	assert.Equal(t, StateFailed, final)
	assert.Equal(t, []State{StateEntered, StateFailed}, h.History())
	// best-effort cleanup hangup, nothing played
	assert.Equal(t, []string{"answer:ch-3", "hangup:ch-3"}, tb.control.Calls())
	assert.Empty(t, tb.synth.texts)

	records := tb.sink.Records()
	require.Len(t, records, 1)
	assert.Equal(t, calllog.OutcomeFailed, records[0].Outcome)
	assert.Contains(t, records[0].Detail, "answer")
}

func TestHandleChannel_PlayFailureStillHangsUp(t *testing.T) {
	tb := newTestBridge()
	tb.control.playErr = &ari.ControlPlaneError{Op: "play", Status: http.StatusBadRequest, Body: "bad media"}
	h := newChannelHandler(tb.Bridge, "ch-4")

	final := h.Run(context.Background())

	assert.Equal(t, StateHungUp, final)
	assert.Equal(t, []State{StateEntered, StateAnswered, StateHungUp}, h.History())
	assert.Empty(t, tb.sleeps.Delays())
	assert.Equal(t, []string{"answer:ch-4", "play:ch-4", "hangup:ch-4"}, tb.control.Calls())

	records := tb.sink.Records()
	require.Len(t, records, 1)
	assert.Equal(t, calllog.OutcomeFinished, records[0].Outcome)
	assert.Contains(t, records[0].Detail, "bad media")
}

func TestHandleChannel_HangupRetriesTransportErrors(t *testing.T) {
	tb := newTestBridge()
	tb.control.hangupErrs = []error{errUnreachable, errUnreachable}

	final := tb.HandleChannel(context.Background(), "ch-5")

	assert.Equal(t, StateHungUp, final)
	assert.Equal(t, []string{"answer:ch-5", "play:ch-5", "hangup:ch-5", "hangup:ch-5", "hangup:ch-5"}, tb.control.Calls())
	assert.Equal(t, calllog.OutcomeFinished, tb.sink.Records()[0].Outcome)
}

func TestHandleChannel_HangupUltimatelyFails(t *testing.T) {
	tb := newTestBridge()
	tb.control.hangupErrs = []error{errUnreachable, errUnreachable, errUnreachable}

	final := tb.HandleChannel(context.Background(), "ch-6")

	assert.Equal(t, StateFailed, final)
	records := tb.sink.Records()
	require.Len(t, records, 1)
	assert.Equal(t, calllog.OutcomeFailed, records[0].Outcome)
	assert.Contains(t, records[0].Detail, "hangup")
}

func TestHandleChannel_HangupRejectedIsNotRetried(t *testing.T) {
	tb := newTestBridge()
	tb.control.hangupErrs = []error{&ari.ControlPlaneError{Op: "hangup", Status: http.StatusInternalServerError}}

	final := tb.HandleChannel(context.Background(), "ch-7")

	assert.Equal(t, StateFailed, final)
	assert.Equal(t, []string{"answer:ch-7", "play:ch-7", "hangup:ch-7"}, tb.control.Calls())
	require.Len(t, tb.sink.Records(), 1)
}

func TestHandleChannel_ChannelGoneBeforeHangup(t *testing.T) {
	tb := newTestBridge()
	tb.control.hangupErrs = []error{&ari.ControlPlaneError{Op: "hangup", Status: http.StatusNotFound, Body: "Channel not found"}}

	final := tb.HandleChannel(context.Background(), "ch-8")

	assert.Equal(t, StateHungUp, final)
	require.Len(t, tb.sink.Records(), 1)
	assert.Equal(t, calllog.OutcomeAbandoned, tb.sink.Records()[0].Outcome)
}

func TestHandleChannel_SinkFailureDoesNotBreakHandler(t *testing.T) {
	tb := newTestBridge()
	tb.sink = nil
	tb.Bridge.sink = failingSink{}

	assert.Equal(t, StateHungUp, tb.HandleChannel(context.Background(), "ch-9"))
}

func TestHandleChannel_DedupSkipsOwnedChannel(t *testing.T) {
	tb := newTestBridge()
	owners := ownership.NewMemoryRegistry()
	tb.owners = owners

	claimed, err := owners.Claim(context.Background(), "ch-10")
	require.NoError(t, err)
	require.True(t, claimed)

	final := tb.HandleChannel(context.Background(), "ch-10")

	assert.Equal(t, State(""), final)
	assert.Empty(t, tb.control.Calls())
	assert.Empty(t, tb.sink.Records())
}

func TestHandleChannel_DedupReleasesAfterRun(t *testing.T) {
	tb := newTestBridge()
	owners := ownership.NewMemoryRegistry()
	tb.owners = owners

	assert.Equal(t, StateHungUp, tb.HandleChannel(context.Background(), "ch-11"))
	assert.Equal(t, 0, owners.Len())
}

func TestDispatch_WaitDrainsHandlers(t *testing.T) {
	tb := newTestBridge()
	ctx, cancel := context.WithCancel(context.Background())

	for _, id := range []string{"a", "b", "c"} {
		tb.Dispatch(ctx, id)
	}
	cancel()
	tb.Wait()

	// cancelling the dispatch context does not abort handlers
	assert.Len(t, tb.sink.Records(), 3)
	for _, rec := range tb.sink.Records() {
		assert.Equal(t, calllog.OutcomeFinished, rec.Outcome)
	}
}
