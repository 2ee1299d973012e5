package bridge

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/troikatech/pbx-voice-bridge/pkg/ari"
	"github.com/troikatech/pbx-voice-bridge/pkg/calllog"
)

func TestDial_RequiresEndpointOrDestination(t *testing.T) {
	tb := newTestBridge()

	_, err := tb.Dial(context.Background(), DialRequest{App: "voice-bridge"})

	var validationErr *ValidationError
	require.True(t, errors.As(err, &validationErr))
	assert.Equal(t, "endpoint", validationErr.Field)
	assert.Empty(t, tb.control.Calls())
	assert.Empty(t, tb.sink.Records())
}

func TestDial_EndpointRecordsRinging(t *testing.T) {
	tb := newTestBridge()

	channel, err := tb.Dial(context.Background(), DialRequest{Endpoint: "line/42"})
	require.NoError(t, err)
	assert.Equal(t, "out-1", channel.ID)

	require.Len(t, tb.control.originated, 1)
	req := tb.control.originated[0]
	assert.Equal(t, "line/42", req.Endpoint)
	assert.Equal(t, "voice-bridge", req.App)

	records := tb.sink.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "out-1", records[0].ChannelID)
	assert.Equal(t, calllog.OutcomeRinging, records[0].Outcome)
	assert.Equal(t, calllog.DirectionOutbound, records[0].Direction)
	assert.Equal(t, "line/42", records[0].Endpoint)
}

func TestDial_DestinationUsesTemplate(t *testing.T) {
	tb := newTestBridge()
	tb.cfg.DialCallerID = "Bridge <100>"

	_, err := tb.Dial(context.Background(), DialRequest{
		To:        "+1 (555) 010-9999",
		Extension: "200",
		Context:   "from-bridge",
	})
	require.NoError(t, err)

	req := tb.control.originated[0]
	assert.Equal(t, "PJSIP/+15550109999", req.Endpoint)
	assert.Equal(t, "200", req.Extension)
	assert.Equal(t, "from-bridge", req.Context)
	assert.Equal(t, "Bridge <100>", req.CallerID)
}

func TestDial_OriginateFailureRecordsNothing(t *testing.T) {
	tb := newTestBridge()
	tb.control.originateErr = &ari.ControlPlaneError{Op: "originate", Status: http.StatusBadRequest, Body: "Allocation failed"}

	_, err := tb.Dial(context.Background(), DialRequest{Endpoint: "line/42"})

	var cpErr *ari.ControlPlaneError
	assert.True(t, errors.As(err, &cpErr))
	assert.Empty(t, tb.sink.Records())
}

func TestPlayText(t *testing.T) {
	tb := newTestBridge()

	result, err := tb.PlayText(context.Background(), "ch-1", "Your order has shipped")
	require.NoError(t, err)

	assert.False(t, result.Fallback)
	assert.Equal(t, "sound:http://bridge.local/media/greeting.wav", result.Media)
	assert.Equal(t, []string{"Your order has shipped"}, tb.synth.texts)
	assert.Equal(t, []string{"play:ch-1"}, tb.control.Calls())
	assert.Empty(t, tb.sink.Records())
}

func TestPlayText_FallsBackOnSynthesisFailure(t *testing.T) {
	tb := newTestBridge()
	tb.synth.err = errors.New("provider down")

	result, err := tb.PlayText(context.Background(), "ch-1", "hello")
	require.NoError(t, err)
	assert.True(t, result.Fallback)
	assert.Equal(t, "sound:hello-world", result.Media)
}

func TestPlayText_Validation(t *testing.T) {
	tb := newTestBridge()

	_, err := tb.PlayText(context.Background(), "", "hello")
	var validationErr *ValidationError
	require.True(t, errors.As(err, &validationErr))
	assert.Equal(t, "channel_id", validationErr.Field)

	_, err = tb.PlayText(context.Background(), "ch-1", " ")
	require.True(t, errors.As(err, &validationErr))
	assert.Equal(t, "text", validationErr.Field)

	assert.Empty(t, tb.control.Calls())
}

func TestHangup(t *testing.T) {
	tb := newTestBridge()

	require.NoError(t, tb.Hangup(context.Background(), "ch-1"))
	assert.Equal(t, []string{"hangup:ch-1"}, tb.control.Calls())

	tb.control.hangupErrs = []error{errUnreachable}
	assert.ErrorIs(t, tb.Hangup(context.Background(), "ch-1"), ari.ErrUnavailable)

	var validationErr *ValidationError
	assert.True(t, errors.As(tb.Hangup(context.Background(), ""), &validationErr))
}
