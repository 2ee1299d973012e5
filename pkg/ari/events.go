package ari

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Event kinds as they appear in the "type" field.
const (
	KindStasisStart      = "StasisStart"
	KindStasisEnd        = "StasisEnd"
	KindChannelDestroyed = "ChannelDestroyed"
	KindPlaybackStarted  = "PlaybackStarted"
	KindPlaybackFinished = "PlaybackFinished"
)

// kindAliases maps descriptive names some exchanges and test harnesses use
// onto the canonical event kinds.
var kindAliases = map[string]string{
	"channel-entered-application": KindStasisStart,
	"channel-left-application":    KindStasisEnd,
}

var ErrMalformedEvent = errors.New("malformed event")

// Event is one message from the event stream. The concrete type tells the
// kind; Unknown keeps anything the bridge does not model.
type Event interface {
	Kind() string
	// ChannelID is empty when the payload carries no channel.
	ChannelID() string
	Raw() json.RawMessage
}

type envelope struct {
	Type        string    `json:"type"`
	Application string    `json:"application"`
	Timestamp   string    `json:"timestamp"`
	Args        []string  `json:"args"`
	Channel     *Channel  `json:"channel"`
	Playback    *Playback `json:"playback"`
	Cause       int       `json:"cause"`
	CauseText   string    `json:"cause_txt"`
}

type base struct {
	Application string
	Timestamp   time.Time
	raw         json.RawMessage
}

func (b base) Raw() json.RawMessage { return b.raw }

// StasisStart announces a channel entering the application.
type StasisStart struct {
	base
	Channel Channel
	Args    []string
}

func (e *StasisStart) Kind() string      { return KindStasisStart }
func (e *StasisStart) ChannelID() string { return e.Channel.ID }

type StasisEnd struct {
	base
	Channel Channel
}

func (e *StasisEnd) Kind() string      { return KindStasisEnd }
func (e *StasisEnd) ChannelID() string { return e.Channel.ID }

type ChannelDestroyed struct {
	base
	Channel   Channel
	Cause     int
	CauseText string
}

func (e *ChannelDestroyed) Kind() string      { return KindChannelDestroyed }
func (e *ChannelDestroyed) ChannelID() string { return e.Channel.ID }

type PlaybackStarted struct {
	base
	Playback Playback
}

func (e *PlaybackStarted) Kind() string      { return KindPlaybackStarted }
func (e *PlaybackStarted) ChannelID() string { return playbackChannel(e.Playback) }

type PlaybackFinished struct {
	base
	Playback Playback
}

func (e *PlaybackFinished) Kind() string      { return KindPlaybackFinished }
func (e *PlaybackFinished) ChannelID() string { return playbackChannel(e.Playback) }

// Unknown is any other event type, kept verbatim.
type Unknown struct {
	base
	Type    string
	channel string
}

func (e *Unknown) Kind() string      { return e.Type }
func (e *Unknown) ChannelID() string { return e.channel }

func playbackChannel(p Playback) string {
	if id, ok := strings.CutPrefix(p.TargetURI, "channel:"); ok {
		return id
	}
	return ""
}

// DecodeEvent parses one stream message into its tagged variant.
func DecodeEvent(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedEvent)
	}

	b := base{Application: env.Application, raw: json.RawMessage(append([]byte(nil), data...))}
	if env.Timestamp != "" {
		b.Timestamp = parseTimestamp(env.Timestamp)
	}

	kind := env.Type
	if alias, ok := kindAliases[kind]; ok {
		kind = alias
	}

	var channel Channel
	if env.Channel != nil {
		channel = *env.Channel
	}
	var playback Playback
	if env.Playback != nil {
		playback = *env.Playback
	}

	switch kind {
	case KindStasisStart:
		return &StasisStart{base: b, Channel: channel, Args: env.Args}, nil
	case KindStasisEnd:
		return &StasisEnd{base: b, Channel: channel}, nil
	case KindChannelDestroyed:
		return &ChannelDestroyed{base: b, Channel: channel, Cause: env.Cause, CauseText: env.CauseText}, nil
	case KindPlaybackStarted:
		return &PlaybackStarted{base: b, Playback: playback}, nil
	case KindPlaybackFinished:
		return &PlaybackFinished{base: b, Playback: playback}, nil
	default:
		return &Unknown{base: b, Type: env.Type, channel: channel.ID}, nil
	}
}

// Asterisk writes "2024-05-01T10:00:00.000+0000", which is not RFC 3339.
func parseTimestamp(s string) time.Time {
	for _, layout := range []string{"2006-01-02T15:04:05.000-0700", time.RFC3339Nano} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
