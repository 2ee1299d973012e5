package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pcm(samples ...int16) []byte {
	out := make([]byte, 0, len(samples)*2)
	for _, s := range samples {
		out = append(out, byte(s), byte(uint16(s)>>8))
	}
	return out
}

func TestDownsample_AveragesGroups(t *testing.T) {
	out, err := Downsample(pcm(300, 600, 900, -300, -600, -900, 7), 24000, 8000)
	require.NoError(t, err)

	// The trailing partial group is dropped.
	assert.Equal(t, pcm(600, -600), out)
}

func TestDownsample_Unsupported(t *testing.T) {
	_, err := Downsample(pcm(1, 2), 22050, 8000)
	assert.Error(t, err)

	_, err = Downsample(pcm(1, 2), 8000, 16000)
	assert.Error(t, err)
}

func TestDownsample_Empty(t *testing.T) {
	out, err := Downsample(nil, 16000, 8000)
	require.NoError(t, err)
	assert.Empty(t, out)
}
