package audio

import "fmt"

// Downsample converts 16-bit signed little-endian mono PCM from one sample
// rate to a lower one whose rate divides it evenly (24000 -> 8000, 16000 -> 8000).
// Each output sample is the mean of the input samples it replaces, which is
// enough low-pass filtering for telephone-band speech.
func Downsample(pcm []byte, fromRate, toRate int) ([]byte, error) {
	if fromRate <= 0 || toRate <= 0 || toRate > fromRate || fromRate%toRate != 0 {
		return nil, fmt.Errorf("unsupported resample %d Hz -> %d Hz", fromRate, toRate)
	}
	if len(pcm) == 0 {
		return nil, nil
	}

	factor := fromRate / toRate
	samples := len(pcm) / 2
	out := make([]byte, 0, (samples/factor)*2)

	for start := 0; start+factor <= samples; start += factor {
		var sum int32
		for i := start; i < start+factor; i++ {
			sum += int32(int16(uint16(pcm[i*2]) | uint16(pcm[i*2+1])<<8))
		}
		sample := int16(sum / int32(factor))
		out = append(out, byte(sample), byte(uint16(sample)>>8))
	}

	return out, nil
}
