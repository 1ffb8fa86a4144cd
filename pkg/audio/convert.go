package audio

// DownsampleToPCM16 converts mono float32 samples at srcRate into little-endian
// 16-bit PCM at dstRate using linear interpolation. Each call is stateless and
// maps one input frame to exactly one output chunk, so frame boundaries are
// preserved across the stream.
//
// If srcRate == dstRate the samples are only quantised, not resampled. Returns
// nil when the input is too short to produce a single output sample.
func DownsampleToPCM16(samples []float32, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || len(samples) == 0 {
		return nil
	}
	if srcRate == dstRate {
		return quantise(samples)
	}

	dstSamples := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := samples[srcIdx]
		s1 := s0
		if srcIdx+1 < len(samples) {
			s1 = samples[srcIdx+1]
		}

		v := float64(s0)*(1-frac) + float64(s1)*frac
		p := clampToInt16(v)
		out[i*2] = byte(p)
		out[i*2+1] = byte(p >> 8)
	}
	return out
}

// quantise converts float32 samples to little-endian int16 PCM without
// resampling.
func quantise(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		p := clampToInt16(float64(s))
		out[i*2] = byte(p)
		out[i*2+1] = byte(p >> 8)
	}
	return out
}

// clampToInt16 scales a [-1, 1] float to the int16 range, clamping values that
// exceed full scale.
func clampToInt16(v float64) int16 {
	scaled := v * 32767
	if scaled > 32767 {
		return 32767
	}
	if scaled < -32768 {
		return -32768
	}
	return int16(scaled)
}
