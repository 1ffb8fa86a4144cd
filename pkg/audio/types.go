package audio

// TargetRate is the fixed sample rate, in Hz, of encoded chunks handed to the
// transcription connection. The wire protocol advertises this rate with every
// chunk.
const TargetRate = 16000

// Frame is a block of single-channel float32 samples at the capture device's
// native rate. Frames are ephemeral: produced continuously while capturing and
// consumed immediately by the downsampler.
type Frame struct {
	// Samples in the range [-1, 1]. Values outside the range are clamped
	// during PCM conversion.
	Samples []float32

	// SampleRate of this frame in Hz (the device's native rate).
	SampleRate int
}
