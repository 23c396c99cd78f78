package audio

// VADConfig holds configuration for energy-based voice activity detection
type VADConfig struct {
	EnergyThreshold float64 // RMS level above which a frame counts as speech
	SilenceFrames   int     // consecutive quiet frames that end an utterance
	FrameSize       int     // samples per frame
}

// FrameSizeFor returns the sample count of a 20ms frame
func FrameSizeFor(sampleRate int) int {
	size := sampleRate / 50
	if size < 1 {
		return 1
	}
	return size
}

// DefaultVADConfig returns a VAD configuration for 16kHz audio
// with one second of trailing silence.
func DefaultVADConfig() *VADConfig {
	return &VADConfig{
		EnergyThreshold: 500.0,
		SilenceFrames:   50,
		FrameSize:       FrameSizeFor(16000),
	}
}

// VADDetector tracks speech state frame by frame
type VADDetector struct {
	config         *VADConfig
	silenceCounter int
	isSpeaking     bool
	heardSpeech    bool
	pending        []int16
}

// NewVADDetector creates a new VAD detector
func NewVADDetector(config *VADConfig) *VADDetector {
	if config == nil {
		config = DefaultVADConfig()
	}
	if config.FrameSize < 1 {
		config.FrameSize = 1
	}
	return &VADDetector{config: config}
}

// ProcessFrame classifies one frame.
// Returns: (isSpeaking, speechStarted, speechEnded)
func (v *VADDetector) ProcessFrame(samples []int16) (bool, bool, bool) {
	frameHasSpeech := CalculateRMS(samples) > v.config.EnergyThreshold

	var speechStarted, speechEnded bool

	if frameHasSpeech {
		v.silenceCounter = 0
		if !v.isSpeaking {
			speechStarted = true
			v.isSpeaking = true
			v.heardSpeech = true
		}
	} else {
		v.silenceCounter++
		if v.isSpeaking && v.silenceCounter >= v.config.SilenceFrames {
			speechEnded = true
			v.isSpeaking = false
			v.silenceCounter = 0
		}
	}

	return v.isSpeaking, speechStarted, speechEnded
}

// Feed splits an arbitrary run of samples into frames, carrying any
// partial frame over to the next call. It reports whether an utterance
// ended within this run.
func (v *VADDetector) Feed(samples []int16) bool {
	ended := false
	size := v.config.FrameSize

	v.pending = append(v.pending, samples...)
	for len(v.pending) >= size {
		if _, _, end := v.ProcessFrame(v.pending[:size]); end {
			ended = true
		}
		v.pending = v.pending[size:]
	}

	// Keep the carried-over tail from pinning a large backing array
	if len(v.pending) == 0 {
		v.pending = nil
	} else if cap(v.pending) > 4*size {
		v.pending = append([]int16(nil), v.pending...)
	}

	return ended
}

// HeardSpeech reports whether any speech frame has been seen since the last reset
func (v *VADDetector) HeardSpeech() bool {
	return v.heardSpeech
}

// Reset resets the VAD detector state
func (v *VADDetector) Reset() {
	v.silenceCounter = 0
	v.isSpeaking = false
	v.heardSpeech = false
	v.pending = nil
}

// IsSpeaking returns whether speech is currently detected
func (v *VADDetector) IsSpeaking() bool {
	return v.isSpeaking
}
