package ffmpeg

// AudioMode selects how the source audio stream is carried into the output.
type AudioMode int

const (
	// AudioCopy passes the audio stream through untouched.
	AudioCopy AudioMode = iota
	// AudioReencode transcodes audio with the profile's audio codec.
	AudioReencode
)

func (m AudioMode) String() string {
	if m == AudioReencode {
		return "reencode"
	}
	return "copy"
}

// Profile is the fixed encoding profile for watermarked video.
type Profile struct {
	VideoCodec string
	Preset     string
	CRF        int
	AudioCodec string
	// FastStart moves the moov atom to the front for progressive playback.
	FastStart bool
}

var DefaultProfile = Profile{
	VideoCodec: "libx264",
	Preset:     "veryfast",
	CRF:        23,
	AudioCodec: "aac",
	FastStart:  true,
}

// OverlayRequest composites Overlay (a full-frame transparent image) over
// every frame of Input at the top-left corner and writes Output.
type OverlayRequest struct {
	Input   string
	Overlay string
	Output  string
	Audio   AudioMode
}

// probeResult matches ffprobe JSON output structure
type probeResult struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
}
