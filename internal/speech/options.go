package speech

const (
	MinRate       = 0.5
	MaxRate       = 2.0
	MinPitch      = -4.0
	MaxPitch      = 4.0
	DefaultRate   = 1.0
	DefaultVolume = 1.0
)

// Options tune one utterance. Zero Rate and Volume mean "use the default";
// use a tiny positive volume for near-silence. Pitch 0 is a real pitch, so
// PitchSet marks it explicit; a nonzero Pitch is always explicit.
type Options struct {
	Rate      float64
	Pitch     float64
	PitchSet  bool
	Volume    float64
	VoiceName string
}

// WithPitch returns o with an explicit pitch, zero included.
func (o Options) WithPitch(p float64) Options {
	o.Pitch = p
	o.PitchSet = true
	return o
}

func (o Options) normalized() Options {
	if o.Rate == 0 {
		o.Rate = DefaultRate
	}
	if o.Volume == 0 {
		o.Volume = DefaultVolume
	}
	o.Rate = clampFloat(o.Rate, MinRate, MaxRate)
	o.Pitch = clampFloat(o.Pitch, MinPitch, MaxPitch)
	o.Volume = clampFloat(o.Volume, 0, 1)
	return o
}

// FollowUp is spoken once after the primary utterance ends normally.
type FollowUp struct {
	Text       string
	Language   Language
	Options    Options
	OnComplete func()
	OnError    func(error)
}

type SpeakRequest struct {
	Text       string
	Language   Language
	Options    Options
	FollowUp   *FollowUp
	OnComplete func()
	OnError    func(error)
}

func clampFloat(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
