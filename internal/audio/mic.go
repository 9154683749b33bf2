package audio

import (
	"time"

	"github.com/rs/zerolog"
)

// MicOpener captures from the default input device.
type MicOpener struct {
	// PeriodMillis is the device period; one read returns at least one period of audio.
	PeriodMillis int
	// MaxBufferedMillis caps audio queued between the device callback and Read;
	// older bytes are dropped past it. 0 keeps the whole backlog.
	MaxBufferedMillis int
	IdleTimeout       time.Duration
	Logger            zerolog.Logger
}

func (o *MicOpener) period() int {
	if o.PeriodMillis <= 0 {
		return 100
	}
	return o.PeriodMillis
}

func (o *MicOpener) MinBufferSize(f Format) (int, error) {
	if err := f.Validate(); err != nil {
		return 0, err
	}
	return f.BytesFor(o.period()), nil
}

// maxBuffered is the pipe cap in bytes, 0 for unbounded.
func (o *MicOpener) maxBuffered(f Format) int {
	if o.MaxBufferedMillis <= 0 {
		return 0
	}
	return f.BytesFor(o.MaxBufferedMillis)
}
