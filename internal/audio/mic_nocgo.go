//go:build !cgo

package audio

import "context"

func (o *MicOpener) Open(_ context.Context, f Format) (Source, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return nil, ErrUnsupported
}
