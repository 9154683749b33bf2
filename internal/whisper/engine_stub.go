//go:build !whisper_cpp

package whisper

// NativeAvailable reports whether whisper.cpp is compiled in.
func NativeAvailable() bool { return false }

// NewNativeEngine fails unless built with -tags whisper_cpp.
func NewNativeEngine(opts NativeOptions) (Engine, error) {
	return nil, ErrNativeUnavailable
}
