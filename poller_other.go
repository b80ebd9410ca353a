//go:build !linux

package framesock

// NewPoller returns the platform readiness multiplexer.
func NewPoller() (Poller, error) {
	return nil, ErrUnsupportedPlatform
}
