//go:build !windows

package device

import "fmt"

func openNamedPipe(spec Spec) (Device, error) {
	return nil, fmt.Errorf("%w: named pipes are only available on Windows", ErrMisconfigured)
}
