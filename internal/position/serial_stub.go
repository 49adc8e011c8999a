//go:build !linux

package position

import (
	"fmt"
	"os"
)

func openSerial(path string, baud int) (*os.File, error) {
	return nil, fmt.Errorf("%w: serial gps not supported on this platform", ErrCapabilityUnavailable)
}
