//go:build !(linux && (arm || arm64))

package display

import "fmt"

func openLEDLine(pin int) (ledLine, error) {
	return nil, fmt.Errorf("display: gpio led not supported on this platform (pin %d)", pin)
}
