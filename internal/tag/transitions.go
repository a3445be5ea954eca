package tag

import (
	"fmt"

	"github.com/filaman/spoolscale/internal/device"
)

var edges = map[device.TagState][]device.TagState{
	device.TagIdle:         {device.TagReading, device.TagWriting},
	device.TagReading:      {device.TagReadSuccess, device.TagReadError, device.TagIdle, device.TagWriting},
	device.TagReadSuccess:  {device.TagIdle, device.TagWriting},
	device.TagReadError:    {device.TagIdle, device.TagWriting},
	device.TagWriting:      {device.TagWriteSuccess, device.TagWriteError},
	device.TagWriteSuccess: {device.TagIdle, device.TagWriting},
	device.TagWriteError:   {device.TagIdle, device.TagWriting},
}

// CanTransition reports whether the edge from → to exists.
func CanTransition(from, to device.TagState) bool {
	for _, s := range edges[from] {
		if s == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to device.TagState) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
