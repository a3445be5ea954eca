package mqtt

import "strings"

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "spoolscale"

// Topics builds hardware bus topics under a common prefix.
//
//	topics := mqtt.NewTopics("spoolscale")
//	topics.ScaleWeight() // "spoolscale/hw/scale/weight"
type Topics struct {
	prefix string
}

// NewTopics returns a builder for prefix. Trailing slashes are trimmed.
func NewTopics(prefix string) Topics {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

func (t Topics) hw(parts ...string) string {
	return t.prefix + "/hw/" + strings.Join(parts, "/")
}

// ScaleWeight carries conditioned readings from the scale driver.
func (t Topics) ScaleWeight() string { return t.hw("scale", "weight") }

// ScaleCommand carries tare/calibrate/auto-tare commands to the scale driver.
func (t Topics) ScaleCommand() string { return t.hw("scale", "command") }

// NFCEvent carries tag detection, read and write results from the tag driver.
func (t Topics) NFCEvent() string { return t.hw("nfc", "event") }

// NFCWrite carries tag write requests to the tag driver.
func (t Topics) NFCWrite() string { return t.hw("nfc", "write") }

// DisplayFrame carries render frames to the display driver.
func (t Topics) DisplayFrame() string { return t.hw("display", "frame") }

// AllHardware matches every hardware bus topic.
func (t Topics) AllHardware() string { return t.prefix + "/hw/#" }

// CoreState is the retained snapshot of the device state.
func (t Topics) CoreState() string { return t.prefix + "/core/state" }

// SystemStatus carries the core's online/offline status and Last Will.
func (t Topics) SystemStatus() string { return t.prefix + "/system/status" }
