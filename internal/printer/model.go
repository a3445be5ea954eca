// Package printer talks to a Bambu Lab printer over its local MQTT
// channel: it tracks the AMS trays from the printer's reports and sets
// the filament loaded in a tray.
package printer

import "strings"

// Model is a printer model.
type Model uint8

const (
	ModelUnknown Model = iota
	ModelX1C
	ModelX1
	ModelX1E
	ModelP1P
	ModelP1S
	ModelP2S
	ModelA1
	ModelA1Mini
	ModelH2D
	ModelH2DPro
	ModelH2C
	ModelH2S
)

var modelNames = [...]string{
	ModelUnknown: "UNKNOWN",
	ModelX1C:     "X1C",
	ModelX1:      "X1",
	ModelX1E:     "X1E",
	ModelP1P:     "P1P",
	ModelP1S:     "P1S",
	ModelP2S:     "P2S",
	ModelA1:      "A1",
	ModelA1Mini:  "A1_MINI",
	ModelH2D:     "H2D",
	ModelH2DPro:  "H2D_PRO",
	ModelH2C:     "H2C",
	ModelH2S:     "H2S",
}

func (m Model) String() string {
	if int(m) < len(modelNames) {
		return modelNames[m]
	}
	return modelNames[ModelUnknown]
}

// ParseModel maps a model name to a Model. Matching ignores case and
// accepts "-" or " " in place of "_".
func ParseModel(s string) Model {
	norm := strings.ToUpper(strings.TrimSpace(s))
	norm = strings.NewReplacer("-", "_", " ", "_").Replace(norm)
	for i, name := range modelNames {
		if name == norm && Model(i) != ModelUnknown { //nolint:gosec // Bounded by modelNames
			return Model(i) //nolint:gosec // Bounded by modelNames
		}
	}
	return ModelUnknown
}

// IsH2Series reports whether m is one of the H2 printers.
func (m Model) IsH2Series() bool {
	switch m {
	case ModelH2D, ModelH2DPro, ModelH2C, ModelH2S:
		return true
	}
	return false
}

// IsA1Series reports whether m is an A1 or A1 mini.
func (m Model) IsA1Series() bool {
	return m == ModelA1 || m == ModelA1Mini
}

// MarshalText implements encoding.TextMarshaler.
func (m Model) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}
