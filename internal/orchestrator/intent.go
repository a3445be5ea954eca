package orchestrator

import "fmt"

// IntentKind identifies a user request coming from the local UI.
type IntentKind uint8

const (
	IntentTare IntentKind = iota + 1
	IntentCalibrate
	IntentSetAutoTare
	// IntentReconnect asks for an immediate heartbeat.
	IntentReconnect
)

func (k IntentKind) String() string {
	switch k {
	case IntentTare:
		return "tare"
	case IntentCalibrate:
		return "calibrate"
	case IntentSetAutoTare:
		return "set_auto_tare"
	case IntentReconnect:
		return "reconnect"
	}
	return fmt.Sprintf("intent(%d)", k)
}

// Intent is a user request applied on the loop goroutine.
type Intent struct {
	Kind    IntentKind
	Enabled bool
}
