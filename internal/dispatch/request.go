package dispatch

import (
	"fmt"

	"github.com/google/uuid"
)

// Kind identifies the backend call a Request asks for.
type Kind uint8

const (
	KindHeartbeat Kind = iota + 1
	KindWeightUpdate
	KindLocationUpdate
	KindRfidResult
	KindRegister
)

var kindNames = map[Kind]string{
	KindHeartbeat:      "heartbeat",
	KindWeightUpdate:   "weight_update",
	KindLocationUpdate: "location_update",
	KindRfidResult:     "rfid_result",
	KindRegister:       "register",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", k)
}

// Request is one pending backend call. Only the fields relevant to Kind
// are read.
type Request struct {
	ID   uuid.UUID
	Kind Kind

	SpoolID    string
	LocationID string
	// TagUUID is the spool tag for weight and location updates and the
	// written tag for RFID results.
	TagUUID string
	// PeerTagUUID is the location tag of a location update.
	PeerTagUUID    string
	MeasuredWeight float64

	Success      bool
	ErrorMessage string

	BackendURL string
	DeviceCode string
	// Reply, when set, receives the outcome of a Register. It must be
	// buffered; the dispatcher never blocks on it.
	Reply chan error
}

// Heartbeat builds a heartbeat request.
func Heartbeat() Request {
	return Request{ID: uuid.New(), Kind: KindHeartbeat}
}

// WeightUpdate builds a weight report for the given spool.
func WeightUpdate(spoolID, tagUUID string, grams float64) Request {
	return Request{
		ID:             uuid.New(),
		Kind:           KindWeightUpdate,
		SpoolID:        spoolID,
		TagUUID:        tagUUID,
		MeasuredWeight: grams,
	}
}

// LocationUpdate builds a request moving a spool to a location.
func LocationUpdate(spoolID, spoolTagUUID, locationID, locationTagUUID string) Request {
	return Request{
		ID:          uuid.New(),
		Kind:        KindLocationUpdate,
		SpoolID:     spoolID,
		TagUUID:     spoolTagUUID,
		LocationID:  locationID,
		PeerTagUUID: locationTagUUID,
	}
}

// RfidResult builds the report of a backend-requested tag write.
func RfidResult(tagUUID, spoolID, locationID string, success bool, errMsg string) Request {
	return Request{
		ID:           uuid.New(),
		Kind:         KindRfidResult,
		TagUUID:      tagUUID,
		SpoolID:      spoolID,
		LocationID:   locationID,
		Success:      success,
		ErrorMessage: errMsg,
	}
}

// Register builds a registration request with a buffered reply channel.
func Register(backendURL, deviceCode string) Request {
	return Request{
		ID:         uuid.New(),
		Kind:       KindRegister,
		BackendURL: backendURL,
		DeviceCode: deviceCode,
		Reply:      make(chan error, 1),
	}
}
