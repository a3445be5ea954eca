package api

import (
	"context"
	"encoding/json"
	"runtime"

	"github.com/filaman/spoolscale/internal/device"
	"github.com/filaman/spoolscale/internal/dispatch"
	"github.com/filaman/spoolscale/internal/orchestrator"
	"github.com/filaman/spoolscale/internal/printer"
	"github.com/filaman/spoolscale/internal/tag"
)

// WebSocket message types, as used by the device web UI.
const (
	WSTypeHeartbeat     = "heartbeat"
	WSTypeNfcData       = "nfcData"
	WSTypeNfcTag        = "nfcTag"
	WSTypeWeight        = "weight"
	WSTypeWriteNfcTag   = "writeNfcTag"
	WSTypeScale         = "scale"
	WSTypeReconnect     = "reconnect"
	WSTypeSetBambuSpool = "setBambuSpool"
	WSTypeError         = "error"
)

const (
	resultSuccess = "success"
	resultError   = "error"

	stateChangeBuffer = 32
)

// WSMessage is the common envelope of UI messages.
type WSMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// wsInbound is a message from the UI.
type wsInbound struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	TagType string          `json:"tagType,omitempty"`
	Enabled bool            `json:"enabled,omitempty"`
}

// HeartbeatMessage answers a UI heartbeat with the device status.
type HeartbeatMessage struct {
	Type             string `json:"type"`
	FreeHeapKB       uint64 `json:"freeHeap"`
	FilamanConnected bool   `json:"filaman_connected"`
	Registered       bool   `json:"registered"`
	AutoTare         bool   `json:"autoTare"`
}

// WeightMessage pushes the current reading.
type WeightMessage struct {
	Type  string `json:"type"`
	Value int16  `json:"value"`
}

// WriteResultMessage reports the end of a UI or backend tag write.
type WriteResultMessage struct {
	Type    string `json:"type"`
	Success int    `json:"success"`
}

// nfcDataFor returns the nfcData message for a tag state, or nil when the
// state has no message of its own.
func nfcDataFor(state device.TagState, payload json.RawMessage) *WSMessage {
	var body any
	switch state {
	case device.TagIdle:
		body = json.RawMessage(`{}`)
	case device.TagReadSuccess:
		if len(payload) == 0 {
			payload = json.RawMessage(`{}`)
		}
		body = payload
	case device.TagReadError:
		body = map[string]string{"error": "Read Error"}
	case device.TagWriting:
		body = map[string]string{"info": "Writing..."}
	case device.TagWriteSuccess:
		body = map[string]string{"info": "Success"}
	case device.TagWriteError:
		body = map[string]string{"error": "Write Error"}
	default:
		return nil
	}
	return &WSMessage{Type: WSTypeNfcData, Payload: body}
}

func nfcTagMessage(found int) WSMessage {
	return WSMessage{Type: WSTypeNfcTag, Payload: map[string]int{"found": found}}
}

// relayStateChanges pushes tag and weight changes to every UI client.
func (s *Server) relayStateChanges(ctx context.Context) {
	changes, cancel := s.deps.State.Subscribe(stateChangeBuffer)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-changes:
			if !ok {
				return
			}
			s.relay(c)
		}
	}
}

func (s *Server) relay(c device.Change) {
	st := c.State
	if c.Fields.Has(device.FieldWeight) {
		s.hub.Broadcast(WeightMessage{Type: WSTypeWeight, Value: st.Weight})
	}
	if !c.Fields.Has(device.FieldTag) {
		return
	}

	if st.TagState != s.lastTagState {
		s.lastTagState = st.TagState
		if msg := nfcDataFor(st.TagState, st.TagPayload); msg != nil {
			s.hub.Broadcast(msg)
		}
	}

	found := -1
	switch st.TagState {
	case device.TagReadSuccess:
		found = 1
	case device.TagReadError:
		found = 0
	}
	if found >= 0 && int32(found) != s.lastFound.Load() {
		s.lastFound.Store(int32(found))
		s.hub.Broadcast(nfcTagMessage(found))
	}
}

// handleClientMessage applies one UI message.
func (s *Server) handleClientMessage(c *WSClient, data []byte) {
	var msg wsInbound
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendJSON(WSMessage{Type: WSTypeError, Payload: "invalid JSON message"})
		return
	}

	switch msg.Type {
	case WSTypeHeartbeat:
		c.sendJSON(s.heartbeatStatus())
	case WSTypeWriteNfcTag:
		s.handleWSWrite(c, msg)
	case WSTypeScale:
		s.handleWSScale(c, msg)
	case WSTypeReconnect:
		if stringPayload(msg.Payload) == "filaman" {
			s.deps.Intents.Submit(orchestrator.Intent{Kind: orchestrator.IntentReconnect})
		}
	case WSTypeSetBambuSpool:
		s.handleWSSetSpool(c, msg)
	default:
		c.sendJSON(WSMessage{Type: WSTypeError, Payload: "unknown message type: " + msg.Type})
	}
}

func (s *Server) heartbeatStatus() HeartbeatMessage {
	hb := HeartbeatMessage{Type: WSTypeHeartbeat, FreeHeapKB: freeMemoryKB()}
	if st, err := s.deps.State.Snapshot(); err == nil {
		hb.FilamanConnected = st.BackendConnected
		hb.Registered = st.Registered
		hb.AutoTare = st.AutoTare
	}
	return hb
}

// freeMemoryKB is the heap the runtime holds but does not use.
func freeMemoryKB() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return (m.HeapIdle - m.HeapReleased) / 1024
}

func (s *Server) handleWSWrite(c *WSClient, msg wsInbound) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(msg.Payload, &obj); err != nil {
		c.sendJSON(WriteResultMessage{Type: WSTypeWriteNfcTag})
		return
	}
	req := tag.WriteRequest{SpoolTag: msg.TagType == "spool", Payload: msg.Payload}
	if err := s.deps.Tags.BeginWrite(req); err != nil {
		s.logger.Debug("tag write from UI not started", "error", err)
		c.sendJSON(WriteResultMessage{Type: WSTypeWriteNfcTag})
	}
}

func (s *Server) handleWSScale(c *WSClient, msg wsInbound) {
	var intent orchestrator.Intent
	switch stringPayload(msg.Payload) {
	case "tare":
		intent.Kind = orchestrator.IntentTare
	case "calibrate":
		intent.Kind = orchestrator.IntentCalibrate
	case "setAutoTare":
		intent = orchestrator.Intent{Kind: orchestrator.IntentSetAutoTare, Enabled: msg.Enabled}
	default:
		c.sendJSON(WSMessage{Type: WSTypeScale, Payload: resultError})
		return
	}
	if !s.deps.Intents.Submit(intent) {
		c.sendJSON(WSMessage{Type: WSTypeScale, Payload: resultError})
		return
	}
	s.hub.Broadcast(WSMessage{Type: WSTypeScale, Payload: resultSuccess})
}

func (s *Server) handleWSSetSpool(c *WSClient, msg wsInbound) {
	reply := WSMessage{Type: WSTypeSetBambuSpool, Payload: resultSuccess}
	if s.deps.Printer == nil {
		reply.Payload = resultError
		c.sendJSON(reply)
		return
	}
	var setting printer.SpoolSetting
	if err := json.Unmarshal(msg.Payload, &setting); err != nil {
		reply.Payload = resultError
		c.sendJSON(reply)
		return
	}
	if err := s.deps.Printer.SetSpool(setting); err != nil {
		s.logger.Warn("setting printer spool failed", "error", err)
		reply.Payload = resultError
	}
	c.sendJSON(reply)
}

func stringPayload(raw json.RawMessage) string {
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	return v
}

// OnWriteOutcome reports a finished tag write to the UI, and to the
// backend when the write came from it. It is the tag coordinator's write
// outcome hook.
func (s *Server) OnWriteOutcome(o tag.WriteOutcome) {
	success := 0
	if o.Err == nil {
		success = 1
	}
	s.hub.Broadcast(WriteResultMessage{Type: WSTypeWriteNfcTag, Success: success})

	if !o.Request.ReportResult {
		return
	}
	var errMsg string
	if o.Err != nil {
		errMsg = o.Err.Error()
	}
	r := dispatch.RfidResult(o.TagUUID, o.Request.SpoolID, o.Request.LocationID, o.Err == nil, errMsg)
	if !s.deps.Queue.Enqueue(r) {
		s.logger.Warn("rfid result dropped, request queue full", "tag_uuid", o.TagUUID)
	}
}
