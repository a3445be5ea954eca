// Package hardware bridges the hardware bus to the core.
//
// The scale, tag reader and display drivers run as separate processes
// and exchange JSON messages with the core over the local MQTT broker:
//
//	{prefix}/hw/scale/weight    driver -> core   {"weight_g": 812.4, "calibrated": true}
//	{prefix}/hw/scale/command   core -> driver   {"command": "tare"}
//	{prefix}/hw/nfc/event       driver -> core   {"event": "read", "tag_uuid": "04A2B3C4", "data": {...}}
//	{prefix}/hw/nfc/write       core -> driver   {"tag_type": "spool", "payload": {...}}
//	{prefix}/hw/display/frame   core -> driver   {"kind": "weight", "grams": 812}
//
// The Bridge translates inbound messages into registry and tag
// coordinator calls, and implements the outbound collaborator interfaces
// the core uses (tag writer, scale commands, display renderer).
package hardware
