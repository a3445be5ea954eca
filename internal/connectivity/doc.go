// Package connectivity watches the network link and restarts the
// appliance when it stays down.
//
// The Watchdog is driven by the orchestrator on a fixed cadence (one
// minute by default). Each check that finds the link down counts a
// failure; the count reaching the limit triggers exactly one restart. A
// good check clears the count. The "reconnecting" notice is shown on the
// falling edge only.
package connectivity
