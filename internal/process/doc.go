// Package process supervises the hardware driver processes.
//
// The scale, tag reader and display drivers run as separate programs that
// talk to the core over the hardware bus. A Manager starts one driver,
// logs its output line by line, restarts it when it exits or goes quiet
// on the bus, and stops it with SIGTERM (then SIGKILL) when the core
// shuts down.
//
//	mgr := process.NewManager(process.Config{
//	    Name:       "scale",
//	    Binary:     "/usr/lib/spoolscale/hx711d",
//	    Args:       []string{"--bus", "spoolscale"},
//	    StaleAfter: 30 * time.Second,
//	    LastSeen:   bridge.LastSeen,
//	})
//	g.Go(func() error { return mgr.Run(ctx) })
package process
