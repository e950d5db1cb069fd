// Package refresh runs the background loop that keeps published status in
// step with the daemon.
//
// Each cycle checks the channel, reconnects (optionally launching the
// daemon) when it is gone, then reads status, results, projects, transfers,
// working preferences, and new messages in that order. The snapshot is
// published only when every read succeeded. A transport failure closes the
// channel; a daemon-reported failure keeps it. Between cycles the loop
// sleeps for the configured interval unless ForceRefresh wakes it.
package refresh
