// Command gridlink monitors and controls a volunteer-computing daemon.
//
// One-shot commands (status, mode, prefs, project, transfer, attach,
// acctmgr, messages, quit) connect, run one request, and exit. The monitor
// command runs the long-lived service that keeps status fresh, journals
// history, and exports metrics. History reads the journal the monitor and
// the attach commands write.
package main
