// Command medreminder sends due medication reminders by email and SMS.
//
//	medreminder run     one sweep, then exit (for cron or a k8s CronJob)
//	medreminder serve   sweep on DISPATCH_SCHEDULE and serve the ops HTTP API
//	medreminder seed    insert a demo reminder
//
// Exit codes of run: 0 when the sweep completed (channel failures
// included), 1 on a fatal store or setup error, 2 when another sweep holds
// the run claim.
package main

import "os"

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}
