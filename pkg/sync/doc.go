// Package sync implements the virtual tag sync pipeline: fetching
// resources from the cost platform, resolving dimension rules against
// their tags, diffing the results against previously applied state and
// uploading the changes.
//
// A single orchestrator goroutine owns all run state. Every external
// interaction (start, cancel, reset, progress snapshots) goes through
// its command channel, so no mutex guards the job; the running pipeline
// reports progress through the same channel. At most one sync runs at a
// time. Cancellation is cooperative and observed at batch boundaries,
// so rows uploaded by completed batches stay applied.
package sync
