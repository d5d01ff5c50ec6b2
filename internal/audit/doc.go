// Package audit records who changed what.
//
// Entries land in the audit_logs table. Request handlers and event sinks
// enqueue them through a Recorder so a slow SQLite write never holds up an
// HTTP response; the Recorder drains serially in one goroutine.
package audit
