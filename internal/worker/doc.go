// Package worker runs background jobs on a fixed pool of goroutines fed by a
// bounded in-memory queue. It keeps slow side effects, such as mail delivery,
// out of HTTP request handling.
//
// Jobs are not persisted: jobs still queued when the process stops are lost.
package worker
