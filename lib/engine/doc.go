// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package engine runs agent jobs end to end: it claims a job, picks a
// local or remote dispatcher from the session's binding, runs the
// agent, reduces its stream-json output, archives the raw stream,
// persists the exchange, and records the outcome on the job.
//
// Each job runs in its own goroutine. Within a job the order is fixed
// (dispatch, parse, persist); across jobs there is none, including
// jobs on the same session. The engine logs a warning when a job
// starts while another job on its session is still processing.
//
// Cancellation is bookkeeping only. A cancelled job's agent process
// keeps running until it exits or times out; the engine then skips
// persistence, and the job's terminal state is not overwritten because
// terminal writes are compare-and-set in the job store.
//
// [Engine.Converse] runs the same pipeline synchronously, without a
// job record, bounded by the sync timeout.
package engine
