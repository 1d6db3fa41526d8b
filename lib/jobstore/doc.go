// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package jobstore holds the in-memory registry of asynchronous agent
// jobs.
//
// A [Store] owns every [Job] behind one mutex and hands out copies:
// callers never see a pointer into the map, so reading a job while the
// engine finishes it is always safe. Status transitions follow
//
//	pending -> processing -> completed | failed | cancelled
//	pending -> cancelled
//
// Every write of a terminal status is a compare-and-set against "not
// yet terminal". A cancellation that lands while the agent is still
// running therefore wins over the completion that arrives later, and
// the completion gets [ErrTerminal] back instead of overwriting it.
//
// Jobs are not persisted. The conversation store is the system of
// record; a restart forgets every job, and [Store.Reap] forgets
// terminal jobs once they are older than the retention period.
package jobstore
