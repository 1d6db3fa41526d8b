// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens zombiezen SQLite connection pools with the
// pragmas agentrelay expects.
//
// Two kinds of database pass through here. Databases agentrelay owns
// (the device registry) get WAL journaling, NORMAL synchronous, a busy
// timeout, and the usual cache settings. Databases owned by another
// application (the shared conversation store) are opened with
// Config.Foreign set: only the busy timeout is applied, and the owner's
// journal mode is left alone.
//
// Callers write SQL directly with sqlitex.Execute and manage
// transactions with sqlitex.ImmediateTransaction:
//
//	conn, err := pool.Take(ctx)
//	if err != nil {
//	    return err
//	}
//	defer pool.Put(conn)
//
//	endTransaction, err := sqlitex.ImmediateTransaction(conn)
//	if err != nil {
//	    return err
//	}
//	defer endTransaction(&err)
package sqlitepool
