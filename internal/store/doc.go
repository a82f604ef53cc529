// Package store provides persistent storage for talkative using SQLite.
//
// # Architecture
//
// The store package uses an interface-driven architecture with multiple specialized
// interfaces:
//
//   - LedgerStore: Append-only command/event log plus the materialized runs table
//   - AgentStore: The agent registry
//   - AgentEventStore: Per-agent timelines with pruning
//   - ApprovalStore: Human approval requests
//   - UsageStore: Router usage tracking and statistics
//   - PromptStore: Versioned prompt templates
//
// SQLiteStore implements all interfaces in a single struct, allowing easy
// composition while maintaining clear interface boundaries.
//
// # Run Ledger
//
// Every Command or Event is written to ledger_entries in the same transaction
// that upserts its run in the runs table. A run's Steps are read back from
// ledger_entries in insertion order, so history is never rewritten.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Timestamps are stored as fixed-width UTC strings so they order correctly
// in SQL comparisons.
//
// # Error Handling
//
// Common errors:
//
//   - ErrNotFound: Requested entity does not exist
//   - ErrDuplicate: An entity with the same key already exists
//
// All methods accept context.Context for cancellation support.
//
// # Testing
//
// Use NewMockStore() for unit tests:
//
//	store := store.NewMockStore()
//	// store implements all Store interfaces
package store
