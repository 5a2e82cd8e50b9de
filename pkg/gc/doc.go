// Package gc reclaims trie nodes that are no longer reachable from any
// protected root.
//
// Two sweeps cooperate:
//
//   - IncrementalSweep drains the stale index written by the commit path
//     and deletes nodes whose refcount is still zero.
//   - SweepExpired deletes out-of-window nodes that are absent from a
//     reachable-set Bloom filter built by ReachableBuilder. It catches
//     anything the refcount path misses.
//
// GarbageCollector sequences BuildReach and SweepExpired with a persisted
// phase so an interrupted run resumes instead of starting over. Scheduler
// drives both sweeps on timers.
//
// Every delete re-checks its preconditions inside the deleting
// transaction, so a concurrent commit that re-references a node always
// wins.
package gc
