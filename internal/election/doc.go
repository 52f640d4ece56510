// Package election elects the cluster controller through the metadata store.
//
// Leadership is an ephemeral LEADER record under the cluster's CONTROLLER
// node. Candidates race with an atomic create; the winner holds leadership
// for as long as its session lives, because the store removes the record
// together with the session's other ephemerals.
//
// # Leadership Lifecycle
//
//  1. Init: subscribe to the CONTROLLER node and attempt to create LEADER
//  2. Acquire: the creator becomes leader and OnAcquired runs
//  3. Follow: losers re-attempt on every notification and on a poll tick
//  4. Reset: stop attempting, delete our own record, OnLost runs
//
// The poll tick is a fallback for notifications lost while the watch is
// being re-established. Transient store errors back off with jittered
// exponential delay.
//
// # Leadership Check
//
// IsLeader reads the record and compares both the instance name and the
// session id. A record written by an earlier session of the same instance
// is not leadership: the ephemeral is about to disappear with that session.
//
// # Concurrency Safety
//
// Elector methods are safe for concurrent use. OnAcquired and OnLost are
// never called concurrently with each other.
package election
