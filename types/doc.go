// Package types provides core type definitions and interfaces for the helmsman library.
//
// This package contains shared types that are used across multiple packages in the
// helmsman library. By keeping these types in a separate package, internal components
// (dispatcher, elector, state machine engine, timer lifecycle) can depend on them
// without importing the root package.
//
// Key types:
//   - MetadataStore: Narrow view of the external strongly-consistent store
//   - ChangeEvent / ChangeListener: Change notifications delivered by the dispatcher
//   - Message: Immutable state-transition instruction
//   - StateModel: Pluggable transition table plus handler
//   - TimerTask: Role-bound periodic job
//   - Logger / MetricsCollector: Ambient observability interfaces
package types
