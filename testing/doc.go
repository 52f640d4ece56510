// Package testing provides test utilities for the helmsman library.
//
// It follows Go's convention of shipping testing helpers in a dedicated
// package (similar to net/http/httptest).
//
// Key utilities:
//   - StartEmbeddedNATS: In-process NATS server with JetStream
//   - Connect: Additional client connection per simulated process
//   - CreateJetStreamKV: Convenience wrapper for KV bucket creation
//   - NewTestLogger: Logger bound to testing.TB
//
// Example usage:
//
//	import (
//	    "testing"
//	    helmsmantest "github.com/arloliu/helmsman/testing"
//	)
//
//	func TestMyComponent(t *testing.T) {
//	    _, nc := helmsmantest.StartEmbeddedNATS(t)
//	    // Use nc for your tests
//	}
package testing
