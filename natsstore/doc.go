// Package natsstore implements types.MetadataStore on NATS JetStream KV.
//
// Each cluster uses two buckets:
//
//	<prefix>-meta       persistent entries, History 1, no TTL
//	<prefix>-ephemeral  session-bound entries, TTL = session timeout
//
// Paths map to keys by replacing "/" with "." ("/orders/LIVEINSTANCES/n1" is
// "orders.LIVEINSTANCES.n1"). A path lives in exactly one of the buckets.
//
// A session is a UUID owned by this process. A keepalive loop rewrites every
// ephemeral entry the session owns with a compare-and-set on its last
// revision; a mismatch means the entry expired or was taken over, which ends
// the session. If the connection stays down longer than the session timeout
// the session is declared expired as well. Expired entries leave per-key
// delete markers (LimitMarkerTTL) so watchers observe the expiry.
package natsstore
