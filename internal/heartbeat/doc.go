// Package heartbeat provides the participant health-report timer task.
//
// A participant periodically writes a HealthReport under its instance node.
// The controller reads these reports to distinguish a live participant from
// one whose presence record has not expired yet.
//
// # Publisher Lifecycle
//
// The Publisher is a participant-only types.TimerTask:
//
//  1. Create with New(acc, cluster, instance, sessionFn, interval, metrics)
//  2. The session coordinator starts it after each new session
//  3. It writes the first report immediately, then on every interval
//  4. Stop waits for the current write and deletes the report
//
// Example:
//
//	hb := heartbeat.New(acc, "prod", "node-1", mgr.SessionID, 10*time.Second, nil)
//	if err := hb.Start(sessionCtx); err != nil {
//	    return err
//	}
//	defer hb.Stop()
package heartbeat
