// Package dispatcher turns raw metadata store mutations into ordered change
// notifications for registered listeners.
//
// Each armed subscription owns one store watch and one goroutine, so events
// for a subscribed path are delivered in store order while different
// subscriptions progress independently.
//
// Every subscription is armed for exactly one session. The dispatcher keeps a
// generation counter that Invalidate and DisarmAll bump; a subscription only
// delivers while its generation is current, so registrations made for an
// expired session are dead the moment the session change is signalled, even
// before their watchers have been torn down.
//
// Subscriptions carry an owner tag. DisarmAll forgets internally owned ones
// (their owners register again for the next session) and keeps external ones
// registered but disarmed until Arm re-arms them.
package dispatcher
