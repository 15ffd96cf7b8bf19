// Package mongo provides MongoDB-backed implementations of the agent state
// store and the task message store. Build the low-level client via
// features/store/mongo/clients/mongo and pass it to NewStateStore and
// NewMessageStore.
package mongo
