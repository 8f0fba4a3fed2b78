package models

import "time"

const (
	// DefaultNotificationTTL is how long notification records are retained.
	DefaultNotificationTTL = 7 * 24 * time.Hour

	// DefaultBusyTimeoutMS is the sqlite busy wait for a write lock.
	DefaultBusyTimeoutMS = 10000

	// WorkerPrefetch is the number of in-flight deliveries per worker.
	WorkerPrefetch = 1

	// DefaultPollInterval is how often the SQL queue is polled when idle.
	DefaultPollInterval = time.Second

	// DefaultVisibilityTimeout bounds how long a claimed SQL queue task stays
	// invisible to other workers.
	DefaultVisibilityTimeout = 5 * time.Minute
)
