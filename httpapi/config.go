package httpapi

import "time"

// Config defines the mock task backend HTTP settings.
type Config struct {
	Addr string
	// Heartbeat is the interval of heartbeat frames on open streams. Zero disables them.
	Heartbeat time.Duration
	// Retry is the reconnect hint sent to stream clients. Zero omits it.
	Retry time.Duration
}
