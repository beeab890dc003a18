package influxdb

import "errors"

var (
	// ErrDisabled is returned by Connect when metrics are turned off. Warden
	// runs without the metrics sink in that case.
	ErrDisabled = errors.New("influxdb: dispatch metrics disabled")

	// ErrConnectionFailed means the server did not answer the startup ping.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrNotConnected is returned by HealthCheck after Close.
	ErrNotConnected = errors.New("influxdb: not connected")
)
