// Package influxdb provides InfluxDB connectivity for auth flow metrics.
//
// It wraps the official influxdb-client-go v2 library with non-blocking
// batched writes. Metrics are advisory: a failed write never fails the
// authentication flow that produced it.
package influxdb
