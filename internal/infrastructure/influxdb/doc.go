// Package influxdb records dispatch outcomes as InfluxDB v2 metrics.
//
// Each resolved dispatch request becomes one dispatch_outcome point tagged
// with resource, action, status and origin (rule or manual), plus rule_id
// for rule dispatches. Writes are batched and never block the notification
// bus. Rejected batches are logged and counted; the count is reported by
// GET /api/v1/metrics.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // metrics turned off
//	}
//	defer client.Close()
//	client.SetLogger(log)
//
//	client.WriteDispatchOutcome(influxdb.DispatchOutcome{
//	    Resource: "icarus-server", Action: "restart", Status: "SUCCESS",
//	})
package influxdb
