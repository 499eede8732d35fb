// Package influxdb writes payload metrics to InfluxDB v2.
//
// Three measurements are recorded, each tagged with the vehicle's site id:
//
//	camera_capture   duration_ms, success (tags: mode, error)
//	camera_download  bytes, duration_ms, format
//	camera_status    connected, battery, pending_images, counters
//
// Writes are non-blocking and batched per the batch_size and
// flush_interval settings. A flight without a ground InfluxDB simply
// runs with the integration disabled.
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB, cfg.Site.ID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	client.WriteCapture(influxdb.CaptureSample{Duration: d, Success: true})
package influxdb
