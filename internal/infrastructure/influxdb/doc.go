// Package influxdb records review metrics in InfluxDB.
//
// Every review transition (submission, approval, rejection) is written as
// a point in the review_transitions measurement, tagged by facility,
// customer and event, so review throughput and decision latency can be
// charted per facility.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteReviewTransition(influxdb.ReviewTransition{...})
//
// Writes are non-blocking and batched according to batch_size and
// flush_interval. Async write errors are delivered to the SetOnError callback.
package influxdb
