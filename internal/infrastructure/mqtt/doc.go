// Package mqtt publishes review lifecycle events to an MQTT broker.
//
// The review core does not consume MQTT; it announces state changes so
// that dashboards and downstream workers can follow reviews without
// polling the API. Topics live under the configured prefix:
//
//	{prefix}/review/{device_id}/{event}   submitted, approved, rejected
//	{prefix}/system/status                retained online/offline status
//
// The client reconnects automatically with exponential backoff and
// registers a Last Will so an unexpected disconnect is visible on the
// status topic.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topic := client.Topics().ReviewEvent(deviceID, "approved")
//	err = client.PublishJSON(topic, event)
package mqtt
