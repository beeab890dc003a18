// Package mqtt connects Warden to an MQTT broker.
//
// The broker is one of Warden's event sources and one of its outcome
// sinks. The client confines itself to the warden/ hierarchy:
//
//	warden/events/{channel}      inbound chat/webhook events (listener)
//	warden/outcome/{resource}    dispatch outcomes (notification sink)
//	warden/system/status         retained online/offline status and Last Will
//
// Sessions are clean. Subscriptions are held by the client and restored on
// every reconnect, and the online status is republished at the same time.
// Both publish and subscribe use the QoS from config.
//
// Enable TLS for any broker reachable off-host (mqtt.broker.tls) and take
// credentials from WARDEN_MQTT_USERNAME / WARDEN_MQTT_PASSWORD.
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	client.SetLogger(log)
//
//	err = client.Subscribe(mqtt.Topics{}.AllEvents(), listener.Handle)
package mqtt
