// Package mqtt provides MQTT client connectivity for shutterd.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// In service mode, MQTT is the command surface of the controller.
// Commands arrive on shutter/command, acknowledgements are published per
// command on shutter/ack/{id}, and the current controller state is
// retained on shutter/state. Availability is signalled on
// shutter/system/status via LWT.
//
//	Home Assistant / scripts ↔ MQTT Broker ↔ shutterd
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//   - Message payloads are not encrypted beyond TLS transport
//
// # Performance Characteristics
//
//   - Connection: <1 second to local broker
//   - Publish latency: <10ms for QoS 1 to local broker
//   - Reconnect: Exponential backoff 1s-60s
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Subscribe to incoming commands
//	err = client.Subscribe(mqtt.Topics{}.Command(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
//
//	// Publish an acknowledgement
//	topic := mqtt.Topics{}.Ack("cmd-abc123")
//	client.Publish(topic, []byte(`{"outcome":"success"}`), 1, false)
package mqtt
