// Package mqtt provides MQTT client connectivity for the spool scale core.
//
// The core uses MQTT twice:
//
//   - The local hardware bus, a broker on the appliance that connects the
//     core to the scale, tag reader and display driver processes.
//   - The optional printer control channel, a TLS connection straight to
//     the printer's built-in broker.
//
// Both use the same Client, built from Options. Subscriptions are tracked
// and restored after a reconnect, and handlers run with panic recovery.
//
//	client, err := mqtt.Connect(mqtt.OptionsFromConfig(cfg.MQTT))
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topics := mqtt.NewTopics(cfg.MQTT.TopicPrefix)
//	err = client.Subscribe(topics.ScaleWeight(), 1, handler)
package mqtt
