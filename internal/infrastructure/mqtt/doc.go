// Package mqtt connects the service to the Gray Logic MQTT bus.
//
// The client wraps paho.mqtt.golang. It reconnects on its own, replays
// subscriptions after a reconnect and keeps a retained ServiceStatus on
// graylogic/system/status/{client_id}. The broker flips that status to
// offline through the LWT if the process dies.
//
//	client, err := mqtt.Connect(cfg.MQTT, mqtt.ConnectOptions{Version: version, Logger: log})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.ProtocolCommands("tasmota"), 1, handle)
package mqtt
