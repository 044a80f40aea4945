package mqtt

import "strings"

// Topic roots on the Gray Logic bus.
const (
	TopicPrefixBridge = "graylogic"
	TopicPrefixSystem = "graylogic/system"
)

// Topics builds bridge topics of the form graylogic/{category}/{protocol}[/{device}].
type Topics struct{}

func join(parts ...string) string { return strings.Join(parts, "/") }

// BridgeState is where a bridge publishes retained device state.
func (Topics) BridgeState(protocol, deviceID string) string {
	return join(TopicPrefixBridge, "state", protocol, deviceID)
}

// BridgeCommand is where commands for one device arrive.
func (Topics) BridgeCommand(protocol, deviceID string) string {
	return join(TopicPrefixBridge, "command", protocol, deviceID)
}

// BridgeAck carries command acknowledgements.
func (Topics) BridgeAck(protocol, deviceID string) string {
	return join(TopicPrefixBridge, "ack", protocol, deviceID)
}

// BridgeHealth carries the retained bridge health report.
func (Topics) BridgeHealth(protocol string) string {
	return join(TopicPrefixBridge, "health", protocol)
}

// ProtocolCommands matches every command addressed to one protocol.
func (Topics) ProtocolCommands(protocol string) string {
	return join(TopicPrefixBridge, "command", protocol, "#")
}

// ServiceStatus is one service's retained presence topic. Each client ID
// gets its own so services sharing a broker keep separate LWTs.
func (Topics) ServiceStatus(clientID string) string {
	return join(TopicPrefixSystem, "status", clientID)
}
