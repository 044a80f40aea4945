package tasmota

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-tasmota/internal/infrastructure/mqtt"
)

// MQTT message types exchanged between Gray Logic and the Tasmota bridge.

// Protocol is the protocol identifier used in topics and messages.
const Protocol = "tasmota"

// CommandSet is the only command the bridge accepts: write properties.
const CommandSet = "set"

// CommandMessage is sent from Core to the bridge to write device properties.
// Topic: graylogic/command/tasmota/{device_id}
type CommandMessage struct {
	// ID uniquely identifies this command for correlation with acknowledgments.
	ID string `json:"id"`

	// Timestamp is when the command was issued (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// DeviceID is the Gray Logic device identifier.
	// Falls back to the topic suffix when empty.
	DeviceID string `json:"device_id"`

	// Command must be "set".
	Command string `json:"command"`

	// Parameters maps property names to values.
	// Example: {"on": true, "brightness": 40}
	Parameters map[string]any `json:"parameters,omitempty"`

	// Source indicates where the command originated ("api", "automation").
	Source string `json:"source"`
}

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted indicates the properties were cached and sent to the device.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"
)

// AckMessage is sent from the bridge to Core to acknowledge a command.
// Topic: graylogic/ack/tasmota/{device_id}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`
	Status    AckStatus `json:"status"`
	Protocol  string    `json:"protocol"`
	Error     *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes for command failures.
const (
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeNotConfigured     = "NOT_CONFIGURED"
	ErrCodeReadOnly          = "READ_ONLY"
)

// StateMessage is sent from the bridge when a device property changes.
// It carries every known property so the retained copy is complete.
// Topic: graylogic/state/tasmota/{device_id}
// QoS: 1, Retained: Yes
type StateMessage struct {
	DeviceID  string         `json:"device_id"`
	Timestamp time.Time      `json:"timestamp"`
	State     map[string]any `json:"state"`

	// Changed names the property that triggered this message.
	Changed string `json:"changed"`

	// Source is "poll" or "command".
	Source   Source `json:"source"`
	Protocol string `json:"protocol"`
	Address  string `json:"address"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthOffline  HealthStatus = "offline"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports the bridge's operational status.
// Topic: graylogic/health/tasmota
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge         string       `json:"bridge"`
	Timestamp      time.Time    `json:"timestamp"`
	Status         HealthStatus `json:"status"`
	Version        string       `json:"version"`
	UptimeSeconds  int64        `json:"uptime_seconds"`
	DevicesManaged int          `json:"devices_managed"`

	// DevicesUnreachable counts devices with no successful poll recently.
	DevicesUnreachable int    `json:"devices_unreachable"`
	Reason             string `json:"reason,omitempty"`
}

// UnmarshalJSON unmarshals a CommandMessage, tolerating a missing timestamp.
func (m *CommandMessage) UnmarshalJSON(data []byte) error {
	type Alias CommandMessage
	aux := &struct {
		*Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias: (*Alias)(m),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return fmt.Errorf("unmarshal command message: %w", err)
	}
	if aux.Timestamp != "" {
		t, err := time.Parse(time.RFC3339, aux.Timestamp)
		if err != nil {
			return fmt.Errorf("parse timestamp: %w", err)
		}
		m.Timestamp = t
	}
	return nil
}

// NewAckMessage creates an acknowledgment message for a command.
func NewAckMessage(cmd CommandMessage, status AckStatus) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  cmd.DeviceID,
		Status:    status,
		Protocol:  Protocol,
	}
}

// NewAckError creates a failed acknowledgment with error details.
func NewAckError(cmd CommandMessage, code, message string) AckMessage {
	ack := NewAckMessage(cmd, AckFailed)
	ack.Error = &AckError{Code: code, Message: message}
	return ack
}

// NewStateMessage creates a state message for a device.
func NewStateMessage(deviceID, address string, state map[string]any, change Change) StateMessage {
	return StateMessage{
		DeviceID:  deviceID,
		Timestamp: time.Now().UTC(),
		State:     state,
		Changed:   change.Property,
		Source:    change.Source,
		Protocol:  Protocol,
		Address:   address,
	}
}

// Topic helpers

// topics builds the shared Gray Logic bridge topics.
var topics mqtt.Topics

// TopicPrefix is the base topic for all Gray Logic messages.
const TopicPrefix = mqtt.TopicPrefixBridge

// CommandTopic returns the command topic for a device.
// Example: graylogic/command/tasmota/kitchen-light
func CommandTopic(deviceID string) string {
	return topics.BridgeCommand(Protocol, deviceID)
}

// AckTopic returns the acknowledgment topic for a device.
func AckTopic(deviceID string) string {
	return topics.BridgeAck(Protocol, deviceID)
}

// StateTopic returns the state topic for a device.
func StateTopic(deviceID string) string {
	return topics.BridgeState(Protocol, deviceID)
}

// HealthTopic returns the bridge health topic.
func HealthTopic() string {
	return topics.BridgeHealth(Protocol)
}

// CommandSubscribeTopic returns the subscription pattern for all commands.
func CommandSubscribeTopic() string {
	return topics.ProtocolCommands(Protocol)
}

// deviceIDFromTopic returns the last topic level of a command topic.
func deviceIDFromTopic(topic string) string {
	prefix := strings.TrimSuffix(CommandSubscribeTopic(), "#")
	if !strings.HasPrefix(topic, prefix) {
		return ""
	}
	return strings.TrimPrefix(topic, prefix)
}
