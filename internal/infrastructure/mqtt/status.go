package mqtt

import (
	"encoding/json"
	"time"
)

// Presence values for ServiceStatus.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"

	// ReasonCrash is carried by the LWT the broker publishes for us.
	ReasonCrash    = "unexpected_disconnect"
	ReasonShutdown = "graceful_shutdown"
)

// ServiceStatus is the retained presence message a service keeps on
// graylogic/system/status/{client_id}.
type ServiceStatus struct {
	Status    string    `json:"status"`
	ClientID  string    `json:"client_id"`
	Version   string    `json:"version,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (c *Client) status(status, reason string) ServiceStatus {
	return ServiceStatus{
		Status:    status,
		ClientID:  c.cfg.Broker.ClientID,
		Version:   c.opts.Version,
		Reason:    reason,
		Timestamp: time.Now().UTC().Truncate(time.Second),
	}
}

// encode never fails for this flat struct.
func (s ServiceStatus) encode() []byte {
	b, _ := json.Marshal(s)
	return b
}

// publishStatus sends a retained presence update. It waits only when wait is
// set; connect handlers must not block the paho router.
func (c *Client) publishStatus(s ServiceStatus, wait bool) {
	topic := Topics{}.ServiceStatus(s.ClientID)
	tok := c.paho.Publish(topic, c.qos(), true, s.encode())
	if !wait {
		go c.logFailure("publish", topic, tok)
		return
	}
	if err := c.wait("publish", topic, tok); err != nil {
		c.logger().Warn("MQTT status publish failed", "status", s.Status, "error", err)
	}
}
