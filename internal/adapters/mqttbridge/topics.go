package mqttbridge

import (
	"fmt"
	"strings"
)

// Topic layout:
//
//	skybus/event/{device}/{property}/{define|update|delete}
//	skybus/event/{device}/message
//	skybus/req/change
//	skybus/req/enableBLOB
//	skybus/req/get
//
// Requests carry the addressing in the JSON payload, so device names never
// have to survive a round trip through topic segments.
const (
	TopicPrefix = "skybus"

	segmentEvent   = "event"
	segmentRequest = "req"

	EventDefine  = "define"
	EventUpdate  = "update"
	EventDelete  = "delete"
	EventMessage = "message"

	RequestChangeTopic     = TopicPrefix + "/" + segmentRequest + "/change"
	RequestEnableBLOBTopic = TopicPrefix + "/" + segmentRequest + "/enableBLOB"
	RequestGetTopic        = TopicPrefix + "/" + segmentRequest + "/get"
)

// sanitizeSegment makes an arbitrary name safe as one topic level.
func sanitizeSegment(s string) string {
	return strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(s)
}

// EventTopic returns the publish topic for one property event.
func EventTopic(device, prop, event string) string {
	return fmt.Sprintf("%s/%s/%s/%s/%s",
		TopicPrefix, segmentEvent, sanitizeSegment(device), sanitizeSegment(prop), event)
}

// MessageTopic returns the publish topic for device log messages. The
// device segment is "server" for messages without a source device.
func MessageTopic(device string) string {
	if device == "" {
		device = "server"
	}
	return fmt.Sprintf("%s/%s/%s/%s",
		TopicPrefix, segmentEvent, sanitizeSegment(device), EventMessage)
}

// ParseEventTopic splits an event topic back into device, property and
// event name.
func ParseEventTopic(topic string) (device, prop, event string, err error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 5 || parts[0] != TopicPrefix || parts[1] != segmentEvent {
		return "", "", "", fmt.Errorf("not an event topic: %q", topic)
	}
	return parts[2], parts[3], parts[4], nil
}
