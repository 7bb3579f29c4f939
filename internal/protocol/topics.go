package protocol

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/campusgate/doorlock/internal/shared"
)

// Event types carried on events/<type>.
const (
	EventRFID   = "rfid"
	EventButton = "button"
)

// TopicKind distinguishes event topics from status topics.
type TopicKind int

const (
	KindEvent TopicKind = iota + 1
	KindStatus
)

// Topic is a parsed inbound topic.
type Topic struct {
	Namespace string
	DeviceID  int64
	Kind      TopicKind
	Event     string
}

// ParseTopic accepts <ns>/doorlock/<id>/events/<type> and <ns>/doorlock/<id>/status.
// The namespace itself may contain slashes.
func ParseTopic(topic string) (Topic, error) {
	parts := strings.Split(topic, "/")
	n := len(parts)
	switch {
	case n >= 5 && parts[n-2] == "events" && parts[n-4] == "doorlock":
		id, err := parseDeviceID(parts[n-3])
		if err != nil {
			return Topic{}, err
		}
		return Topic{Namespace: strings.Join(parts[:n-4], "/"), DeviceID: id, Kind: KindEvent, Event: parts[n-1]}, nil
	case n >= 4 && parts[n-1] == "status" && parts[n-3] == "doorlock":
		id, err := parseDeviceID(parts[n-2])
		if err != nil {
			return Topic{}, err
		}
		return Topic{Namespace: strings.Join(parts[:n-3], "/"), DeviceID: id, Kind: KindStatus}, nil
	}
	return Topic{}, fmt.Errorf("%w: unrecognised topic %q", shared.ErrMalformedMessage, topic)
}

// CommandTopic is where verdicts for deviceID are published.
func CommandTopic(namespace string, deviceID int64) string {
	return fmt.Sprintf("%s/doorlock/%d/command", namespace, deviceID)
}

// SubscriptionFilters are the broker wildcards the handler listens on.
func SubscriptionFilters(namespace string) []string {
	return []string{
		namespace + "/doorlock/+/events/+",
		namespace + "/doorlock/+/status",
	}
}

func parseDeviceID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: device id %q", shared.ErrMalformedMessage, raw)
	}
	return id, nil
}

func formatDeviceID(id int64) string {
	return strconv.FormatInt(id, 10)
}
