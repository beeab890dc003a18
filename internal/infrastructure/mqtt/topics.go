package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every Warden topic. The client refuses to
// publish or subscribe outside it.
const TopicPrefix = "warden"

// Topics builds Warden topic names so the listener, the outcome sink and
// external publishers agree on them.
//
//	topics := mqtt.Topics{}
//	topics.Event("updates")            // "warden/events/updates"
//	topics.Outcome("icarus-server")    // "warden/outcome/icarus-server"
type Topics struct{}

// Event returns the inbound event topic for a source channel.
func (Topics) Event(channelID string) string {
	return fmt.Sprintf("%s/events/%s", TopicPrefix, channelID)
}

// Outcome returns the topic carrying dispatch outcomes for a resource.
func (Topics) Outcome(resource string) string {
	return fmt.Sprintf("%s/outcome/%s", TopicPrefix, resource)
}

// SystemStatus returns the retained online/offline status topic.
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// AllEvents matches every inbound event topic.
func (Topics) AllEvents() string {
	return TopicPrefix + "/events/+"
}

// AllOutcomes matches every outcome topic.
func (Topics) AllOutcomes() string {
	return TopicPrefix + "/outcome/+"
}

// ChannelFromEventTopic extracts the channel id from an event topic.
// It returns "" when topic is not an event topic.
func ChannelFromEventTopic(topic string) string {
	channel, ok := strings.CutPrefix(topic, TopicPrefix+"/events/")
	if !ok || strings.Contains(channel, "/") {
		return ""
	}
	return channel
}

// checkTopic validates a publish topic (wildcards forbidden) or a
// subscription filter (wildcards allowed).
func checkTopic(topic string, filter bool) error {
	if topic == "" {
		return fmt.Errorf("%w: empty", ErrInvalidTopic)
	}
	if !strings.HasPrefix(topic, TopicPrefix+"/") {
		return fmt.Errorf("%w: %q", ErrForeignTopic, topic)
	}
	for _, level := range strings.Split(topic, "/") {
		if level == "" {
			return fmt.Errorf("%w: empty level in %q", ErrInvalidTopic, topic)
		}
		if !filter && strings.ContainsAny(level, "+#") {
			return fmt.Errorf("%w: wildcard in publish topic %q", ErrInvalidTopic, topic)
		}
	}
	if strings.ContainsRune(topic, 0) {
		return fmt.Errorf("%w: NUL in %q", ErrInvalidTopic, topic)
	}
	return nil
}
