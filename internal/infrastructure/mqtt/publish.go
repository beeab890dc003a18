package mqtt

import (
	"encoding/json"
	"fmt"
)

// Publish sends payload on topic at the configured QoS. Retain only
// status; outcomes are events and must not be replayed to late subscribers.
func (c *Client) Publish(topic string, payload []byte, retained bool) error {
	if err := checkTopic(topic, false); err != nil {
		return err
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: %s: payload is %d bytes, limit %d", ErrPublishFailed, topic, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, c.qos, retained, payload)
	if !token.WaitTimeout(operationTimeout) {
		return fmt.Errorf("%w: %s: no ack after %v", ErrPublishFailed, topic, operationTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
	}
	return nil
}

// PublishJSON encodes v and publishes it unretained. The outcome sink uses
// it for warden/outcome/{resource}.
func (c *Client) PublishJSON(topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %s: encoding payload: %w", ErrPublishFailed, topic, err)
	}
	return c.Publish(topic, payload, false)
}
