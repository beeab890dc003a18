package mqtt

import "fmt"

// Subscribe registers h for a filter under warden/ at the configured QoS.
// The filter is remembered and resubscribed after every reconnect, since
// sessions are clean. Subscribing the same filter again replaces h.
func (c *Client) Subscribe(filter string, h MessageHandler) error {
	if err := checkTopic(filter, true); err != nil {
		return err
	}
	if h == nil {
		return fmt.Errorf("%w: %s: nil handler", ErrSubscribeFailed, filter)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Subscribe(filter, c.qos, c.wrap(h))
	if !token.WaitTimeout(operationTimeout) {
		return fmt.Errorf("%w: %s: no ack after %v", ErrSubscribeFailed, filter, operationTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, filter, err)
	}

	c.subMu.Lock()
	c.handlers[filter] = h
	c.subMu.Unlock()
	return nil
}

// Unsubscribe forgets filter so it is not restored on reconnect. While
// disconnected only the local record is dropped; the clean session has
// already discarded the broker side.
func (c *Client) Unsubscribe(filter string) error {
	c.subMu.Lock()
	delete(c.handlers, filter)
	c.subMu.Unlock()

	if !c.IsConnected() {
		return nil
	}
	token := c.client.Unsubscribe(filter)
	if !token.WaitTimeout(operationTimeout) {
		return fmt.Errorf("mqtt: unsubscribe %s: no ack after %v", filter, operationTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: unsubscribe %s: %w", filter, err)
	}
	return nil
}
