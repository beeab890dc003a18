package mqtt

import "errors"

// Errors returned by Client. Match them with errors.Is.
var (
	// ErrNotConnected means the broker connection is down. The listener and
	// the outcome sink treat it as transient.
	ErrNotConnected = errors.New("mqtt: not connected to broker")

	// ErrConnectionFailed means the initial connection could not be made.
	ErrConnectionFailed = errors.New("mqtt: broker connection failed")

	// ErrPublishFailed wraps broker rejections, timeouts and oversized payloads.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed wraps broker rejections and timeouts on subscribe.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrForeignTopic is returned for topics outside the warden/ hierarchy.
	ErrForeignTopic = errors.New("mqtt: topic is outside the warden/ hierarchy")

	// ErrInvalidTopic covers empty topics, empty levels and wildcards in a
	// publish topic. Outcome topics embed resource names, so a name with
	// + or # is rejected here instead of fanning out to other subscribers.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")
)
