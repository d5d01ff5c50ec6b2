package mqtt

import "errors"

var (
	ErrDisabled         = errors.New("mqtt: disabled")
	ErrNotConnected     = errors.New("mqtt: client not connected")
	ErrConnectionFailed = errors.New("mqtt: connection failed")
	ErrPublishFailed    = errors.New("mqtt: publish failed")
	ErrInvalidQoS       = errors.New("mqtt: qos must be 0, 1 or 2")
	ErrInvalidTopic     = errors.New("mqtt: empty topic")
)
