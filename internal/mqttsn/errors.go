package mqttsn

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by operations that need a session.
	ErrNotConnected = errors.New("mqttsn: not connected")
	// ErrTimeout is returned when the gateway did not answer after all
	// retransmissions.
	ErrTimeout = errors.New("mqttsn: no response from gateway")
	// ErrOverflow is returned when a message does not fit the buffer.
	ErrOverflow = errors.New("mqttsn: message too large")
	// ErrMalformed is returned for datagrams that are not valid MQTT-SN.
	ErrMalformed = errors.New("mqttsn: malformed packet")
	// ErrNoSubscription is returned when unsubscribing an unknown topic.
	ErrNoSubscription = errors.New("mqttsn: no such subscription")
	// ErrClosed is returned once the network loop has stopped.
	ErrClosed = errors.New("mqttsn: client closed")
)

// ReturnCodeError reports a request the gateway answered with a non-zero
// return code.
type ReturnCodeError struct {
	Op   MsgType
	Code ReturnCode
}

func (e *ReturnCodeError) Error() string {
	return fmt.Sprintf("mqttsn: %s %s", e.Op, e.Code)
}

func checkCode(op MsgType, rc ReturnCode) error {
	if rc == Accepted {
		return nil
	}
	return &ReturnCodeError{Op: op, Code: rc}
}
