// Package mqttsn is a small MQTT-SN v1.2 client over UDP for constrained
// sensor nodes talking to an MQTT-SN gateway.
//
// A [Client] owns one UDP socket. [Client.Run] is the network loop: it
// must be running in its own goroutine before any request is made, since
// it is the only reader of the socket. Requests (connect, register,
// publish at QoS 1/2, subscribe, unsubscribe, ping, disconnect) are
// serialised so that exactly one is in flight; each waits for its
// acknowledgement and is retransmitted RetryCount times before failing
// with [ErrTimeout].
//
// Inbound PUBLISH messages are dispatched to the matching [Subscription]
// callback on the network goroutine. Callbacks must not call back into
// request methods of the same client.
package mqttsn
