package mqtttest

import "sync/atomic"

var subscriptionIDs atomic.Int32

// Inline subscription ids must be unique per filter; any positive value works.
func nextSubscriptionID() int {
	return int(subscriptionIDs.Add(1))
}
