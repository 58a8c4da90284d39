// Package p2p gossips oracle votes and batch/logic-call confirmations
// between bridge validators over libp2p gossipsub.
package p2p

import "fmt"

// TopicEncoding is the payload encoding of every topic.
const TopicEncoding = "ssz_snappy"

// Topic names for a network.
func VoteTopic(network string) string    { return topic(network, "oracle_vote") }
func ConfirmTopic(network string) string { return topic(network, "confirm") }

func topic(network, name string) string {
	return fmt.Sprintf("/gravity/%s/%s/%s", network, name, TopicEncoding)
}
