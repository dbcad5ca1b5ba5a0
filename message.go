package dynsim

import (
	"strconv"
)

// AnyNode marks the receiver of a broadcast message
const AnyNode = -1

// Message is what one node's Application hands to another through the engine
type Message struct {
	ID       string
	From     int
	To       int
	Seq      int
	Payload  any
	SendTime int64

	// Dests holds the receivers of a broadcast; To is AnyNode then
	Dests []int
}

// CreateMessage is a constructor for a point-to-point message
func CreateMessage(from, to int, payload any) *Message {
	return &Message{From: from, To: to, Payload: payload}
}

// CreateBroadcast is a constructor for a message offered to every neighbor
func CreateBroadcast(from int, payload any) *Message {
	return &Message{From: from, To: AnyNode, Payload: payload}
}

// IsBroadcast tells whether the message was sent with Broadcast
func (msg *Message) IsBroadcast() bool {
	return msg.To == AnyNode
}

// msgID forms the "{seq}-{from}-{to}" identity of a message
func msgID(seq, from, to int) string {
	toStr := "ANY"
	if to != AnyNode {
		toStr = strconv.Itoa(to)
	}
	return strconv.Itoa(seq) + "-" + strconv.Itoa(from) + "-" + toStr
}

// copyFor makes the per-receiver copy of a message that has been stamped
func (msg *Message) copyFor(to int) *Message {
	cpy := *msg
	if !msg.IsBroadcast() {
		cpy.To = to
	}
	return &cpy
}
