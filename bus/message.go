// Package bus carries invalidations between cache instances. The transport is
// best-effort and eventually consistent; a lost message only delays staleness
// until the local TTL or an explicit invalidation catches up.
package bus

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/zoocache/zoocache.go/common"
)

// InvalidateChannel is the pub/sub channel name for tag invalidations.
func InvalidateChannel(prefix string) string {
	return prefix + ":invalidate"
}

// InspectRequestChannel and InspectReplyChannel name the optional remote
// inspection round-trip.
func InspectRequestChannel(prefix string) string {
	return prefix + ":inspect:request"
}

func InspectReplyChannel(prefix string) string {
	return prefix + ":inspect:reply"
}

// Message is one tag invalidation on the wire: `{tag}|{timestamp_decimal}`.
type Message struct {
	Tag       string
	Timestamp int64 // unix seconds at the publisher
}

func (m Message) Encode() []byte {
	return []byte(m.Tag + "|" + strconv.FormatInt(m.Timestamp, 10))
}

// ParseMessage decodes and validates a wire payload. The tag must pass tag
// validation; a payload that does not is dropped by the subscriber.
func ParseMessage(payload []byte) (Message, error) {
	sep := bytes.LastIndexByte(payload, '|')
	if sep < 0 {
		return Message{}, fmt.Errorf("bus: malformed payload %q", payload)
	}
	tag := string(payload[:sep])
	if err := common.ValidateTag(tag); err != nil {
		return Message{}, fmt.Errorf("bus: %w", err)
	}
	ts, err := strconv.ParseInt(string(payload[sep+1:]), 10, 64)
	if err != nil {
		return Message{}, fmt.Errorf("bus: malformed timestamp in %q", payload)
	}
	return Message{Tag: tag, Timestamp: ts}, nil
}
