package telem

import (
	"encoding/binary"
	"fmt"

	"example.com/telemgate/internal/dict"
)

// Resolution names the sender and message of one packet. Descriptor is
// nil when neither a prefix nor an exact identifier matched; the row
// is then skipped without error.
type Resolution struct {
	Family     string
	MessageID  uint16
	Identity   string
	Descriptor *dict.Message
}

// Resolve reads the packet header and finds the applicable descriptor.
// Prefix dispatch (high byte of the message identifier) wins over the
// exact-identifier lookup. The packet must be at least HeaderLength
// bytes; the pipeline rejects shorter rows before calling this.
func Resolve(tree *dict.Tree, pkt []byte) Resolution {
	deviceID := binary.LittleEndian.Uint16(pkt[deviceIDOffset : deviceIDOffset+2])
	messageID := binary.LittleEndian.Uint16(pkt[messageIDOffset : messageIDOffset+2])

	res := Resolution{
		Family:    DeviceFamily(deviceID),
		MessageID: messageID,
	}
	section := tree.Section(res.Family)
	if msg, ok := section.Prefix(uint8(messageID >> 8)); ok {
		res.Identity = fmt.Sprintf("%s/0x%04X", res.Family, messageID)
		res.Descriptor = msg
		return res
	}
	if msg, ok := section.Message(messageID); ok {
		res.Identity = fmt.Sprintf("%s/%d", res.Family, messageID)
		res.Descriptor = msg
		return res
	}
	return res
}
