package telem

const (
	// HeaderLength is the fixed prefix present in every fleet packet.
	// It carries the device identifier at offset 0 and the message
	// identifier at offset 6, both little-endian 16-bit.
	HeaderLength = 16

	deviceIDOffset  = 0
	messageIDOffset = 6

	// DefaultMaxPacketBytes bounds a single packet including its
	// header. Rows above it are skipped by the pipeline.
	DefaultMaxPacketBytes = 1024
)

// ChannelTag names the capture source a row arrived on.
type ChannelTag string

const (
	ChannelRadio   ChannelTag = "radio"
	ChannelCAN     ChannelTag = "can"
	ChannelSerial  ChannelTag = "serial"
	ChannelUnknown ChannelTag = "unknown"
)

// RawMessageRow is one captured packet awaiting decode.
type RawMessageRow struct {
	TimestampMs int64
	Payload     []byte
	Channel     ChannelTag
}

// ParsedSample is one decoded observation. Identity is the composite
// key family/message/field; the first two components name the owning
// message.
type ParsedSample struct {
	Identity    string  `json:"identity"`
	Label       string  `json:"label"`
	Unit        string  `json:"unit,omitempty"`
	IsEnum      bool    `json:"isEnum,omitempty"`
	TimestampMs int64   `json:"ts"`
	Value       float64 `json:"value"`
}

// UniqueMessageEntry catalogs one distinct (device family, message)
// pair and the field labels observed for it.
type UniqueMessageEntry struct {
	Identity    string   `json:"identity"`
	Sender      string   `json:"sender"`
	FieldLabels []string `json:"fieldLabels"`
}
