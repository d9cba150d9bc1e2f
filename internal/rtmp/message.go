// SPDX-License-Identifier: MIT

package rtmp

import "encoding/binary"

// RTMP message type IDs.
const (
	typeSetChunkSize     uint8 = 1
	typeAbort            uint8 = 2
	typeAck              uint8 = 3
	typeUserControl      uint8 = 4
	typeWindowAckSize    uint8 = 5
	typeSetPeerBandwidth uint8 = 6
	typeAudio            uint8 = 8
	typeVideo            uint8 = 9
	typeDataAMF0         uint8 = 18
	typeCommandAMF0      uint8 = 20
)

// User control (type 4) event IDs.
const (
	eventStreamBegin  uint16 = 0
	eventStreamEOF    uint16 = 1
	eventPingRequest  uint16 = 6
	eventPingResponse uint16 = 7
)

// Chunk stream IDs used for outbound traffic. 2 is reserved for protocol
// control, 3 carries commands, 4 data and 6 media, mirroring the layout most
// encoders use.
const (
	csidControl uint32 = 2
	csidCommand uint32 = 3
	csidData    uint32 = 4
	csidMedia   uint32 = 6
)

// Message is a fully reassembled RTMP message. Payload length is implied by
// len(Payload); the chunk writer fragments it on the way out.
type Message struct {
	ChunkStreamID uint32
	Timestamp     uint32
	TypeID        uint8
	StreamID      uint32
	Payload       []byte
}

// IsMedia reports whether the message carries audio or video data.
func (m *Message) IsMedia() bool {
	return m.TypeID == typeAudio || m.TypeID == typeVideo
}

func controlMessage(typeID uint8, payload []byte) *Message {
	return &Message{ChunkStreamID: csidControl, TypeID: typeID, Payload: payload}
}

func uint32Payload(v uint32) []byte {
	p := make([]byte, 4)
	binary.BigEndian.PutUint32(p, v)
	return p
}

func setChunkSizeMessage(size uint32) *Message {
	return controlMessage(typeSetChunkSize, uint32Payload(size))
}

func ackMessage(sequence uint32) *Message {
	return controlMessage(typeAck, uint32Payload(sequence))
}

func windowAckSizeMessage(size uint32) *Message {
	return controlMessage(typeWindowAckSize, uint32Payload(size))
}

func setPeerBandwidthMessage(size uint32, limitType uint8) *Message {
	p := make([]byte, 5)
	binary.BigEndian.PutUint32(p[:4], size)
	p[4] = limitType
	return controlMessage(typeSetPeerBandwidth, p)
}

func userControlMessage(event uint16, data uint32) *Message {
	p := make([]byte, 6)
	binary.BigEndian.PutUint16(p[:2], event)
	binary.BigEndian.PutUint32(p[2:], data)
	return controlMessage(typeUserControl, p)
}

func streamBeginMessage(streamID uint32) *Message {
	return userControlMessage(eventStreamBegin, streamID)
}

func streamEOFMessage(streamID uint32) *Message {
	return userControlMessage(eventStreamEOF, streamID)
}

func pingResponseMessage(timestamp uint32) *Message {
	return userControlMessage(eventPingResponse, timestamp)
}

// commandMessage encodes an AMF0 command message addressed to streamID.
func commandMessage(streamID uint32, values ...any) (*Message, error) {
	payload, err := EncodeAMF(values...)
	if err != nil {
		return nil, err
	}
	return &Message{
		ChunkStreamID: csidCommand,
		TypeID:        typeCommandAMF0,
		StreamID:      streamID,
		Payload:       payload,
	}, nil
}

// onStatusMessage builds the onStatus notification RTMP peers expect after
// publish/play transitions. CSID 5 keeps status traffic off the command
// chunk stream, matching common server behavior.
func onStatusMessage(streamID uint32, level, code, description string) (*Message, error) {
	payload, err := EncodeAMF("onStatus", float64(0), nil, map[string]any{
		"level":       level,
		"code":        code,
		"description": description,
	})
	if err != nil {
		return nil, err
	}
	return &Message{
		ChunkStreamID: 5,
		TypeID:        typeCommandAMF0,
		StreamID:      streamID,
		Payload:       payload,
	}, nil
}
