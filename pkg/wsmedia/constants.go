package wsmedia

import "time"

// 서버 -> 클라이언트 메시지 타입
const (
	MsgServerInit  = "server-init"
	MsgServerVideo = "server-video"
	MsgServerAudio = "server-audio"
)

// 클라이언트 -> 서버 메시지 타입
const (
	MsgClientInit   = "client-init"
	MsgClientInfo   = "client-info"
	MsgClientVidAck = "client-vidack"
	MsgClientAudAck = "client-audack"
)

// client-info 이벤트
const (
	EventTimer    = "timer"
	EventRebuffer = "rebuffer"
	EventPlay     = "play"
	EventStartup  = "startup"
)

// LengthUnknown is returned by Open when the stream length is not known in
// advance, which is always the case for this protocol.
const LengthUnknown int64 = -1

// Frame layout
const (
	lengthPrefixSize = 2
	// EncodeFrame writes the prefix as a big-endian uint16; the decoder reads it
	// as two decimal digits, so both only agree while the high byte is zero.
	maxMetadataSize = 255
)

const (
	DefaultChunkDuration    = 2002 * time.Millisecond
	DefaultReportInterval   = 250 * time.Millisecond
	DefaultRebufferInterval = 50 * time.Millisecond
	DefaultBufferThreshold  = 7 * time.Second
	DefaultOpenTimeout      = 30 * time.Second
	DefaultEventBuffer      = 256
)
