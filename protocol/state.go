package protocol

// State connection protocol state
type State int32

const (
	StateHandshake State = iota
	StateStatus
	StateLogin
	StatePlay
	StateClosed
	StateCount
)

func (s State) String() string {
	switch s {
	case StateHandshake:
		return "handshake"
	case StateStatus:
		return "status"
	case StateLogin:
		return "login"
	case StatePlay:
		return "play"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// IsValid states that own a dispatch table
func (s State) IsValid() bool {
	return s >= StateHandshake && s < StateClosed
}

const (
	ProtocolVersion = 770
	VersionName     = "1.21.5"
)

// handshake next state
const (
	IntentStatus   int32 = 1
	IntentLogin    int32 = 2
	IntentTransfer int32 = 3
)

// max packet id per state, bound of the dispatch table
const MaxPacketID = 0x80

// serverbound
const (
	IDHandshake int32 = 0x00

	IDStatusRequest int32 = 0x00
	IDPingRequest   int32 = 0x01

	IDLoginStart         int32 = 0x00
	IDEncryptionResponse int32 = 0x01
	IDLoginPluginResp    int32 = 0x02
	IDLoginAcknowledged  int32 = 0x03

	IDKeepAliveServerbound int32 = 0x1A
)

// clientbound
const (
	IDStatusResponse int32 = 0x00
	IDPongResponse   int32 = 0x01

	IDLoginDisconnect   int32 = 0x00
	IDEncryptionRequest int32 = 0x01
	IDLoginSuccess      int32 = 0x02
	IDSetCompression    int32 = 0x03

	IDPlayDisconnect       int32 = 0x1C
	IDKeepAliveClientbound int32 = 0x26
)

// string field limits
const (
	MaxServerAddressLen = 255
	MaxPlayerNameLen    = 16
	MaxServerIDLen      = 20
	MaxChatLen          = 262144
	MaxPropertyLen      = 32767
	MaxKeyBytesLen      = 1024
)
