package protocol

import (
	"fmt"

	"github.com/huoshan017/mcnet/packet"
)

// Outbound clientbound packet
type Outbound interface {
	ID() int32
	Encode(w *packet.Writer)
}

// Inbound serverbound packet
type Inbound interface {
	Decode(r *packet.Reader) error
}

func finish(r *packet.Reader, name string) error {
	if err := r.Err(); err != nil {
		return fmt.Errorf("decode %v: %w", name, err)
	}
	if r.Remaining() != 0 {
		return fmt.Errorf("decode %v: %w (%v bytes)", name, ErrTrailingBytes, r.Remaining())
	}
	return nil
}

// Handshake first packet of every connection
type Handshake struct {
	ProtocolVersion int32
	ServerAddress   string
	ServerPort      uint16
	NextState       int32
}

func (p *Handshake) Decode(r *packet.Reader) error {
	p.ProtocolVersion = r.VarInt()
	p.ServerAddress = r.String(MaxServerAddressLen)
	p.ServerPort = r.Uint16()
	p.NextState = r.VarInt()
	return finish(r, "handshake")
}

func (p *Handshake) ID() int32 { return IDHandshake }

func (p *Handshake) Encode(w *packet.Writer) {
	w.VarInt(p.ProtocolVersion)
	w.String(p.ServerAddress)
	w.Uint16(p.ServerPort)
	w.VarInt(p.NextState)
}

type StatusRequest struct{}

func (p *StatusRequest) Decode(r *packet.Reader) error {
	return finish(r, "status request")
}

func (p *StatusRequest) ID() int32               { return IDStatusRequest }
func (p *StatusRequest) Encode(w *packet.Writer) {}

type StatusResponse struct {
	JSON string
}

func (p *StatusResponse) ID() int32 { return IDStatusResponse }

func (p *StatusResponse) Encode(w *packet.Writer) {
	w.String(p.JSON)
}

func (p *StatusResponse) Decode(r *packet.Reader) error {
	p.JSON = r.String(MaxPropertyLen)
	return finish(r, "status response")
}

type PingRequest struct {
	Payload int64
}

func (p *PingRequest) Decode(r *packet.Reader) error {
	p.Payload = r.Int64()
	return finish(r, "ping request")
}

func (p *PingRequest) ID() int32 { return IDPingRequest }

func (p *PingRequest) Encode(w *packet.Writer) {
	w.Int64(p.Payload)
}

type PongResponse struct {
	Payload int64
}

func (p *PongResponse) ID() int32 { return IDPongResponse }

func (p *PongResponse) Encode(w *packet.Writer) {
	w.Int64(p.Payload)
}

func (p *PongResponse) Decode(r *packet.Reader) error {
	p.Payload = r.Int64()
	return finish(r, "pong response")
}

type LoginStart struct {
	Name string
	UUID [16]byte
}

func (p *LoginStart) Decode(r *packet.Reader) error {
	p.Name = r.String(MaxPlayerNameLen)
	p.UUID = r.UUID()
	return finish(r, "login start")
}

func (p *LoginStart) ID() int32 { return IDLoginStart }

func (p *LoginStart) Encode(w *packet.Writer) {
	w.String(p.Name)
	w.UUID(p.UUID)
}

type EncryptionRequest struct {
	ServerID     string
	PublicKey    []byte
	VerifyToken  []byte
	Authenticate bool
}

func (p *EncryptionRequest) ID() int32 { return IDEncryptionRequest }

func (p *EncryptionRequest) Encode(w *packet.Writer) {
	w.String(p.ServerID)
	w.ByteArray(p.PublicKey)
	w.ByteArray(p.VerifyToken)
	w.Bool(p.Authenticate)
}

func (p *EncryptionRequest) Decode(r *packet.Reader) error {
	p.ServerID = r.String(MaxServerIDLen)
	p.PublicKey = r.ByteArray(MaxKeyBytesLen)
	p.VerifyToken = r.ByteArray(MaxKeyBytesLen)
	p.Authenticate = r.Bool()
	return finish(r, "encryption request")
}

// EncryptionResponse both fields are rsa encrypted with the server public key
type EncryptionResponse struct {
	SharedSecret []byte
	VerifyToken  []byte
}

func (p *EncryptionResponse) Decode(r *packet.Reader) error {
	p.SharedSecret = r.ByteArray(MaxKeyBytesLen)
	p.VerifyToken = r.ByteArray(MaxKeyBytesLen)
	return finish(r, "encryption response")
}

func (p *EncryptionResponse) ID() int32 { return IDEncryptionResponse }

func (p *EncryptionResponse) Encode(w *packet.Writer) {
	w.ByteArray(p.SharedSecret)
	w.ByteArray(p.VerifyToken)
}

type Property struct {
	Name      string `json:"name"`
	Value     string `json:"value"`
	Signature string `json:"signature,omitempty"`
}

type LoginSuccess struct {
	UUID       [16]byte
	Name       string
	Properties []Property
}

func (p *LoginSuccess) ID() int32 { return IDLoginSuccess }

func (p *LoginSuccess) Encode(w *packet.Writer) {
	w.UUID(p.UUID)
	w.String(p.Name)
	w.VarInt(int32(len(p.Properties)))
	for i := range p.Properties {
		prop := &p.Properties[i]
		w.String(prop.Name)
		w.String(prop.Value)
		w.Bool(prop.Signature != "")
		if prop.Signature != "" {
			w.String(prop.Signature)
		}
	}
}

func (p *LoginSuccess) Decode(r *packet.Reader) error {
	p.UUID = r.UUID()
	p.Name = r.String(MaxPlayerNameLen)
	n := r.VarInt()
	if n < 0 {
		return fmt.Errorf("decode login success: %w", packet.ErrNegativeLength)
	}
	if int(n) > r.Remaining() {
		return fmt.Errorf("decode login success: %w", packet.ErrShortPayload)
	}
	p.Properties = make([]Property, 0, n)
	for i := int32(0); i < n && r.Err() == nil; i++ {
		var prop Property
		prop.Name = r.String(MaxPropertyLen)
		prop.Value = r.String(MaxPropertyLen)
		if r.Bool() {
			prop.Signature = r.String(MaxPropertyLen)
		}
		p.Properties = append(p.Properties, prop)
	}
	return finish(r, "login success")
}

type SetCompression struct {
	Threshold int32
}

func (p *SetCompression) ID() int32 { return IDSetCompression }

func (p *SetCompression) Encode(w *packet.Writer) {
	w.VarInt(p.Threshold)
}

func (p *SetCompression) Decode(r *packet.Reader) error {
	p.Threshold = r.VarInt()
	return finish(r, "set compression")
}

// LoginDisconnect reason is a json text component
type LoginDisconnect struct {
	Reason string
}

func (p *LoginDisconnect) ID() int32 { return IDLoginDisconnect }

func (p *LoginDisconnect) Encode(w *packet.Writer) {
	w.String(TextComponent(p.Reason))
}

func (p *LoginDisconnect) Decode(r *packet.Reader) error {
	p.Reason = r.String(MaxChatLen)
	return finish(r, "login disconnect")
}

type LoginAcknowledged struct{}

func (p *LoginAcknowledged) Decode(r *packet.Reader) error {
	return finish(r, "login acknowledged")
}

func (p *LoginAcknowledged) ID() int32               { return IDLoginAcknowledged }
func (p *LoginAcknowledged) Encode(w *packet.Writer) {}

type KeepAliveServerbound struct {
	KeepAliveID int64
}

func (p *KeepAliveServerbound) Decode(r *packet.Reader) error {
	p.KeepAliveID = r.Int64()
	return finish(r, "keep alive")
}

func (p *KeepAliveServerbound) ID() int32 { return IDKeepAliveServerbound }

func (p *KeepAliveServerbound) Encode(w *packet.Writer) {
	w.Int64(p.KeepAliveID)
}

type KeepAliveClientbound struct {
	KeepAliveID int64
}

func (p *KeepAliveClientbound) ID() int32 { return IDKeepAliveClientbound }

func (p *KeepAliveClientbound) Encode(w *packet.Writer) {
	w.Int64(p.KeepAliveID)
}

func (p *KeepAliveClientbound) Decode(r *packet.Reader) error {
	p.KeepAliveID = r.Int64()
	return finish(r, "keep alive")
}

// PlayDisconnect play state disconnect, reason is sent as a plain text
// component through the same json form as login
type PlayDisconnect struct {
	Reason string
}

func (p *PlayDisconnect) ID() int32 { return IDPlayDisconnect }

func (p *PlayDisconnect) Encode(w *packet.Writer) {
	w.String(TextComponent(p.Reason))
}
