package client

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/huoshan017/mcnet/buffer"
	"github.com/huoshan017/mcnet/common"
	"github.com/huoshan017/mcnet/packet"
	"github.com/huoshan017/mcnet/protocol"
)

var (
	ErrDisconnected     = errors.New("mcnet: disconnected by server")
	ErrUnexpectedPacket = common.ErrUnexpectedPacket
	ErrPongMismatch     = errors.New("mcnet: pong payload mismatch")
	ErrNotConnected     = errors.New("mcnet: client not connected")
)

// cipherReader decipher bytes as they are read from the connection
type cipherReader struct {
	r      io.Reader
	cipher *packet.PeerCipher
}

func (cr *cipherReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	if n > 0 && cr.cipher != nil {
		cr.cipher.DecryptBytes(p[:n])
	}
	return n, err
}

// Client blocking protocol client, one goroutine at a time
type Client struct {
	options   ClientOptions
	connector *Connector
	addr      string
	conn      net.Conn
	cr        cipherReader
	br        *bufio.Reader
	cipher    *packet.PeerCipher
	compress  *packet.CompressionContext
	state     protocol.State
	reader    packet.Reader
	frame     []byte
	body      []byte
}

func NewClient(options ...common.Option) *Client {
	c := &Client{}
	c.options.Options = *common.NewOptions()
	for _, option := range options {
		option(&c.options.Options)
	}
	c.options.Normalize()
	if c.options.GetDialTimeout() <= 0 {
		c.options.SetDialTimeout(DefaultDialTimeout)
	}
	if c.options.GetReadTimeout() <= 0 {
		c.options.SetReadTimeout(DefaultReadTimeout)
	}
	return c
}

func (c *Client) Connect(addr string) error {
	c.connector = NewConnector()
	conn, err := c.connector.Connect(addr, c.options.GetDialTimeout())
	if err != nil {
		return err
	}
	c.addr = addr
	c.conn = conn
	c.cr = cipherReader{r: conn}
	c.br = bufio.NewReader(&c.cr)
	c.state = protocol.StateHandshake
	return nil
}

func (c *Client) State() protocol.State {
	return c.state
}

func (c *Client) IsConnected() bool {
	return c.connector != nil && c.connector.IsConnected()
}

func (c *Client) Close() error {
	if c.connector == nil {
		return nil
	}
	c.state = protocol.StateClosed
	if c.compress != nil {
		c.compress.Close()
		c.compress = nil
	}
	return c.connector.Close()
}

// Client.EnableEncryption bytes already buffered arrived enciphered
func (c *Client) EnableEncryption(secret []byte) error {
	pc, err := packet.NewPeerCipher(secret)
	if err != nil {
		return err
	}
	c.cipher = pc
	c.cr.cipher = pc
	if n := c.br.Buffered(); n > 0 {
		buffered, _ := c.br.Peek(n)
		pc.DecryptBytes(buffered)
	}
	return nil
}

func (c *Client) EnableCompression(threshold int) error {
	ctx, err := packet.NewCompressionContext(c.options.GetCompressType(), threshold)
	if err != nil {
		return err
	}
	c.compress = ctx
	return nil
}

// Client.Send frame, compress and encipher p
func (c *Client) Send(p protocol.Outbound) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	body := buffer.NewBuffer(0)
	defer body.Release()
	w := packet.NewWriter(body)
	w.VarInt(p.ID())
	p.Encode(w)

	frame := buffer.NewBuffer(body.Len() + 2*packet.MaxVarIntLen)
	defer frame.Release()
	if err := c.frameBody(frame, body.Bytes()); err != nil {
		return err
	}
	out := frame.Bytes()
	if c.cipher != nil {
		c.cipher.EncryptBytes(out)
	}
	_, err := c.conn.Write(out)
	return err
}

func (c *Client) frameBody(dst *buffer.Buffer, body []byte) error {
	if c.compress == nil {
		packet.WriteVarInt(dst, int32(len(body)))
		dst.Write(body)
		return nil
	}
	if !c.compress.ShouldCompress(len(body)) {
		packet.WriteVarInt(dst, int32(len(body)+1))
		dst.WriteByte(0)
		dst.Write(body)
		return nil
	}
	tmp := buffer.NewBuffer(len(body)/2 + 64)
	defer tmp.Release()
	packet.WriteVarInt(tmp, int32(len(body)))
	if err := c.compress.Compress(tmp, body); err != nil {
		return err
	}
	packet.WriteVarInt(dst, int32(tmp.Len()))
	dst.Write(tmp.Bytes())
	return nil
}

// Client.Next read one packet, the reader is valid until the next call
func (c *Client) Next() (int32, *packet.Reader, error) {
	if c.conn == nil {
		return 0, nil, ErrNotConnected
	}
	c.conn.SetReadDeadline(time.Now().Add(c.options.GetReadTimeout()))
	length, err := packet.ReadVarInt(c.br)
	if err != nil {
		if errors.Is(err, packet.ErrVarIntShort) {
			return 0, nil, io.EOF
		}
		return 0, nil, err
	}
	if length <= 0 || int(length) > packet.MaxUncompressedLength {
		return 0, nil, fmt.Errorf("%w: %v", common.ErrBadFrameLength, length)
	}
	if cap(c.frame) < int(length) {
		c.frame = make([]byte, length)
	}
	frame := c.frame[:length]
	if _, err = io.ReadFull(c.br, frame); err != nil {
		return 0, nil, err
	}

	body := frame
	if c.compress != nil {
		dataLen, n, err := packet.DecodeVarInt(frame)
		if err != nil {
			return 0, nil, pkgerrors.WithMessage(err, "data length")
		}
		body = frame[n:]
		if dataLen != 0 {
			if dataLen < 0 || dataLen > packet.MaxUncompressedLength {
				return 0, nil, fmt.Errorf("%w: %v", common.ErrBadCompressedLen, dataLen)
			}
			if cap(c.body) < int(dataLen) {
				c.body = make([]byte, dataLen)
			}
			body = c.body[:dataLen]
			if err = c.compress.Decompress(body, frame[n:]); err != nil {
				return 0, nil, err
			}
		}
	}
	c.reader.Reset(body)
	id := c.reader.VarInt()
	if err = c.reader.Err(); err != nil {
		return 0, nil, pkgerrors.WithMessage(err, "packet id")
	}
	return id, &c.reader, nil
}

func (c *Client) handshake(intent int32) error {
	host, portStr, err := net.SplitHostPort(c.addr)
	if err != nil {
		return err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return err
	}
	if h := c.options.GetServerHost(); h != "" {
		host = h
	}
	return c.Send(&protocol.Handshake{
		ProtocolVersion: protocol.ProtocolVersion,
		ServerAddress:   host,
		ServerPort:      uint16(port),
		NextState:       intent,
	})
}

func (c *Client) expect(id int32, p protocol.Inbound) error {
	got, r, err := c.Next()
	if err != nil {
		return err
	}
	if got != id {
		return fmt.Errorf("%w: 0x%02x in state %v, expect 0x%02x", ErrUnexpectedPacket, got, c.state, id)
	}
	return p.Decode(r)
}

// Client.Ping server list ping, returns the status document and the round trip
func (c *Client) Ping() (*protocol.StatusDocument, time.Duration, error) {
	if err := c.handshake(protocol.IntentStatus); err != nil {
		return nil, 0, err
	}
	c.state = protocol.StateStatus
	if err := c.Send(&protocol.StatusRequest{}); err != nil {
		return nil, 0, err
	}
	var resp protocol.StatusResponse
	if err := c.expect(protocol.IDStatusResponse, &resp); err != nil {
		return nil, 0, err
	}
	doc, err := protocol.ParseStatusDocument(resp.JSON)
	if err != nil {
		return nil, 0, err
	}

	start := time.Now()
	payload := start.UnixMilli()
	if err = c.Send(&protocol.PingRequest{Payload: payload}); err != nil {
		return nil, 0, err
	}
	var pong protocol.PongResponse
	if err = c.expect(protocol.IDPongResponse, &pong); err != nil {
		return nil, 0, err
	}
	if pong.Payload != payload {
		return nil, 0, fmt.Errorf("%w: %v, sent %v", ErrPongMismatch, pong.Payload, payload)
	}
	return doc, time.Since(start), nil
}

// Client.Login run the login sequence up to the play state, answering the
// encryption request and the compression switch on the way
func (c *Client) Login(name string) (*protocol.LoginSuccess, error) {
	if err := c.handshake(protocol.IntentLogin); err != nil {
		return nil, err
	}
	c.state = protocol.StateLogin
	if err := c.Send(&protocol.LoginStart{Name: name}); err != nil {
		return nil, err
	}
	for {
		id, r, err := c.Next()
		if err != nil {
			return nil, err
		}
		switch id {
		case protocol.IDEncryptionRequest:
			var req protocol.EncryptionRequest
			if err = req.Decode(r); err != nil {
				return nil, err
			}
			if err = c.answerEncryption(&req); err != nil {
				return nil, err
			}
		case protocol.IDSetCompression:
			var sc protocol.SetCompression
			if err = sc.Decode(r); err != nil {
				return nil, err
			}
			if sc.Threshold >= 0 {
				if err = c.EnableCompression(int(sc.Threshold)); err != nil {
					return nil, err
				}
			}
		case protocol.IDLoginSuccess:
			var success protocol.LoginSuccess
			if err = success.Decode(r); err != nil {
				return nil, err
			}
			if err = c.Send(&protocol.LoginAcknowledged{}); err != nil {
				return nil, err
			}
			c.state = protocol.StatePlay
			return &success, nil
		case protocol.IDLoginDisconnect:
			var dc protocol.LoginDisconnect
			if err = dc.Decode(r); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %s", ErrDisconnected, dc.Reason)
		default:
			return nil, fmt.Errorf("%w: 0x%02x in state %v", ErrUnexpectedPacket, id, c.state)
		}
	}
}

func (c *Client) answerEncryption(req *protocol.EncryptionRequest) error {
	secret, err := packet.GenSharedSecret()
	if err != nil {
		return err
	}
	encSecret, err := packet.EncryptWithPublicDER(req.PublicKey, secret)
	if err != nil {
		return err
	}
	encToken, err := packet.EncryptWithPublicDER(req.PublicKey, req.VerifyToken)
	if err != nil {
		return err
	}
	if err = c.Send(&protocol.EncryptionResponse{SharedSecret: encSecret, VerifyToken: encToken}); err != nil {
		return err
	}
	return c.EnableEncryption(secret)
}

// Client.KeepAlive answer a clientbound keep alive
func (c *Client) KeepAlive(id int64) error {
	return c.Send(&protocol.KeepAliveServerbound{KeepAliveID: id})
}
