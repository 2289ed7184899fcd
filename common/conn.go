package common

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/huoshan017/mcnet/buffer"
	"github.com/huoshan017/mcnet/log"
	"github.com/huoshan017/mcnet/packet"
	"github.com/huoshan017/mcnet/pool"
	"github.com/huoshan017/mcnet/protocol"
)

// Conn one client connection. Everything except Send and the send ring
// belongs to the network goroutine; mu only guards the outbound path
// (send ring, outbound compressor and cipher).
type Conn struct {
	id         uint64
	sock       ISocket
	owner      IConnOwner
	options    *Options
	dispatcher *Dispatcher
	state      protocol.State

	persistent *pool.Arena // 连接生命周期内的内存
	scratch    *pool.Arena // 单次接收循环内的临时内存
	recv       *buffer.Ring
	reader     packet.Reader

	recvRegion   buffer.Regions // 未完成的读预留，PENDING后原样重发
	recvReserved bool
	sendRegion   buffer.Regions
	sendReserved bool

	mu         sync.Mutex
	send       *buffer.Ring
	compress   *packet.CompressionContext
	cipher     *packet.PeerCipher
	sendClosed bool

	flushQueued atomic.Bool
	closing     bool // 发送完缓冲后关闭
	closingAt   time.Time
	closed      bool
	err         error

	name        []byte
	uuid        [16]byte
	verifyToken []byte
	secret      []byte

	lastKeepAlive    time.Time
	keepAliveSent    time.Time
	keepAliveID      int64
	keepAlivePending bool

	datas map[string]any
}

// NewConn create connection over an accepted socket, options must be normalized
func NewConn(id uint64, sock ISocket, owner IConnOwner, dispatcher *Dispatcher, options *Options) *Conn {
	c := &Conn{
		id:         id,
		sock:       sock,
		owner:      owner,
		options:    options,
		dispatcher: dispatcher,
		state:      protocol.StateHandshake,
		persistent: pool.NewArena(options.GetArenaChunkSize(), options.GetPersistentArenaMax()),
		scratch:    pool.NewArena(options.GetArenaChunkSize(), options.GetScratchArenaMax()),
	}
	c.recv = buffer.NewRing(c.persistent.Alloc(options.GetRecvBuffSize()))
	c.send = buffer.NewRing(c.persistent.Alloc(options.GetSendBuffSize()))
	c.lastKeepAlive = time.Now()
	return c
}

func (c *Conn) ID() uint64 {
	return c.id
}

func (c *Conn) State() protocol.State {
	return c.state
}

func (c *Conn) Options() *Options {
	return c.options
}

// Conn.Executor post work back to the network goroutine
func (c *Conn) Executor() IExecutor {
	return c.owner
}

func (c *Conn) Socket() ISocket {
	return c.sock
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.sock.RemoteAddr()
}

// Conn.RemoteIP peer ip without port
func (c *Conn) RemoteIP() string {
	addr := c.sock.RemoteAddr()
	if addr == nil {
		return ""
	}
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

// Conn.SetState protocol state transition
func (c *Conn) SetState(s protocol.State) error {
	ok := false
	switch s {
	case protocol.StateStatus, protocol.StateLogin:
		ok = c.state == protocol.StateHandshake
	case protocol.StatePlay:
		ok = c.state == protocol.StateLogin
	case protocol.StateClosed:
		ok = true
	}
	if !ok {
		return fmt.Errorf("%w: %v -> %v", ErrInvalidState, c.state, s)
	}
	c.state = s
	return nil
}

func (c *Conn) Name() string {
	return string(c.name)
}

// Conn.SetName player name, kept in the connection arena
func (c *Conn) SetName(name string) {
	c.name = c.persistent.Alloc(len(name))
	copy(c.name, name)
}

func (c *Conn) UUID() [16]byte {
	return c.uuid
}

func (c *Conn) SetUUID(u [16]byte) {
	c.uuid = u
}

func (c *Conn) VerifyToken() []byte {
	return c.verifyToken
}

func (c *Conn) SetVerifyToken(token []byte) {
	c.verifyToken = c.persistent.Alloc(len(token))
	copy(c.verifyToken, token)
}

// Conn.SharedSecret negotiated secret, nil before encryption
func (c *Conn) SharedSecret() []byte {
	return c.secret
}

func (c *Conn) SetData(key string, data any) {
	if c.datas == nil {
		c.datas = make(map[string]any)
	}
	c.datas[key] = data
}

func (c *Conn) GetData(key string) any {
	return c.datas[key]
}

// Conn.Err cause of the close, or of the protocol error that is closing it
func (c *Conn) Err() error {
	return c.err
}

func (c *Conn) IsClosed() bool {
	return c.closed
}

func (c *Conn) IsClosing() bool {
	return c.closing
}

// Conn.ClosingSince when CloseAfterFlush was called
func (c *Conn) ClosingSince() time.Time {
	return c.closingAt
}

func (c *Conn) IsEncrypted() bool {
	return c.cipher != nil
}

func (c *Conn) IsCompressed() bool {
	return c.compress != nil
}

func (c *Conn) fail(err error) IOCode {
	if c.err == nil {
		c.err = err
	}
	return IOCError
}

// Conn.OnReadable read from the socket until it would block, deciphering
// and handling every complete packet
func (c *Conn) OnReadable() IOCode {
	for !c.closed && !c.closing {
		if !c.recvReserved {
			if c.recv.Free() == 0 {
				return c.fail(ErrFrameTooLong)
			}
			c.recvRegion = c.recv.Reserve(c.recv.Free())
			c.recvReserved = true
		}
		n, code := c.sock.Read(c.recvRegion)
		if code != IOCOk {
			if code == IOCClosed && c.err == nil {
				c.err = ErrConnClosed
			}
			return code
		}
		c.recvReserved = false
		if n == 0 {
			continue
		}
		c.recv.Commit(n)
		if c.cipher != nil {
			c.cipher.Decrypt(c.recv.Regions(c.recv.Len()-n, n))
		}
		if code = c.ReceivePackets(); code != IOCAgain {
			return code
		}
	}
	if c.closed {
		return IOCClosed
	}
	return IOCAgain
}

// Conn.ReceivePackets handle complete packets in the recv ring, AGAIN when
// the ring holds only part of the next one
func (c *Conn) ReceivePackets() IOCode {
	for !c.closed && !c.closing {
		length, n, err := packet.PeekVarInt(c.recv, 0)
		if err != nil {
			if errors.Is(err, packet.ErrVarIntShort) {
				return IOCAgain
			}
			return c.fail(pkgerrors.WithMessage(err, "frame length"))
		}
		if length <= 0 {
			return c.fail(fmt.Errorf("%w: %v", ErrBadFrameLength, length))
		}
		if int(length) > c.options.GetMaxFrameLength() {
			return c.fail(fmt.Errorf("%w: %v, max %v", ErrFrameTooLong, length, c.options.GetMaxFrameLength()))
		}
		if c.recv.Len() < n+int(length) {
			return IOCAgain
		}

		mark := c.scratch.Save()
		rs := c.recv.Regions(n, int(length))
		frame := rs.First
		if rs.Count() > 1 {
			frame = c.scratch.Alloc(int(length))
			rs.CopyTo(frame)
		}
		// 先消费，帧之后的字节才是剩余数据
		c.recv.Skip(n + int(length))
		err = c.handleFrame(frame)
		c.scratch.Restore(mark)
		if err != nil {
			return c.fail(err)
		}
	}
	if c.closed {
		return IOCClosed
	}
	return IOCAgain
}

func (c *Conn) handleFrame(frame []byte) error {
	body := frame
	if c.compress != nil {
		c.reader.Reset(frame)
		dataLen := c.reader.VarInt()
		if err := c.reader.Err(); err != nil {
			return pkgerrors.WithMessage(err, "data length")
		}
		rest := c.reader.Rest()
		if dataLen == 0 {
			body = rest
		} else {
			if dataLen < 0 || int(dataLen) < c.compress.Threshold() || dataLen > packet.MaxUncompressedLength {
				return fmt.Errorf("%w: %v, threshold %v", ErrBadCompressedLen, dataLen, c.compress.Threshold())
			}
			body = c.scratch.Alloc(int(dataLen))
			if err := c.compress.Decompress(body, rest); err != nil {
				return err
			}
		}
	}

	c.reader.Reset(body)
	id := c.reader.VarInt()
	if err := c.reader.Err(); err != nil {
		return pkgerrors.WithMessage(err, "packet id")
	}
	state := c.state
	if state != protocol.StatePlay {
		c.Touch()
	}
	handled, err := c.dispatcher.Dispatch(c, state, id, &c.reader)
	if err != nil {
		return pkgerrors.WithMessagef(err, "conn %v state %v packet 0x%02x", c.id, state, id)
	}
	if !handled {
		log.Debugf("mcnet: conn %v skip packet 0x%02x in state %v", c.id, id, state)
	}
	return nil
}

// Conn.Send encode p into the send ring, safe on any goroutine. The
// network goroutine is asked to flush.
func (c *Conn) Send(p protocol.Outbound) error {
	body := buffer.NewBuffer(0)
	defer body.Release()
	w := packet.NewWriter(body)
	w.VarInt(p.ID())
	p.Encode(w)
	return c.SendBody(body.Bytes())
}

// Conn.SendBody send an encoded packet id and payload
func (c *Conn) SendBody(body []byte) error {
	frame := buffer.NewBuffer(len(body) + 2*packet.MaxVarIntLen)
	defer frame.Release()

	c.mu.Lock()
	if c.sendClosed {
		c.mu.Unlock()
		return ErrConnClosed
	}
	if err := c.frame(frame, body); err != nil {
		c.mu.Unlock()
		return err
	}
	if frame.Len() > c.send.Free() {
		free := c.send.Free()
		c.mu.Unlock()
		return fmt.Errorf("%w: frame %v bytes, free %v", ErrSendBufferFull, frame.Len(), free)
	}
	start := c.send.Len()
	c.send.Write(frame.Bytes())
	if c.cipher != nil {
		c.cipher.Encrypt(c.send.Regions(start, frame.Len()))
	}
	c.mu.Unlock()

	c.requestFlush()
	return nil
}

// frame length prefix and compression, called with mu held
func (c *Conn) frame(dst *buffer.Buffer, body []byte) error {
	var head [packet.MaxVarIntLen]byte
	if c.compress == nil {
		n := packet.PutVarInt(head[:], int32(len(body)))
		dst.Write(head[:n])
		dst.Write(body)
		return nil
	}
	if !c.compress.ShouldCompress(len(body)) {
		n := packet.PutVarInt(head[:], int32(len(body)+1))
		dst.Write(head[:n])
		dst.WriteByte(0)
		dst.Write(body)
		return nil
	}
	tmp := buffer.NewBuffer(len(body)/2 + 64)
	defer tmp.Release()
	n := packet.PutVarInt(head[:], int32(len(body)))
	tmp.Write(head[:n])
	if err := c.compress.Compress(tmp, body); err != nil {
		return err
	}
	n = packet.PutVarInt(head[:], int32(tmp.Len()))
	dst.Write(head[:n])
	dst.Write(tmp.Bytes())
	return nil
}

func (c *Conn) requestFlush() {
	if c.flushQueued.CompareAndSwap(false, true) {
		c.owner.RequestFlush(c)
	}
}

// Conn.HasPendingSend send ring holds unflushed bytes
func (c *Conn) HasPendingSend() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.sendClosed && c.send.Len() > 0
}

// Conn.Flush write the send ring to the socket until empty or would block
func (c *Conn) Flush() IOCode {
	c.flushQueued.Store(false)
	for !c.closed {
		c.mu.Lock()
		if !c.sendReserved {
			if c.send.Len() == 0 {
				c.mu.Unlock()
				return IOCOk
			}
			c.sendRegion = c.send.Regions(0, c.send.Len())
			c.sendReserved = true
		}
		r := c.sendRegion
		c.mu.Unlock()

		n, code := c.sock.Write(r)
		if code != IOCOk {
			if code == IOCClosed && c.err == nil {
				c.err = ErrConnClosed
			}
			return code
		}
		c.mu.Lock()
		c.send.Skip(n)
		c.sendReserved = false
		c.mu.Unlock()
	}
	return IOCClosed
}

// Conn.EnableEncryption switch both directions to aes/cfb8. Bytes already
// received after the current packet arrived enciphered and are deciphered here.
func (c *Conn) EnableEncryption(secret []byte) error {
	if c.cipher != nil {
		return ErrEncryptionEnabled
	}
	pc, err := packet.NewPeerCipher(secret)
	if err != nil {
		return err
	}
	c.secret = c.persistent.Alloc(len(secret))
	copy(c.secret, secret)

	c.mu.Lock()
	c.cipher = pc
	c.mu.Unlock()

	if c.recv.Len() > 0 {
		pc.Decrypt(c.recv.Regions(0, c.recv.Len()))
	}
	return nil
}

// Conn.EnableCompression compress packets of at least threshold bytes from now on
func (c *Conn) EnableCompression(threshold int) error {
	if c.compress != nil {
		return ErrCompressionEnabled
	}
	ctx, err := packet.NewCompressionContext(c.options.GetCompressType(), threshold)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.compress = ctx
	c.mu.Unlock()
	return nil
}

// Conn.Touch refresh keep alive time
func (c *Conn) Touch() {
	c.lastKeepAlive = time.Now()
}

func (c *Conn) LastKeepAlive() time.Time {
	return c.lastKeepAlive
}

// Conn.IsIdle no keep alive within timeout
func (c *Conn) IsIdle(now time.Time, timeout time.Duration) bool {
	return now.Sub(c.lastKeepAlive) > timeout
}

// Conn.SendKeepAlive send a clientbound keep alive when none is pending
// and interval has passed since the last one
func (c *Conn) SendKeepAlive(now time.Time, interval time.Duration) error {
	if c.state != protocol.StatePlay || c.keepAlivePending || now.Sub(c.keepAliveSent) < interval {
		return nil
	}
	id := now.UnixMilli()
	if err := c.Send(&protocol.KeepAliveClientbound{KeepAliveID: id}); err != nil {
		return err
	}
	c.keepAliveID = id
	c.keepAliveSent = now
	c.keepAlivePending = true
	return nil
}

// Conn.OnKeepAlive serverbound keep alive answer
func (c *Conn) OnKeepAlive(id int64) error {
	if !c.keepAlivePending || id != c.keepAliveID {
		return fmt.Errorf("%w: got %v, expect %v", ErrKeepAliveMismatch, id, c.keepAliveID)
	}
	c.keepAlivePending = false
	c.Touch()
	return nil
}

// Conn.Disconnect send the disconnect packet of the current state and close
// once it is flushed
func (c *Conn) Disconnect(reason string) {
	if c.closed || c.closing {
		return
	}
	var err error
	switch c.state {
	case protocol.StateLogin:
		err = c.Send(&protocol.LoginDisconnect{Reason: reason})
	case protocol.StatePlay:
		err = c.Send(&protocol.PlayDisconnect{Reason: reason})
	}
	if err != nil {
		log.Infof("mcnet: conn %v send disconnect err: %v", c.id, err)
	}
	c.CloseAfterFlush(fmt.Errorf("disconnect: %v", reason))
}

// Conn.CloseAfterFlush stop reading, the owner closes the connection when the send ring drains
func (c *Conn) CloseAfterFlush(err error) {
	if c.closed || c.closing {
		return
	}
	c.closing = true
	c.closingAt = time.Now()
	if c.err == nil {
		c.err = err
	}
	c.requestFlush()
}

// Conn.Close tear down, idempotent. Arenas and rings go back to the pool.
func (c *Conn) Close(err error) {
	if c.closed {
		return
	}
	c.closed = true
	c.state = protocol.StateClosed
	if c.err == nil {
		c.err = err
	}
	// 套接字关闭后不会再有完成操作写入缓冲
	if e := c.sock.Close(); e != nil {
		log.Debugf("mcnet: conn %v close socket err: %v", c.id, e)
	}

	c.mu.Lock()
	c.sendClosed = true
	if c.compress != nil {
		c.compress.Close()
	}
	c.send = nil
	c.mu.Unlock()

	c.recv = nil
	c.name = nil
	c.verifyToken = nil
	c.secret = nil
	c.scratch.Release()
	c.persistent.Release()
}
