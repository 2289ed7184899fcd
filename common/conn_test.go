package common

import (
	"bytes"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/huoshan017/mcnet/buffer"
	"github.com/huoshan017/mcnet/packet"
	"github.com/huoshan017/mcnet/protocol"
)

type testSocket struct {
	in       [][]byte
	pending  int // 之后的读先返回几次PENDING
	lastRead buffer.Regions
	out      []byte
	maxWrite int
	closed   bool
}

func (s *testSocket) feed(b []byte) {
	s.in = append(s.in, append([]byte(nil), b...))
}

func (s *testSocket) Read(r buffer.Regions) (int, IOCode) {
	if s.closed {
		return 0, IOCError
	}
	if s.pending > 0 {
		s.pending--
		s.lastRead = r
		return 0, IOCPending
	}
	if len(s.in) == 0 {
		return 0, IOCAgain
	}
	s.lastRead = r
	chunk := s.in[0]
	n := r.CopyFrom(chunk)
	if n < len(chunk) {
		s.in[0] = chunk[n:]
	} else {
		s.in = s.in[1:]
	}
	return n, IOCOk
}

func (s *testSocket) Write(r buffer.Regions) (int, IOCode) {
	if s.closed {
		return 0, IOCError
	}
	b := r.Bytes()
	if s.maxWrite > 0 && len(b) > s.maxWrite {
		b = b[:s.maxWrite]
	}
	s.out = append(s.out, b...)
	return len(b), IOCOk
}

func (s *testSocket) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 50000}
}

func (s *testSocket) Close() error {
	s.closed = true
	return nil
}

type testOwner struct {
	flushes int
}

func (o *testOwner) Post(fn func()) {
	fn()
}

func (o *testOwner) RequestFlush(c *Conn) {
	o.flushes++
}

func newTestConn(recvSize, sendSize int, d *Dispatcher) (*Conn, *testSocket, *testOwner) {
	opts := NewOptions()
	opts.SetRecvBuffSize(recvSize)
	opts.SetSendBuffSize(sendSize)
	opts.Normalize()
	sock := &testSocket{}
	owner := &testOwner{}
	return NewConn(1, sock, owner, d, opts), sock, owner
}

func encodeBody(p protocol.Outbound) []byte {
	buf := buffer.NewBuffer(0)
	defer buf.Release()
	w := packet.NewWriter(buf)
	w.VarInt(p.ID())
	p.Encode(w)
	return append([]byte(nil), buf.Bytes()...)
}

func plainFrame(p protocol.Outbound) []byte {
	body := encodeBody(p)
	return append(packet.AppendVarInt(nil, int32(len(body))), body...)
}

func compressedFrame(t *testing.T, p protocol.Outbound, threshold int) []byte {
	body := encodeBody(p)
	var payload []byte
	if len(body) < threshold {
		payload = append([]byte{0}, body...)
	} else {
		ctx, err := packet.NewCompressionContext(packet.CompressZlib, threshold)
		if err != nil {
			t.Fatalf("compression context err %v", err)
		}
		out := buffer.NewBuffer(0)
		if err = ctx.Compress(out, body); err != nil {
			t.Fatalf("compress err %v", err)
		}
		payload = append(packet.AppendVarInt(nil, int32(len(body))), out.Bytes()...)
	}
	return append(packet.AppendVarInt(nil, int32(len(payload))), payload...)
}

// moveToLogin drive the state machine through the handshake
func moveToLogin(t *testing.T, c *Conn) {
	if err := c.SetState(protocol.StateLogin); err != nil {
		t.Fatalf("set login state err %v", err)
	}
}

func TestPartialPacketResumption(t *testing.T) {
	d := NewDispatcher()
	var pings []int64
	Register(d, protocol.StateStatus, protocol.IDPingRequest, func(c *Conn, p *protocol.PingRequest) error {
		pings = append(pings, p.Payload)
		return nil
	})
	c, sock, _ := newTestConn(32, 64, d)
	defer c.Close(nil)
	c.SetState(protocol.StateStatus)

	// 包逐字节到达，环形缓冲多次回绕
	var stream []byte
	for i := int64(1); i <= 6; i++ {
		stream = append(stream, plainFrame(&protocol.PingRequest{Payload: i * 1000})...)
	}
	for i, b := range stream {
		sock.feed([]byte{b})
		if code := c.OnReadable(); code != IOCAgain {
			t.Fatalf("byte %v read code %v err %v", i, code, c.Err())
		}
		frames := 0
		for _, f := range []int{10, 20, 30, 40, 50, 60} {
			if i+1 >= f {
				frames++
			}
		}
		if len(pings) != frames {
			t.Fatalf("after %v bytes %v pings handled, expect %v", i+1, len(pings), frames)
		}
	}
	for i, p := range pings {
		if p != int64(i+1)*1000 {
			t.Errorf("ping %v payload %v", i, p)
		}
	}
}

func TestPendingReadKeepsReservation(t *testing.T) {
	d := NewDispatcher()
	handled := 0
	Register(d, protocol.StateStatus, protocol.IDPingRequest, func(c *Conn, p *protocol.PingRequest) error {
		handled++
		return nil
	})
	c, sock, _ := newTestConn(64, 64, d)
	defer c.Close(nil)
	c.SetState(protocol.StateStatus)

	sock.pending = 1
	if code := c.OnReadable(); code != IOCPending {
		t.Fatalf("first read code %v", code)
	}
	first := sock.lastRead
	sock.feed(plainFrame(&protocol.PingRequest{Payload: 7}))
	if code := c.OnReadable(); code != IOCAgain {
		t.Fatalf("completed read code %v err %v", code, c.Err())
	}
	if &first.First[0] != &sock.lastRead.First[0] || first.Len() != sock.lastRead.Len() {
		t.Errorf("completed read used a different reservation")
	}
	if handled != 1 {
		t.Errorf("handled %v packets", handled)
	}
}

func TestStateGatedDispatch(t *testing.T) {
	d := NewDispatcher()
	pings, logins := 0, 0
	Register(d, protocol.StateStatus, protocol.IDPingRequest, func(c *Conn, p *protocol.PingRequest) error {
		pings++
		return nil
	})
	Register(d, protocol.StateLogin, protocol.IDLoginStart, func(c *Conn, p *protocol.LoginStart) error {
		logins++
		c.SetName(p.Name)
		return nil
	})
	c, sock, _ := newTestConn(1024, 1024, d)
	defer c.Close(nil)
	moveToLogin(t, c)

	// 0x01在LOGIN状态下没有注册，按长度跳过
	sock.feed(plainFrame(&protocol.PingRequest{Payload: 1}))
	sock.feed(plainFrame(&protocol.LoginStart{Name: "Notch"}))
	if code := c.OnReadable(); code != IOCAgain {
		t.Fatalf("read code %v err %v", code, c.Err())
	}
	if pings != 0 || logins != 1 || c.Name() != "Notch" {
		t.Errorf("pings %v logins %v name %v", pings, logins, c.Name())
	}
	if c.Err() != nil || c.IsClosed() {
		t.Errorf("skipped packet closed the connection: %v", c.Err())
	}
}

func TestMalformedFrameCloses(t *testing.T) {
	c, sock, _ := newTestConn(1024, 1024, NewDispatcher())
	defer c.Close(nil)
	sock.feed([]byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x01})
	if code := c.OnReadable(); code != IOCError || !errors.Is(c.Err(), packet.ErrVarIntTooBig) {
		t.Errorf("bad varint code %v err %v", code, c.Err())
	}

	c2, sock2, _ := newTestConn(64, 64, NewDispatcher())
	defer c2.Close(nil)
	sock2.feed(packet.AppendVarInt(nil, 200))
	if code := c2.OnReadable(); code != IOCError || !errors.Is(c2.Err(), ErrFrameTooLong) {
		t.Errorf("long frame code %v err %v", code, c2.Err())
	}
}

func TestCompressedFraming(t *testing.T) {
	d := NewDispatcher()
	var got []string
	Register(d, protocol.StateStatus, protocol.IDStatusRequest, func(c *Conn, p *protocol.StatusRequest) error {
		got = append(got, "request")
		return nil
	})
	Register(d, protocol.StateStatus, protocol.IDPingRequest, func(c *Conn, p *protocol.PingRequest) error {
		got = append(got, "ping")
		return nil
	})
	c, sock, owner := newTestConn(4096, 8192, d)
	defer c.Close(nil)
	c.SetState(protocol.StateStatus)
	if err := c.EnableCompression(64); err != nil {
		t.Fatalf("enable compression err %v", err)
	}
	if err := c.EnableCompression(64); !errors.Is(err, ErrCompressionEnabled) {
		t.Errorf("second enable err %v", err)
	}

	// outbound: below threshold raw with zero marker, above threshold deflated
	small := &protocol.StatusResponse{JSON: "{}"}
	large := &protocol.StatusResponse{JSON: strings.Repeat("abcdefgh", 100)}
	if err := c.Send(small); err != nil {
		t.Fatalf("send small err %v", err)
	}
	if err := c.Send(large); err != nil {
		t.Fatalf("send large err %v", err)
	}
	if owner.flushes != 1 {
		t.Errorf("flush requested %v times, expect 1", owner.flushes)
	}
	if code := c.Flush(); code != IOCOk {
		t.Fatalf("flush code %v", code)
	}

	r := packet.NewReader(sock.out)
	for i, p := range []*protocol.StatusResponse{small, large} {
		body := encodeBody(p)
		frame := r.Bytes(int(r.VarInt()))
		fr := packet.NewReader(frame)
		dataLen := int(fr.VarInt())
		rest := fr.Rest()
		if i == 0 {
			if dataLen != 0 || !bytes.Equal(rest, body) {
				t.Errorf("small frame data length %v", dataLen)
			}
			continue
		}
		if dataLen != len(body) {
			t.Fatalf("large frame data length %v, expect %v", dataLen, len(body))
		}
		ctx, _ := packet.NewCompressionContext(packet.CompressZlib, 64)
		out := make([]byte, dataLen)
		if err := ctx.Decompress(out, rest); err != nil || !bytes.Equal(out, body) {
			t.Errorf("large frame inflate err %v", err)
		}
	}
	if r.Err() != nil || r.Remaining() != 0 {
		t.Errorf("outbound stream err %v remaining %v", r.Err(), r.Remaining())
	}

	// inbound
	sock.feed(compressedFrame(t, &protocol.StatusRequest{}, 64))
	sock.feed(compressedFrame(t, &protocol.PingRequest{Payload: 3}, 64))
	if code := c.OnReadable(); code != IOCAgain {
		t.Fatalf("read code %v err %v", code, c.Err())
	}
	if strings.Join(got, ",") != "request,ping" {
		t.Errorf("handled %v", got)
	}

	// a compressed payload below the threshold is a protocol error
	ctx, _ := packet.NewCompressionContext(packet.CompressZlib, 1)
	body := encodeBody(&protocol.PingRequest{Payload: 4})
	out := buffer.NewBuffer(0)
	ctx.Compress(out, body)
	payload := append(packet.AppendVarInt(nil, int32(len(body))), out.Bytes()...)
	sock.feed(append(packet.AppendVarInt(nil, int32(len(payload))), payload...))
	if code := c.OnReadable(); code != IOCError || !errors.Is(c.Err(), ErrBadCompressedLen) {
		t.Errorf("under threshold code %v err %v", code, c.Err())
	}
}

func TestEncryptedReceiveAfterSwitch(t *testing.T) {
	secret, _ := packet.GenSharedSecret()
	d := NewDispatcher()
	var names []string
	Register(d, protocol.StateLogin, protocol.IDLoginStart, func(c *Conn, p *protocol.LoginStart) error {
		names = append(names, p.Name)
		if len(names) == 1 {
			return c.EnableEncryption(secret)
		}
		return nil
	})
	c, sock, _ := newTestConn(256, 256, d)
	defer c.Close(nil)
	moveToLogin(t, c)

	client, _ := packet.NewPeerCipher(secret)
	second := plainFrame(&protocol.LoginStart{Name: "second"})
	third := plainFrame(&protocol.LoginStart{Name: "third"})
	client.EncryptBytes(second)
	client.EncryptBytes(third)

	// the plaintext packet and the first enciphered one arrive together
	chunk := append(plainFrame(&protocol.LoginStart{Name: "first"}), second...)
	chunk = append(chunk, third[:3]...)
	sock.feed(chunk)
	sock.feed(third[3:])
	if code := c.OnReadable(); code != IOCAgain {
		t.Fatalf("read code %v err %v", code, c.Err())
	}
	if strings.Join(names, ",") != "first,second,third" {
		t.Errorf("names %v", names)
	}

	// outbound is enciphered too
	if err := c.Send(&protocol.PongResponse{Payload: 9}); err != nil {
		t.Fatalf("send err %v", err)
	}
	c.Flush()
	client.DecryptBytes(sock.out)
	if !bytes.Equal(sock.out, plainFrame(&protocol.PongResponse{Payload: 9})) {
		t.Errorf("deciphered outbound % x", sock.out)
	}
}

func TestSendBufferFull(t *testing.T) {
	c, sock, _ := newTestConn(64, 64, NewDispatcher())
	defer c.Close(nil)

	big := &protocol.StatusResponse{JSON: strings.Repeat("x", 100)}
	if err := c.Send(big); !errors.Is(err, ErrSendBufferFull) || !IsNoDisconnectError(err) {
		t.Errorf("oversized send err %v", err)
	}
	if err := c.Send(&protocol.PongResponse{Payload: 1}); err != nil {
		t.Errorf("send after refused frame err %v", err)
	}

	sock.maxWrite = 3
	if code := c.Flush(); code != IOCOk || !bytes.Equal(sock.out, plainFrame(&protocol.PongResponse{Payload: 1})) {
		t.Errorf("partial writes code %v out % x", code, sock.out)
	}
	if c.HasPendingSend() {
		t.Errorf("send ring not drained")
	}
}

func TestDisconnectAndClose(t *testing.T) {
	c, sock, owner := newTestConn(64, 256, NewDispatcher())
	moveToLogin(t, c)
	before := time.Now()
	c.Disconnect("bye")
	if !c.IsClosing() || owner.flushes != 1 {
		t.Fatalf("closing %v flushes %v", c.IsClosing(), owner.flushes)
	}
	if c.ClosingSince().Before(before) {
		t.Fatalf("closing since %v before disconnect", c.ClosingSince())
	}
	c.Flush()
	var p protocol.LoginDisconnect
	r := packet.NewReader(sock.out)
	r.VarInt()
	if id := r.VarInt(); id != protocol.IDLoginDisconnect {
		t.Fatalf("disconnect id %v", id)
	}
	if err := p.Decode(r); err != nil || p.Reason != `{"text":"bye"}` {
		t.Errorf("disconnect reason %q err %v", p.Reason, err)
	}

	c.Close(nil)
	c.Close(nil)
	if !sock.closed || c.State() != protocol.StateClosed {
		t.Errorf("socket closed %v state %v", sock.closed, c.State())
	}
	if err := c.Send(&protocol.PongResponse{}); !errors.Is(err, ErrConnClosed) {
		t.Errorf("send after close err %v", err)
	}
	if code := c.OnReadable(); code != IOCClosed {
		t.Errorf("read after close code %v", code)
	}
}

func TestStateTransitions(t *testing.T) {
	c, _, _ := newTestConn(64, 64, NewDispatcher())
	defer c.Close(nil)
	if err := c.SetState(protocol.StatePlay); !errors.Is(err, ErrInvalidState) {
		t.Errorf("handshake to play err %v", err)
	}
	if err := c.SetState(protocol.StateLogin); err != nil {
		t.Errorf("handshake to login err %v", err)
	}
	if err := c.SetState(protocol.StateStatus); !errors.Is(err, ErrInvalidState) {
		t.Errorf("login to status err %v", err)
	}
	if err := c.SetState(protocol.StatePlay); err != nil {
		t.Errorf("login to play err %v", err)
	}
}

func TestIOCodeClass(t *testing.T) {
	for _, code := range []IOCode{IOCOk, IOCAgain, IOCPending, IOCClosed, IOCError} {
		retry := code == IOCAgain || code == IOCPending
		fatal := code == IOCClosed || code == IOCError
		if code.IsRetry() != retry || code.IsFatal() != fatal {
			t.Errorf("%v retry %v fatal %v", code, code.IsRetry(), code.IsFatal())
		}
	}
}
