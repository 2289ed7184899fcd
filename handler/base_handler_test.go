package handler

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/huoshan017/mcnet/auth"
	"github.com/huoshan017/mcnet/buffer"
	"github.com/huoshan017/mcnet/common"
	"github.com/huoshan017/mcnet/packet"
	"github.com/huoshan017/mcnet/protocol"
)

type testSocket struct {
	in     [][]byte
	out    []byte
	closed bool
}

func (s *testSocket) Read(r buffer.Regions) (int, common.IOCode) {
	if len(s.in) == 0 {
		return 0, common.IOCAgain
	}
	n := r.CopyFrom(s.in[0])
	if n < len(s.in[0]) {
		s.in[0] = s.in[0][n:]
	} else {
		s.in = s.in[1:]
	}
	return n, common.IOCOk
}

func (s *testSocket) Write(r buffer.Regions) (int, common.IOCode) {
	s.out = append(s.out, r.Bytes()...)
	return r.Len(), common.IOCOk
}

func (s *testSocket) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(10, 0, 0, 7), Port: 40000}
}

func (s *testSocket) Close() error {
	s.closed = true
	return nil
}

type testOwner struct {
	posts chan func()
}

func (o *testOwner) Post(fn func()) {
	o.posts <- fn
}

func (o *testOwner) RequestFlush(c *common.Conn) {}

type testAuthenticator struct {
	mu      sync.Mutex
	profile *auth.Profile
	err     error
	name    string
	hash    string
	ip      string
}

func (a *testAuthenticator) HasJoined(ctx context.Context, name, serverHash, ip string) (*auth.Profile, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.name, a.hash, a.ip = name, serverHash, ip
	return a.profile, a.err
}

type testLoginEvents struct {
	logins int
	plays  int
	reject error
}

func (e *testLoginEvents) OnLogin(c *common.Conn, profile *auth.Profile) error {
	if e.reject != nil {
		return e.reject
	}
	e.logins++
	return nil
}

func (e *testLoginEvents) OnPlay(c *common.Conn) {
	e.plays++
}

// testClient client side of the protocol over a test socket
type testClient struct {
	t        *testing.T
	sock     *testSocket
	cipher   *packet.PeerCipher
	compress *packet.CompressionContext
	plain    []byte
	seen     int
}

func (tc *testClient) send(p protocol.Outbound) {
	body := buffer.NewBuffer(0)
	defer body.Release()
	w := packet.NewWriter(body)
	w.VarInt(p.ID())
	p.Encode(w)

	payload := body.Bytes()
	if tc.compress != nil {
		if tc.compress.ShouldCompress(body.Len()) {
			out := buffer.NewBuffer(0)
			if err := tc.compress.Compress(out, body.Bytes()); err != nil {
				tc.t.Fatalf("client compress err %v", err)
			}
			payload = append(packet.AppendVarInt(nil, int32(body.Len())), out.Bytes()...)
		} else {
			payload = append([]byte{0}, body.Bytes()...)
		}
	}
	frame := append(packet.AppendVarInt(nil, int32(len(payload))), payload...)
	if tc.cipher != nil {
		tc.cipher.EncryptBytes(frame)
	}
	tc.sock.in = append(tc.sock.in, frame)
}

func (tc *testClient) next() (int32, *packet.Reader) {
	b := append([]byte(nil), tc.sock.out[tc.seen:]...)
	tc.seen = len(tc.sock.out)
	if tc.cipher != nil {
		tc.cipher.DecryptBytes(b)
	}
	tc.plain = append(tc.plain, b...)

	length, n, err := packet.DecodeVarInt(tc.plain)
	if err != nil || len(tc.plain) < n+int(length) {
		tc.t.Fatalf("client incomplete frame, err %v", err)
	}
	frame := tc.plain[n : n+int(length)]
	tc.plain = tc.plain[n+int(length):]
	body := frame
	if tc.compress != nil {
		r := packet.NewReader(frame)
		dataLen := r.VarInt()
		body = r.Rest()
		if dataLen != 0 {
			body = make([]byte, dataLen)
			if err = tc.compress.Decompress(body, r.Rest()); err != nil {
				tc.t.Fatalf("client decompress err %v", err)
			}
		}
	}
	r := packet.NewReader(body)
	return r.VarInt(), r
}

type testEnv struct {
	conn   *common.Conn
	sock   *testSocket
	owner  *testOwner
	client *testClient
	auth   *testAuthenticator
	events *testLoginEvents
	key    *packet.ServerKey
}

var (
	serverKeyOnce sync.Once
	serverKey     *packet.ServerKey
)

func newTestEnv(t *testing.T, online bool) *testEnv {
	serverKeyOnce.Do(func() {
		var err error
		if serverKey, err = packet.GenerateServerKey(packet.DefaultServerKeyBits); err != nil {
			t.Fatalf("generate server key err %v", err)
		}
	})
	env := &testEnv{
		sock:   &testSocket{},
		owner:  &testOwner{posts: make(chan func(), 4)},
		auth:   &testAuthenticator{profile: &auth.Profile{ID: "069a79f444e94726a5befca90e38aaf5", Name: "Notch"}},
		events: &testLoginEvents{},
		key:    serverKey,
	}
	opts := common.NewOptions()
	opts.SetOnlineMode(online)
	opts.SetServerKey(env.key)
	opts.SetAuthenticator(env.auth)
	opts.Normalize()

	h := NewDefaultBasePacketHandler(opts, env.events, func() int { return 5 })
	d := common.NewDispatcher()
	RegisterDefault(d, h)
	env.conn = common.NewConn(1, env.sock, env.owner, d, opts)
	env.client = &testClient{t: t, sock: env.sock}
	t.Cleanup(func() { env.conn.Close(nil) })
	return env
}

func (env *testEnv) read(t *testing.T) {
	t.Helper()
	if code := env.conn.OnReadable(); code != common.IOCAgain {
		t.Fatalf("read code %v err %v", code, env.conn.Err())
	}
	env.conn.Flush()
}

func (env *testEnv) runPost(t *testing.T) {
	t.Helper()
	select {
	case fn := <-env.owner.posts:
		fn()
	case <-time.After(5 * time.Second):
		t.Fatalf("no task posted to the network goroutine")
	}
	env.conn.Flush()
}

func TestLoginEncryptionEndToEnd(t *testing.T) {
	env := newTestEnv(t, true)
	c, client := env.conn, env.client

	client.send(&protocol.Handshake{ProtocolVersion: 770, ServerAddress: "localhost", ServerPort: 25565, NextState: protocol.IntentLogin})
	env.read(t)
	if c.State() != protocol.StateLogin {
		t.Fatalf("state after handshake %v", c.State())
	}

	client.send(&protocol.LoginStart{Name: "Notch"})
	env.read(t)
	id, r := client.next()
	if id != protocol.IDEncryptionRequest {
		t.Fatalf("expect encryption request, got 0x%02x", id)
	}
	var req protocol.EncryptionRequest
	if err := req.Decode(r); err != nil {
		t.Fatalf("decode encryption request err %v", err)
	}
	if len(req.VerifyToken) != packet.VerifyTokenLength || !req.Authenticate {
		t.Errorf("encryption request %+v", req)
	}

	secret, _ := packet.GenSharedSecret()
	encSecret, err := packet.EncryptWithPublicDER(req.PublicKey, secret)
	if err != nil {
		t.Fatalf("encrypt secret err %v", err)
	}
	encToken, _ := packet.EncryptWithPublicDER(req.PublicKey, req.VerifyToken)
	client.send(&protocol.EncryptionResponse{SharedSecret: encSecret, VerifyToken: encToken})
	client.cipher, _ = packet.NewPeerCipher(secret)
	env.read(t)
	if !c.IsEncrypted() {
		t.Fatalf("connection not encrypted after encryption response")
	}

	env.runPost(t)
	env.auth.mu.Lock()
	if env.auth.name != "Notch" || env.auth.hash != packet.SessionHash("", secret, env.key.PublicDER()) || env.auth.ip != "10.0.0.7" {
		t.Errorf("authenticate called with %v %v %v", env.auth.name, env.auth.hash, env.auth.ip)
	}
	env.auth.mu.Unlock()

	id, r = client.next()
	var sc protocol.SetCompression
	if id != protocol.IDSetCompression || sc.Decode(r) != nil || sc.Threshold != packet.DefaultCompressThreshold {
		t.Fatalf("expect set compression 256, got 0x%02x %+v", id, sc)
	}
	client.compress, _ = packet.NewCompressionContext(packet.CompressZlib, int(sc.Threshold))

	id, r = client.next()
	var ls protocol.LoginSuccess
	if id != protocol.IDLoginSuccess || ls.Decode(r) != nil || ls.Name != "Notch" {
		t.Fatalf("expect login success, got 0x%02x %+v", id, ls)
	}
	if auth.DashedUUID(ls.UUID) != "069a79f4-44e9-4726-a5be-fca90e38aaf5" || c.UUID() != ls.UUID {
		t.Errorf("login success uuid %v", auth.DashedUUID(ls.UUID))
	}
	if env.events.logins != 1 {
		t.Errorf("login event %v", env.events.logins)
	}

	client.send(&protocol.LoginAcknowledged{})
	env.read(t)
	if c.State() != protocol.StatePlay || env.events.plays != 1 {
		t.Fatalf("state %v plays %v", c.State(), env.events.plays)
	}

	// keep alive round trip through cipher and compression
	if err = c.SendKeepAlive(time.Now(), 0); err != nil {
		t.Fatalf("send keep alive err %v", err)
	}
	c.Flush()
	id, r = client.next()
	var ka protocol.KeepAliveClientbound
	if id != protocol.IDKeepAliveClientbound || ka.Decode(r) != nil {
		t.Fatalf("expect keep alive, got 0x%02x", id)
	}
	client.send(&protocol.KeepAliveServerbound{KeepAliveID: ka.KeepAliveID})
	env.read(t)

	client.send(&protocol.KeepAliveServerbound{KeepAliveID: ka.KeepAliveID + 1})
	if code := c.OnReadable(); code != common.IOCError || !errors.Is(c.Err(), common.ErrKeepAliveMismatch) {
		t.Errorf("unexpected keep alive code %v err %v", code, c.Err())
	}
}

func TestBadVerifyToken(t *testing.T) {
	env := newTestEnv(t, true)
	client := env.client
	client.send(&protocol.Handshake{ProtocolVersion: 770, NextState: protocol.IntentLogin})
	client.send(&protocol.LoginStart{Name: "Notch"})
	env.read(t)
	_, r := client.next()
	var req protocol.EncryptionRequest
	req.Decode(r)

	secret, _ := packet.GenSharedSecret()
	encSecret, _ := packet.EncryptWithPublicDER(req.PublicKey, secret)
	encToken, _ := packet.EncryptWithPublicDER(req.PublicKey, []byte{1, 2, 3, 4, 5})
	client.send(&protocol.EncryptionResponse{SharedSecret: encSecret, VerifyToken: encToken})
	if code := env.conn.OnReadable(); code != common.IOCError || !errors.Is(env.conn.Err(), common.ErrBadVerifyToken) {
		t.Errorf("bad token code %v err %v", code, env.conn.Err())
	}
	if env.conn.IsEncrypted() {
		t.Errorf("encryption enabled with a bad token")
	}
}

func TestAuthenticateFailed(t *testing.T) {
	env := newTestEnv(t, true)
	env.auth.profile = nil
	env.auth.err = auth.ErrNotAuthenticated
	client := env.client
	client.send(&protocol.Handshake{ProtocolVersion: 770, NextState: protocol.IntentLogin})
	client.send(&protocol.LoginStart{Name: "Notch"})
	env.read(t)
	_, r := client.next()
	var req protocol.EncryptionRequest
	req.Decode(r)

	secret, _ := packet.GenSharedSecret()
	encSecret, _ := packet.EncryptWithPublicDER(req.PublicKey, secret)
	encToken, _ := packet.EncryptWithPublicDER(req.PublicKey, req.VerifyToken)
	client.send(&protocol.EncryptionResponse{SharedSecret: encSecret, VerifyToken: encToken})
	client.cipher, _ = packet.NewPeerCipher(secret)
	env.read(t)
	env.runPost(t)

	id, r := client.next()
	var dc protocol.LoginDisconnect
	if id != protocol.IDLoginDisconnect || dc.Decode(r) != nil || dc.Reason != `{"text":"Failed to verify username!"}` {
		t.Errorf("expect login disconnect, got 0x%02x %q", id, dc.Reason)
	}
	if !env.conn.IsClosing() {
		t.Errorf("connection not closing after failed authentication")
	}
}

func TestOfflineLogin(t *testing.T) {
	env := newTestEnv(t, false)
	client := env.client
	client.send(&protocol.Handshake{ProtocolVersion: 770, NextState: protocol.IntentLogin})
	client.send(&protocol.LoginStart{Name: "jeb_"})
	env.read(t)

	id, r := client.next()
	var sc protocol.SetCompression
	if id != protocol.IDSetCompression || sc.Decode(r) != nil {
		t.Fatalf("expect set compression, got 0x%02x", id)
	}
	client.compress, _ = packet.NewCompressionContext(packet.CompressZlib, int(sc.Threshold))
	id, r = client.next()
	var ls protocol.LoginSuccess
	if id != protocol.IDLoginSuccess || ls.Decode(r) != nil {
		t.Fatalf("expect login success, got 0x%02x", id)
	}
	if ls.Name != "jeb_" || ls.UUID != auth.OfflineUUID("jeb_") {
		t.Errorf("offline login success %+v", ls)
	}
	if env.conn.IsEncrypted() {
		t.Errorf("offline connection encrypted")
	}
}

func TestLoginRejectedByApplication(t *testing.T) {
	env := newTestEnv(t, false)
	env.events.reject = errors.New("You logged in from another location")
	client := env.client
	client.send(&protocol.Handshake{ProtocolVersion: 770, NextState: protocol.IntentLogin})
	client.send(&protocol.LoginStart{Name: "jeb_"})
	env.read(t)

	id, r := client.next()
	var dc protocol.LoginDisconnect
	if id != protocol.IDLoginDisconnect || dc.Decode(r) != nil || dc.Reason != `{"text":"You logged in from another location"}` {
		t.Errorf("expect login disconnect, got 0x%02x %q", id, dc.Reason)
	}
}

func TestOutdatedClient(t *testing.T) {
	env := newTestEnv(t, false)
	env.client.send(&protocol.Handshake{ProtocolVersion: 767, NextState: protocol.IntentLogin})
	env.read(t)
	id, r := env.client.next()
	var dc protocol.LoginDisconnect
	if id != protocol.IDLoginDisconnect || dc.Decode(r) != nil || dc.Reason != `{"text":"Outdated client! Please use 1.21.5"}` {
		t.Errorf("expect outdated disconnect, got 0x%02x %q", id, dc.Reason)
	}
	if !env.conn.IsClosing() {
		t.Errorf("outdated client not closing")
	}
}

func TestStatusExchange(t *testing.T) {
	env := newTestEnv(t, false)
	client := env.client
	client.send(&protocol.Handshake{ProtocolVersion: 770, ServerAddress: "localhost", ServerPort: 25565, NextState: protocol.IntentStatus})
	client.send(&protocol.StatusRequest{})
	env.read(t)

	id, r := client.next()
	var resp protocol.StatusResponse
	if id != protocol.IDStatusResponse || resp.Decode(r) != nil {
		t.Fatalf("expect status response, got 0x%02x", id)
	}
	doc, err := protocol.ParseStatusDocument(resp.JSON)
	if err != nil {
		t.Fatalf("parse status err %v", err)
	}
	if doc.Players.Online != 5 || doc.Version.Protocol != protocol.ProtocolVersion {
		t.Errorf("status document %+v", doc)
	}

	client.send(&protocol.PingRequest{Payload: 123456789})
	env.read(t)
	id, r = client.next()
	var pong protocol.PongResponse
	if id != protocol.IDPongResponse || pong.Decode(r) != nil || pong.Payload != 123456789 {
		t.Errorf("expect pong, got 0x%02x %+v", id, pong)
	}
	if !env.conn.IsClosing() {
		t.Errorf("status connection not closing after pong")
	}
}
