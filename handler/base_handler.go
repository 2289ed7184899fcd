package handler

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/huoshan017/mcnet/auth"
	"github.com/huoshan017/mcnet/common"
	"github.com/huoshan017/mcnet/log"
	"github.com/huoshan017/mcnet/packet"
	"github.com/huoshan017/mcnet/protocol"
)

const (
	ProfileDataKey = "profile"
)

var (
	ErrLoginRepeated   = errors.New("mcnet: login start repeated")
	ErrNoEncryption    = errors.New("mcnet: encryption response without request")
	ErrLoginIncomplete = errors.New("mcnet: login acknowledged before login success")
	ErrNoServerKey     = errors.New("mcnet: online mode without server key")
)

// ILoginEventHandler application hooks of the login sequence, called on the
// network goroutine
type ILoginEventHandler interface {
	// 返回错误时断开连接，错误信息作为断开原因
	OnLogin(c *common.Conn, profile *auth.Profile) error
	OnPlay(c *common.Conn)
}

// DefaultBasePacketHandler handshake, status, login and keep alive handling
type DefaultBasePacketHandler struct {
	options       *common.Options
	authenticator auth.IAuthenticator
	loginHandler  ILoginEventHandler
	online        func() int
}

// NewDefaultBasePacketHandler online reports the player count for status
func NewDefaultBasePacketHandler(options *common.Options, loginHandler ILoginEventHandler, online func() int) *DefaultBasePacketHandler {
	h := &DefaultBasePacketHandler{
		options:       options,
		authenticator: options.GetAuthenticator(),
		loginHandler:  loginHandler,
		online:        online,
	}
	if h.authenticator == nil {
		h.authenticator = auth.NewSessionServer()
	}
	if h.online == nil {
		h.online = func() int { return 0 }
	}
	return h
}

// RegisterDefault install the handlers into d
func RegisterDefault(d *common.Dispatcher, h *DefaultBasePacketHandler) {
	common.Register(d, protocol.StateHandshake, protocol.IDHandshake, h.OnHandshake)
	common.Register(d, protocol.StateStatus, protocol.IDStatusRequest, h.OnStatusRequest)
	common.Register(d, protocol.StateStatus, protocol.IDPingRequest, h.OnPingRequest)
	common.Register(d, protocol.StateLogin, protocol.IDLoginStart, h.OnLoginStart)
	common.Register(d, protocol.StateLogin, protocol.IDEncryptionResponse, h.OnEncryptionResponse)
	common.Register(d, protocol.StateLogin, protocol.IDLoginAcknowledged, h.OnLoginAcknowledged)
	common.Register(d, protocol.StatePlay, protocol.IDKeepAliveServerbound, h.OnKeepAlive)
}

func (h *DefaultBasePacketHandler) OnHandshake(c *common.Conn, p *protocol.Handshake) error {
	switch p.NextState {
	case protocol.IntentStatus:
		return c.SetState(protocol.StateStatus)
	case protocol.IntentLogin, protocol.IntentTransfer:
		if err := c.SetState(protocol.StateLogin); err != nil {
			return err
		}
		if p.ProtocolVersion != protocol.ProtocolVersion {
			reason := "Outdated server! I'm still on " + protocol.VersionName
			if p.ProtocolVersion < protocol.ProtocolVersion {
				reason = "Outdated client! Please use " + protocol.VersionName
			}
			c.Disconnect(reason)
		}
		return nil
	}
	return fmt.Errorf("%w: %v", protocol.ErrUnknownIntent, p.NextState)
}

func (h *DefaultBasePacketHandler) OnStatusRequest(c *common.Conn, p *protocol.StatusRequest) error {
	doc := h.options.GetStatusProvider()(h.online())
	s, err := doc.Marshal()
	if err != nil {
		return err
	}
	return c.Send(&protocol.StatusResponse{JSON: s})
}

// OnPingRequest answer and close, the status exchange ends here
func (h *DefaultBasePacketHandler) OnPingRequest(c *common.Conn, p *protocol.PingRequest) error {
	if err := c.Send(&protocol.PongResponse{Payload: p.Payload}); err != nil {
		return err
	}
	c.CloseAfterFlush(nil)
	return nil
}

func (h *DefaultBasePacketHandler) OnLoginStart(c *common.Conn, p *protocol.LoginStart) error {
	if c.Name() != "" {
		return ErrLoginRepeated
	}
	c.SetName(p.Name)
	c.SetUUID(p.UUID)

	if !h.options.GetOnlineMode() {
		u := auth.OfflineUUID(p.Name)
		return h.finishLogin(c, &auth.Profile{ID: hex.EncodeToString(u[:]), Name: p.Name})
	}

	key := h.options.GetServerKey()
	if key == nil {
		return ErrNoServerKey
	}
	token, err := packet.GenVerifyToken()
	if err != nil {
		return err
	}
	c.SetVerifyToken(token)
	return c.Send(&protocol.EncryptionRequest{
		ServerID:     "",
		PublicKey:    key.PublicDER(),
		VerifyToken:  token,
		Authenticate: true,
	})
}

func (h *DefaultBasePacketHandler) OnEncryptionResponse(c *common.Conn, p *protocol.EncryptionResponse) error {
	if c.VerifyToken() == nil || c.IsEncrypted() {
		return ErrNoEncryption
	}
	key := h.options.GetServerKey()
	token, err := key.Decrypt(p.VerifyToken)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare(token, c.VerifyToken()) != 1 {
		return common.ErrBadVerifyToken
	}
	secret, err := key.Decrypt(p.SharedSecret)
	if err != nil {
		return err
	}
	// 验证通过后立即切换为加密模式
	if err = c.EnableEncryption(secret); err != nil {
		return err
	}

	var (
		hash = packet.SessionHash("", secret, key.PublicDER())
		name = c.Name()
		ip   = c.RemoteIP()
		exec = c.Executor()
	)
	go func() {
		defer func() {
			if err := recover(); err != nil {
				log.WithStack(err)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), auth.DefaultAuthTimeout)
		profile, err := h.authenticator.HasJoined(ctx, name, hash, ip)
		cancel()
		exec.Post(func() {
			if c.IsClosed() || c.IsClosing() {
				return
			}
			if err != nil {
				log.Infof("mcnet: conn %v player %v authenticate failed: %v", c.ID(), name, err)
				c.Disconnect("Failed to verify username!")
				return
			}
			if err = h.finishLogin(c, profile); err != nil {
				log.Infof("mcnet: conn %v player %v finish login err: %v", c.ID(), name, err)
				c.Disconnect("Login failed")
			}
		})
	}()
	return nil
}

// finishLogin negotiate compression and send the login success
func (h *DefaultBasePacketHandler) finishLogin(c *common.Conn, profile *auth.Profile) error {
	u, err := profile.UUID()
	if err != nil {
		return err
	}
	if h.loginHandler != nil {
		if err = h.loginHandler.OnLogin(c, profile); err != nil {
			c.Disconnect(err.Error())
			return nil
		}
	}
	threshold := h.options.GetCompressThreshold()
	if threshold >= 0 {
		if err = c.Send(&protocol.SetCompression{Threshold: int32(threshold)}); err != nil {
			return err
		}
		if err = c.EnableCompression(threshold); err != nil {
			return err
		}
	}
	c.SetUUID(u)
	c.SetData(ProfileDataKey, profile)
	return c.Send(&protocol.LoginSuccess{
		UUID:       u,
		Name:       profile.Name,
		Properties: profile.Properties,
	})
}

func (h *DefaultBasePacketHandler) OnLoginAcknowledged(c *common.Conn, p *protocol.LoginAcknowledged) error {
	if c.GetData(ProfileDataKey) == nil {
		return ErrLoginIncomplete
	}
	if err := c.SetState(protocol.StatePlay); err != nil {
		return err
	}
	c.Touch()
	if h.loginHandler != nil {
		h.loginHandler.OnPlay(c)
	}
	return nil
}

func (h *DefaultBasePacketHandler) OnKeepAlive(c *common.Conn, p *protocol.KeepAliveServerbound) error {
	return c.OnKeepAlive(p.KeepAliveID)
}
