package auth

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	pkgerrors "github.com/pkg/errors"

	"github.com/huoshan017/mcnet/protocol"
)

const (
	DefaultSessionServerURL = "https://sessionserver.mojang.com"
	DefaultAuthTimeout      = 10 * time.Second
)

var (
	ErrNotAuthenticated = errors.New("mcnet: player not authenticated")
	ErrBadProfile       = errors.New("mcnet: bad profile")
)

// Profile authenticated player profile
type Profile struct {
	ID         string              `json:"id"`
	Name       string              `json:"name"`
	Properties []protocol.Property `json:"properties"`
}

// Profile.UUID id as 16 raw bytes, the session server sends it undashed
func (p *Profile) UUID() ([16]byte, error) {
	var u [16]byte
	s := strings.ReplaceAll(p.ID, "-", "")
	if len(s) != 32 {
		return u, fmt.Errorf("%w: id %q", ErrBadProfile, p.ID)
	}
	if _, err := hex.Decode(u[:], []byte(s)); err != nil {
		return u, fmt.Errorf("%w: id %q", ErrBadProfile, p.ID)
	}
	return u, nil
}

// DashedUUID 8-4-4-4-12 form
func DashedUUID(u [16]byte) string {
	s := hex.EncodeToString(u[:])
	return s[:8] + "-" + s[8:12] + "-" + s[12:16] + "-" + s[16:20] + "-" + s[20:]
}

// OfflineUUID version 3 uuid of "OfflinePlayer:<name>", used when the server
// does not authenticate
func OfflineUUID(name string) [16]byte {
	u := md5.Sum([]byte("OfflinePlayer:" + name))
	u[6] = u[6]&0x0f | 0x30
	u[8] = u[8]&0x3f | 0x80
	return u
}

// IAuthenticator session verification, blocking, called off the network goroutine
type IAuthenticator interface {
	HasJoined(ctx context.Context, name, serverHash, ip string) (*Profile, error)
}

// SessionServer authenticator against the session server over https
type SessionServer struct {
	baseURL      string
	client       *http.Client
	preventProxy bool
}

type SessionServerOption func(*SessionServer)

func WithBaseURL(u string) SessionServerOption {
	return func(s *SessionServer) {
		s.baseURL = strings.TrimRight(u, "/")
	}
}

func WithHTTPClient(c *http.Client) SessionServerOption {
	return func(s *SessionServer) {
		s.client = c
	}
}

// WithPreventProxy send the client ip so the session server can reject proxied joins
func WithPreventProxy(enable bool) SessionServerOption {
	return func(s *SessionServer) {
		s.preventProxy = enable
	}
}

func NewSessionServer(opts ...SessionServerOption) *SessionServer {
	s := &SessionServer{
		baseURL: DefaultSessionServerURL,
		client:  &http.Client{Timeout: DefaultAuthTimeout},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SessionServer) HasJoined(ctx context.Context, name, serverHash, ip string) (*Profile, error) {
	q := url.Values{}
	q.Set("username", name)
	q.Set("serverId", serverHash)
	if s.preventProxy && ip != "" {
		q.Set("ip", ip)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/session/minecraft/hasJoined?"+q.Encode(), nil)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "mcnet: build session request")
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "mcnet: session request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %v", ErrNotAuthenticated, resp.StatusCode)
	}
	var p Profile
	if err = json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, pkgerrors.Wrap(err, "mcnet: decode profile")
	}
	if p.Name != name {
		return nil, fmt.Errorf("%w: name %q, expect %q", ErrBadProfile, p.Name, name)
	}
	if _, err = p.UUID(); err != nil {
		return nil, err
	}
	return &p, nil
}
