package packet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"math/big"

	pkgerrors "github.com/pkg/errors"

	"github.com/huoshan017/mcnet/buffer"
)

const (
	DefaultServerKeyBits = 1024
	SharedSecretLength   = 16
	VerifyTokenLength    = 4
)

var (
	ErrSharedSecretLength = errors.New("mcnet: shared secret length invalid")
)

// ServerKey process wide rsa key pair, generated once at boot
type ServerKey struct {
	key       *rsa.PrivateKey
	publicDER []byte // 缓存DER编码的公钥，计算会话哈希时使用
}

func GenerateServerKey(bits int) (*ServerKey, error) {
	if bits <= 0 {
		bits = DefaultServerKeyBits
	}
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "mcnet: generate rsa key")
	}
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "mcnet: marshal rsa public key")
	}
	return &ServerKey{key: key, publicDER: der}, nil
}

// ServerKey.PublicDER SubjectPublicKeyInfo DER bytes sent to clients
func (k *ServerKey) PublicDER() []byte {
	return k.publicDER
}

func (k *ServerKey) Public() *rsa.PublicKey {
	return &k.key.PublicKey
}

// ServerKey.Decrypt PKCS#1 v1.5 decrypt
func (k *ServerKey) Decrypt(ciphertext []byte) ([]byte, error) {
	plain, err := rsa.DecryptPKCS1v15(rand.Reader, k.key, ciphertext)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "mcnet: rsa decrypt")
	}
	return plain, nil
}

// EncryptWithPublicDER client side helper, encrypts with a DER public key
func EncryptWithPublicDER(der []byte, plain []byte) ([]byte, error) {
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "mcnet: parse rsa public key")
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, pkgerrors.New("mcnet: public key is not rsa")
	}
	out, err := rsa.EncryptPKCS1v15(rand.Reader, rsaPub, plain)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "mcnet: rsa encrypt")
	}
	return out, nil
}

// SessionHash sha1 over server id, shared secret and public key rendered
// as a signed hexadecimal big integer
func SessionHash(serverID string, secret, publicDER []byte) string {
	h := sha1.New()
	io.WriteString(h, serverID)
	h.Write(secret)
	h.Write(publicDER)
	sum := h.Sum(nil)

	negative := sum[0]&0x80 != 0
	if negative {
		// 取补码
		carry := true
		for i := len(sum) - 1; i >= 0; i-- {
			sum[i] = ^sum[i]
			if carry {
				carry = sum[i] == 0xff
				sum[i]++
			}
		}
	}
	s := new(big.Int).SetBytes(sum).Text(16)
	if negative {
		s = "-" + s
	}
	return s
}

// GenVerifyToken random verify token for the encryption request
func GenVerifyToken() ([]byte, error) {
	b := make([]byte, VerifyTokenLength)
	if _, err := rand.Read(b); err != nil {
		return nil, pkgerrors.Wrap(err, "mcnet: generate verify token")
	}
	return b, nil
}

// GenSharedSecret random shared secret, used by clients and tests
func GenSharedSecret() ([]byte, error) {
	b := make([]byte, SharedSecretLength)
	if _, err := rand.Read(b); err != nil {
		return nil, pkgerrors.Wrap(err, "mcnet: generate shared secret")
	}
	return b, nil
}

// cfb8 8 bit cipher feedback, a byte granular stream over a block cipher
type cfb8 struct {
	block   cipher.Block
	size    int
	buf     []byte // 长度为两倍块大小，避免每个字节都移动移位寄存器
	pos     int
	out     []byte
	decrypt bool
}

func newCFB8(block cipher.Block, iv []byte, decrypt bool) cipher.Stream {
	size := block.BlockSize()
	if len(iv) != size {
		panic("mcnet: cfb8 iv length must equal block size")
	}
	x := &cfb8{
		block:   block,
		size:    size,
		buf:     make([]byte, size*2),
		out:     make([]byte, size),
		decrypt: decrypt,
	}
	copy(x.buf, iv)
	return x
}

// NewCFB8Encrypter cfb8 encrypt stream
func NewCFB8Encrypter(block cipher.Block, iv []byte) cipher.Stream {
	return newCFB8(block, iv, false)
}

// NewCFB8Decrypter cfb8 decrypt stream
func NewCFB8Decrypter(block cipher.Block, iv []byte) cipher.Stream {
	return newCFB8(block, iv, true)
}

func (x *cfb8) XORKeyStream(dst, src []byte) {
	if len(dst) < len(src) {
		panic("mcnet: cfb8 output smaller than input")
	}
	for i := range src {
		if x.pos == x.size {
			copy(x.buf, x.buf[x.size:])
			x.pos = 0
		}
		x.block.Encrypt(x.out, x.buf[x.pos:x.pos+x.size])
		in := src[i]
		c := in ^ x.out[0]
		dst[i] = c
		if x.decrypt {
			x.buf[x.pos+x.size] = in
		} else {
			x.buf[x.pos+x.size] = c
		}
		x.pos++
	}
}

// PeerCipher per connection aes/cfb8 contexts, key and iv are both the
// shared secret. Both directions run in place over region spans.
type PeerCipher struct {
	enc cipher.Stream
	dec cipher.Stream
}

func NewPeerCipher(secret []byte) (*PeerCipher, error) {
	if len(secret) != SharedSecretLength {
		return nil, fmt.Errorf("%w: %v", ErrSharedSecretLength, len(secret))
	}
	block, err := aes.NewCipher(secret)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "mcnet: aes cipher")
	}
	return &PeerCipher{
		enc: NewCFB8Encrypter(block, secret),
		dec: NewCFB8Decrypter(block, secret),
	}, nil
}

// PeerCipher.Encrypt encipher regions in place, span by span
func (c *PeerCipher) Encrypt(r buffer.Regions) {
	c.enc.XORKeyStream(r.First, r.First)
	c.enc.XORKeyStream(r.Second, r.Second)
}

// PeerCipher.Decrypt decipher regions in place, span by span
func (c *PeerCipher) Decrypt(r buffer.Regions) {
	c.dec.XORKeyStream(r.First, r.First)
	c.dec.XORKeyStream(r.Second, r.Second)
}

// PeerCipher.EncryptBytes encipher b in place
func (c *PeerCipher) EncryptBytes(b []byte) {
	c.enc.XORKeyStream(b, b)
}

// PeerCipher.DecryptBytes decipher b in place
func (c *PeerCipher) DecryptBytes(b []byte) {
	c.dec.XORKeyStream(b, b)
}
