package channel

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"filippo.io/mlkem768"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// MinKeyBits is the smallest RSA modulus accepted for the key upgrade.
const MinKeyBits = 1024

const contributionSize = 32

var (
	// ErrKeySize is returned for an RSA key size below MinKeyBits.
	ErrKeySize = fmt.Errorf("key size must be at least %d bits", MinKeyBits)

	// ErrUpgradeMessage is returned when a key exchange message cannot be parsed.
	ErrUpgradeMessage = errors.New("malformed key exchange message")
)

var (
	oaepLabel = []byte("remoteio key exchange")
	infoC2S   = []byte("remoteio c2s")
	infoS2C   = []byte("remoteio s2c")
)

// Upgrade negotiates session keys with the peer and switches the channel to
// encrypted mode. Both sides call it with their own key size; the client
// speaks first at each step.
//
// Exchange:
//
//	hello:  u16 len | PKIX RSA public key | ML-KEM-768 encapsulation key
//	secret: u16 len | RSA-OAEP(32 random bytes) | ML-KEM-768 ciphertext
//
// Keys are derived with HKDF-SHA256 over both random contributions and both
// KEM shared secrets, salted with the hash of the two hello messages.
func (c *Conn) Upgrade(keyBits int) error {
	return c.UpgradeTimeout(keyBits, 0)
}

// UpgradeTimeout is Upgrade with every wait for a peer message bounded by
// timeout. Zero waits indefinitely.
func (c *Conn) UpgradeTimeout(keyBits int, timeout time.Duration) error {
	if c.Upgraded() {
		return ErrAlreadyUpgraded
	}
	if keyBits < MinKeyBits {
		return ErrKeySize
	}

	rsaKey, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return fmt.Errorf("generate rsa key: %w", err)
	}
	kemKey, err := mlkem768.GenerateKey()
	if err != nil {
		return fmt.Errorf("generate ml-kem key: %w", err)
	}

	pubDER, err := x509.MarshalPKIXPublicKey(&rsaKey.PublicKey)
	if err != nil {
		return fmt.Errorf("marshal rsa public key: %w", err)
	}
	localHello := appendPrefixed(pubDER, kemKey.EncapsulationKey())

	peerHello, err := c.exchange(localHello, timeout)
	if err != nil {
		return fmt.Errorf("exchange hello: %w", err)
	}
	peerPubDER, peerEncapKey, err := splitPrefixed(peerHello)
	if err != nil {
		return err
	}
	peerRSA, err := parseRSAPublicKey(peerPubDER)
	if err != nil {
		return err
	}

	contribution := make([]byte, contributionSize)
	if _, err := io.ReadFull(rand.Reader, contribution); err != nil {
		return fmt.Errorf("read random: %w", err)
	}
	rsaCiphertext, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, peerRSA, contribution, oaepLabel)
	if err != nil {
		return fmt.Errorf("encrypt contribution: %w", err)
	}
	kemCiphertext, kemSecret, err := mlkem768.Encapsulate(peerEncapKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpgradeMessage, err)
	}

	peerSecretMsg, err := c.exchange(appendPrefixed(rsaCiphertext, kemCiphertext), timeout)
	if err != nil {
		return fmt.Errorf("exchange secrets: %w", err)
	}
	peerRSACiphertext, peerKEMCiphertext, err := splitPrefixed(peerSecretMsg)
	if err != nil {
		return err
	}
	peerContribution, err := rsa.DecryptOAEP(sha256.New(), nil, rsaKey, peerRSACiphertext, oaepLabel)
	if err != nil || len(peerContribution) != contributionSize {
		return fmt.Errorf("%w: bad rsa contribution", ErrUpgradeMessage)
	}
	peerKEMSecret, err := mlkem768.Decapsulate(kemKey, peerKEMCiphertext)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpgradeMessage, err)
	}

	// Order every input by role so both sides build the same key material.
	var clientHello, serverHello, ikm []byte
	if c.role == RoleClient {
		clientHello, serverHello = localHello, peerHello
		ikm = concat(contribution, peerContribution, kemSecret, peerKEMSecret)
	} else {
		clientHello, serverHello = peerHello, localHello
		ikm = concat(peerContribution, contribution, peerKEMSecret, kemSecret)
	}
	salt := sha256.Sum256(concat(clientHello, serverHello))

	c2s, err := deriveKey(ikm, salt[:], infoC2S)
	if err != nil {
		return err
	}
	s2c, err := deriveKey(ikm, salt[:], infoS2C)
	if err != nil {
		return err
	}

	sendKey, recvKey := c2s, s2c
	if c.role == RoleServer {
		sendKey, recvKey = s2c, c2s
	}
	send, err := newSealer(sendKey)
	if err != nil {
		return err
	}
	recv, err := newSealer(recvKey)
	if err != nil {
		return err
	}

	c.sendMu.Lock()
	c.send = send
	c.sendMu.Unlock()
	c.recvMu.Lock()
	c.recv = recv
	c.recvMu.Unlock()
	return nil
}

// exchange sends local and returns the peer's message. The client writes
// first so that unbuffered transports cannot deadlock.
func (c *Conn) exchange(local []byte, timeout time.Duration) ([]byte, error) {
	if c.role == RoleClient {
		if err := c.Send(local); err != nil {
			return nil, err
		}
		return c.Receive(timeout)
	}

	peer, err := c.Receive(timeout)
	if err != nil {
		return nil, err
	}
	if err := c.Send(local); err != nil {
		return nil, err
	}
	return peer, nil
}

func parseRSAPublicKey(der []byte) (*rsa.PublicKey, error) {
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpgradeMessage, err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: peer key is not RSA", ErrUpgradeMessage)
	}
	if rsaPub.N.BitLen() < MinKeyBits {
		return nil, fmt.Errorf("%w: peer key is %d bits", ErrKeySize, rsaPub.N.BitLen())
	}
	return rsaPub, nil
}

func deriveKey(ikm, salt, info []byte) ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, ikm, salt, info), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

func appendPrefixed(first, rest []byte) []byte {
	out := make([]byte, 2, 2+len(first)+len(rest))
	binary.BigEndian.PutUint16(out, uint16(len(first)))
	out = append(out, first...)
	return append(out, rest...)
}

func splitPrefixed(msg []byte) (first, rest []byte, err error) {
	if len(msg) < 2 {
		return nil, nil, ErrUpgradeMessage
	}
	n := int(binary.BigEndian.Uint16(msg))
	if len(msg) < 2+n {
		return nil, nil, ErrUpgradeMessage
	}
	return msg[2 : 2+n], msg[2+n:], nil
}

func concat(parts ...[]byte) []byte {
	var n int
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
