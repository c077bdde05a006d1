package pipetransport

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net"
	"time"
)

// ServerHandshake is the accept-side counterpart to handshake: it issues a
// random nonce, reads back the client's HMAC response, and acks with a
// single byte (1 accepted, 0 rejected) before returning. Forge calls this
// once per accepted connection, before trusting any line on it.
func ServerHandshake(conn net.Conn, secret string) error {
	conn.SetDeadline(time.Now().Add(2 * time.Second))
	defer conn.SetDeadline(time.Time{})

	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return err
	}
	if _, err := conn.Write(nonce); err != nil {
		return err
	}

	line, err := readLine(conn)
	if err != nil {
		return err
	}
	given, err := hex.DecodeString(line)
	if err != nil {
		conn.Write([]byte{0})
		return errors.New("handshake: malformed response")
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(nonce)
	want := mac.Sum(nil)
	if !hmac.Equal(given, want) {
		conn.Write([]byte{0})
		return errors.New("handshake: bad secret")
	}
	_, err = conn.Write([]byte{1})
	return err
}

func readLine(conn net.Conn) (string, error) {
	buf := make([]byte, 0, 96)
	b := make([]byte, 1)
	for {
		n, err := conn.Read(b)
		if n > 0 {
			if b[0] == '\n' {
				return string(buf), nil
			}
			buf = append(buf, b[0])
			if len(buf) > 512 {
				return "", errors.New("handshake: response too long")
			}
		}
		if err != nil {
			return "", err
		}
	}
}
