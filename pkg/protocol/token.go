package protocol

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// A recipient token names a user on the wire without exposing the raw
// identity: it is the lowercase hex of the uuencoded identity, using the same
// line format as PHP's convert_uuencode. It is an obfuscation, not a secret,
// and must never be used for authorization.

const uuLineBytes = 45

// EncodeRecipientToken returns the recipient token for an identity.
func EncodeRecipientToken(userID string) string {
	return hex.EncodeToString(uuencode([]byte(userID)))
}

// DecodeRecipientToken returns the identity named by a recipient token.
func DecodeRecipientToken(token string) (string, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(token))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	id, err := uudecode(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if len(id) == 0 {
		return "", fmt.Errorf("%w: empty identity", ErrInvalidToken)
	}
	return string(id), nil
}

func uuchar(b byte) byte {
	if b&0x3f == 0 {
		return '`'
	}
	return (b & 0x3f) + ' '
}

func uuencode(src []byte) []byte {
	var out []byte
	for len(src) > 0 {
		n := min(len(src), uuLineBytes)
		line := src[:n]
		src = src[n:]

		out = append(out, uuchar(byte(n)))
		for i := 0; i < n; i += 3 {
			var g [3]byte
			copy(g[:], line[i:])
			out = append(out,
				uuchar(g[0]>>2),
				uuchar(g[0]<<4|g[1]>>4),
				uuchar(g[1]<<2|g[2]>>6),
				uuchar(g[2]),
			)
		}
		out = append(out, '\n')
	}
	return append(out, '`', '\n')
}

func uuvalue(c byte) (byte, error) {
	if c < ' ' || c > '`' {
		return 0, fmt.Errorf("character %q out of range", c)
	}
	return (c - ' ') & 0x3f, nil
}

func uudecode(src []byte) ([]byte, error) {
	var out []byte
	for len(src) > 0 {
		nl := strings.IndexByte(string(src), '\n')
		var line []byte
		if nl < 0 {
			line, src = src, nil
		} else {
			line, src = src[:nl], src[nl+1:]
		}
		line = []byte(strings.TrimRight(string(line), "\r"))
		if len(line) == 0 {
			continue
		}

		n, err := uuvalue(line[0])
		if err != nil {
			return nil, err
		}
		if n == 0 {
			break
		}
		want := (int(n) + 2) / 3 * 4
		body := line[1:]
		if len(body) < want {
			return nil, fmt.Errorf("line too short: want %d characters, got %d", want, len(body))
		}

		var decoded []byte
		for i := 0; i < want; i += 4 {
			var v [4]byte
			for j := range v {
				if v[j], err = uuvalue(body[i+j]); err != nil {
					return nil, err
				}
			}
			decoded = append(decoded,
				v[0]<<2|v[1]>>4,
				v[1]<<4|v[2]>>2,
				v[2]<<6|v[3],
			)
		}
		out = append(out, decoded[:n]...)
	}
	return out, nil
}
