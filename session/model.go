// Package session persists the server-side session registry in Redis. Each
// record tracks the lineage of one refresh token: the hash of the currently
// valid token, rotation timestamps, and the client fingerprint captured at
// login.
package session

import (
	"encoding/binary"
	"errors"
	"time"
)

// recordVersion tags the binary layout so the format can evolve without
// corrupting live sessions.
const recordVersion byte = 1

// Fixed layout offsets. The refresh hash sits at a known position so the
// rotation script can compare and swap it without decoding the record.
const (
	offHash      = 1
	offCreated   = offHash + 32
	offExpires   = offCreated + 8
	offRotated   = offExpires + 8
	offVarFields = offRotated + 8
)

var errCorruptRecord = errors.New("session: corrupt record")

// Session is one refresh-token lineage. RefreshHash holds SHA-256 of the
// currently valid refresh token string; presenting any other token for this
// session is a replay.
type Session struct {
	ID          string
	UserID      string
	RefreshHash [32]byte
	IP          string
	UserAgent   string
	CreatedAt   time.Time
	RotatedAt   time.Time
	ExpiresAt   time.Time
}

func (s *Session) encode() ([]byte, error) {
	if len(s.UserID) > 0xFFFF || len(s.IP) > 0xFFFF || len(s.UserAgent) > 0xFFFF {
		return nil, errCorruptRecord
	}

	buf := make([]byte, 0, offVarFields+6+len(s.UserID)+len(s.IP)+len(s.UserAgent))
	buf = append(buf, recordVersion)
	buf = append(buf, s.RefreshHash[:]...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(s.CreatedAt.Unix()))
	buf = binary.BigEndian.AppendUint64(buf, uint64(s.ExpiresAt.Unix()))
	buf = binary.BigEndian.AppendUint64(buf, uint64(s.RotatedAt.Unix()))
	for _, field := range []string{s.UserID, s.IP, s.UserAgent} {
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(field)))
		buf = append(buf, field...)
	}
	return buf, nil
}

func decode(id string, data []byte) (*Session, error) {
	if len(data) < offVarFields || data[0] != recordVersion {
		return nil, errCorruptRecord
	}

	s := &Session{ID: id}
	copy(s.RefreshHash[:], data[offHash:offCreated])
	s.CreatedAt = time.Unix(int64(binary.BigEndian.Uint64(data[offCreated:offExpires])), 0).UTC()
	s.ExpiresAt = time.Unix(int64(binary.BigEndian.Uint64(data[offExpires:offRotated])), 0).UTC()
	s.RotatedAt = time.Unix(int64(binary.BigEndian.Uint64(data[offRotated:offVarFields])), 0).UTC()

	rest := data[offVarFields:]
	fields := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		if len(rest) < 2 {
			return nil, errCorruptRecord
		}
		n := int(binary.BigEndian.Uint16(rest))
		rest = rest[2:]
		if len(rest) < n {
			return nil, errCorruptRecord
		}
		fields = append(fields, string(rest[:n]))
		rest = rest[n:]
	}
	if len(rest) != 0 {
		return nil, errCorruptRecord
	}

	s.UserID, s.IP, s.UserAgent = fields[0], fields[1], fields[2]
	return s, nil
}
