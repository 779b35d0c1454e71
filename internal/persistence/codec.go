package persistence

import (
	"encoding/binary"
	"hash/crc32"
	"math"

	"codeberg.org/mutker/streamctl/internal/errors"
)

// Record field types. Each field is type:u8 len:u8 value, little-endian,
// and the record ends with a CRC-32C field covering every preceding byte
// including the checksum field's own header.
const (
	fieldVersion  byte = 0x01
	fieldActive   byte = 0x02
	fieldStats    byte = 0x03
	fieldHealth   byte = 0x04
	fieldMode     byte = 0x05
	fieldChecksum byte = 0xFF
)

const (
	statsLen    = 4*4 + 8*2
	healthLen   = 4 + 1
	checksumLen = 4
	trailerLen  = 2 + checksumLen
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Encode serializes s.
func Encode(s Snapshot) []byte {
	b := make([]byte, 0, 64)

	b = append(b, fieldVersion, 1, s.Version)
	b = append(b, fieldActive, 2)
	b = binary.LittleEndian.AppendUint16(b, uint16(s.ActiveNetwork))

	b = append(b, fieldStats, statsLen)
	b = binary.LittleEndian.AppendUint32(b, s.Stats.UptimeSeconds)
	b = binary.LittleEndian.AppendUint32(b, s.Stats.Reconnects)
	b = binary.LittleEndian.AppendUint32(b, s.Stats.Failovers)
	b = binary.LittleEndian.AppendUint32(b, s.Stats.Errors)
	b = binary.LittleEndian.AppendUint64(b, s.Stats.BytesSent)
	b = binary.LittleEndian.AppendUint64(b, s.Stats.BytesReceived)

	b = append(b, fieldHealth, healthLen)
	b = binary.LittleEndian.AppendUint32(b, math.Float32bits(s.Health.Score))
	b = append(b, s.Health.Status)

	b = append(b, fieldMode, 1, s.Mode)

	b = append(b, fieldChecksum, checksumLen)
	return binary.LittleEndian.AppendUint32(b, crcOf(b))
}

func crcOf(b []byte) uint32 {
	return crc32.Checksum(b, castagnoli)
}

// Decode parses a record. Any structural problem, checksum mismatch,
// missing field or foreign version rejects the whole record.
func Decode(b []byte) (Snapshot, error) {
	errFactory := errors.New()

	n := len(b)
	if n < trailerLen {
		return Snapshot{}, errFactory.WithData(ErrCorrupt, "record too short")
	}
	if b[n-trailerLen] != fieldChecksum || b[n-trailerLen+1] != checksumLen {
		return Snapshot{}, errFactory.WithData(ErrCorrupt, "missing checksum field")
	}
	want := binary.LittleEndian.Uint32(b[n-checksumLen:])
	if got := crcOf(b[:n-checksumLen]); got != want {
		return Snapshot{}, errFactory.WithData(ErrChecksum, "checksum mismatch")
	}

	var (
		s    Snapshot
		seen = map[byte]bool{}
		body = b[:n-trailerLen]
	)
	for len(body) > 0 {
		if len(body) < 2 {
			return Snapshot{}, errFactory.WithData(ErrCorrupt, "truncated field header")
		}
		typ, length := body[0], int(body[1])
		if len(body) < 2+length {
			return Snapshot{}, errFactory.WithData(ErrCorrupt, "truncated field value")
		}
		value := body[2 : 2+length]
		body = body[2+length:]

		if want, known := fieldLen(typ); known && length != want {
			return Snapshot{}, errFactory.WithData(ErrCorrupt, "bad field length")
		}

		switch typ {
		case fieldVersion:
			s.Version = value[0]
		case fieldActive:
			s.ActiveNetwork = int16(binary.LittleEndian.Uint16(value))
		case fieldStats:
			s.Stats = ConnectionStats{
				UptimeSeconds: binary.LittleEndian.Uint32(value[0:]),
				Reconnects:    binary.LittleEndian.Uint32(value[4:]),
				Failovers:     binary.LittleEndian.Uint32(value[8:]),
				Errors:        binary.LittleEndian.Uint32(value[12:]),
				BytesSent:     binary.LittleEndian.Uint64(value[16:]),
				BytesReceived: binary.LittleEndian.Uint64(value[24:]),
			}
		case fieldHealth:
			s.Health = HealthSummary{
				Score:  math.Float32frombits(binary.LittleEndian.Uint32(value)),
				Status: value[4],
			}
		case fieldMode:
			s.Mode = value[0]
		case fieldChecksum:
			return Snapshot{}, errFactory.WithData(ErrCorrupt, "checksum field before end of record")
		default:
			// Unknown fields from newer writers are skipped.
			continue
		}
		seen[typ] = true
	}

	for _, typ := range []byte{fieldVersion, fieldActive, fieldStats, fieldHealth, fieldMode} {
		if !seen[typ] {
			return Snapshot{}, errFactory.WithData(ErrMissingField, typ)
		}
	}
	if s.Version != SchemaVersion {
		return Snapshot{}, errFactory.WithData(ErrVersion, s.Version)
	}
	if math.IsNaN(float64(s.Health.Score)) {
		return Snapshot{}, errFactory.WithData(ErrCorrupt, "health score is NaN")
	}

	return s, nil
}

func fieldLen(typ byte) (int, bool) {
	switch typ {
	case fieldVersion, fieldMode:
		return 1, true
	case fieldActive:
		return 2, true
	case fieldStats:
		return statsLen, true
	case fieldHealth:
		return healthLen, true
	default:
		return 0, false
	}
}
