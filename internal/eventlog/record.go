package eventlog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
	"unicode/utf16"
)

// Native event log read buffers hold a sequence of variable-length
// records, each starting with a fixed 56-byte little-endian header:
//
//	offset  0  uint32  Length (whole record, including trailer)
//	offset  8  uint32  RecordNumber
//	offset 12  uint32  TimeGenerated (unix seconds)
//	offset 20  uint32  EventID (full 32-bit, flags in upper bits)
//	offset 26  uint16  NumStrings
//	offset 36  uint32  StringOffset
//
// The source name follows the header as a NUL-terminated UTF-16LE
// string; the insertion strings sit at StringOffset.
const recordHeaderLen = 56

// nativeRecord is one decoded record. err marks a record whose string
// table is unreadable; the header fields stay usable.
type nativeRecord struct {
	recordNumber  uint32
	timeGenerated time.Time
	eventID       uint32
	source        string
	inserts       []string
	err           error
}

// decodeRecords walks a read buffer and decodes every complete record
// in it. A corrupt length field ends the walk; records decoded up to
// that point are kept.
func decodeRecords(buf []byte) []nativeRecord {
	var out []nativeRecord
	for off := 0; off+recordHeaderLen <= len(buf); {
		length := int(binary.LittleEndian.Uint32(buf[off : off+4]))
		if length < recordHeaderLen || off+length > len(buf) {
			break
		}
		out = append(out, decodeRecord(buf[off:off+length]))
		off += length
	}
	return out
}

// decodeRecord decodes a single record slice (length >= recordHeaderLen).
func decodeRecord(b []byte) nativeRecord {
	rec := nativeRecord{
		recordNumber:  binary.LittleEndian.Uint32(b[8:12]),
		timeGenerated: time.Unix(int64(binary.LittleEndian.Uint32(b[12:16])), 0),
		eventID:       binary.LittleEndian.Uint32(b[20:24]),
	}

	source, next := utf16ZString(b, recordHeaderLen)
	if next < 0 {
		rec.err = errors.New("source name not terminated")
		return rec
	}
	rec.source = source

	numStrings := int(binary.LittleEndian.Uint16(b[26:28]))
	offset := int(binary.LittleEndian.Uint32(b[36:40]))
	for i := 0; i < numStrings; i++ {
		if offset < recordHeaderLen || offset >= len(b) {
			rec.err = fmt.Errorf("string table offset %d outside %d-byte record", offset, len(b))
			rec.inserts = nil
			return rec
		}
		s, end := utf16ZString(b, offset)
		if end < 0 {
			rec.err = fmt.Errorf("insertion string %d not terminated", i)
			rec.inserts = nil
			return rec
		}
		rec.inserts = append(rec.inserts, s)
		offset = end
	}
	return rec
}

// utf16ZString decodes a NUL-terminated UTF-16LE string starting at
// off. It returns the string and the offset just past the terminator,
// or -1 when no terminator exists before the end of the buffer.
func utf16ZString(b []byte, off int) (string, int) {
	var units []uint16
	for i := off; i+1 < len(b); i += 2 {
		u := binary.LittleEndian.Uint16(b[i : i+2])
		if u == 0 {
			return string(utf16.Decode(units)), i + 2
		}
		units = append(units, u)
	}
	return "", -1
}
