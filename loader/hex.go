package loader

import (
	"bufio"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Intel HEX record types.
const (
	hexData             = 0x00
	hexEOF              = 0x01
	hexExtSegmentAddr   = 0x02
	hexStartSegmentAddr = 0x03
	hexExtLinearAddr    = 0x04
	hexStartLinearAddr  = 0x05
)

var (
	// ErrMalformedRecord is returned for a line that is not a valid
	// Intel HEX record.
	ErrMalformedRecord = errors.New("malformed hex record")

	// ErrChecksum is returned when a record checksum does not match.
	ErrChecksum = errors.New("hex record checksum mismatch")
)

// LoadHexFile reads an Intel HEX file.
func LoadHexFile(path string) (*Program, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open HEX file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return LoadHex(f)
}

// LoadHex reads Intel HEX records from r. Adjacent data records are merged
// into one segment. Reading stops at the end-of-file record or at the end
// of input.
func LoadHex(r io.Reader) (*Program, error) {
	prog := &Program{InitialSP: DefaultStackTop}

	var base uint32
	scanner := bufio.NewScanner(r)
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		rec, err := parseHexRecord(text)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		switch rec.kind {
		case hexData:
			prog.addData(base+uint32(rec.offset), rec.data)
		case hexEOF:
			return prog, nil
		case hexExtSegmentAddr:
			base = uint32(binary.BigEndian.Uint16(rec.data)) << 4
		case hexStartSegmentAddr:
			cs := uint32(binary.BigEndian.Uint16(rec.data[0:2]))
			ip := uint32(binary.BigEndian.Uint16(rec.data[2:4]))
			prog.EntryPoint = cs<<4 + ip
		case hexExtLinearAddr:
			base = uint32(binary.BigEndian.Uint16(rec.data)) << 16
		case hexStartLinearAddr:
			prog.EntryPoint = binary.BigEndian.Uint32(rec.data)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read HEX input: %w", err)
	}

	return prog, nil
}

type hexRecord struct {
	kind   byte
	offset uint16
	data   []byte
}

// recordDataLen gives the fixed payload size of the non-data record types.
var recordDataLen = map[byte]int{
	hexEOF:              0,
	hexExtSegmentAddr:   2,
	hexStartSegmentAddr: 4,
	hexExtLinearAddr:    2,
	hexStartLinearAddr:  4,
}

func parseHexRecord(text string) (hexRecord, error) {
	if !strings.HasPrefix(text, ":") {
		return hexRecord{}, fmt.Errorf("%w: missing start code", ErrMalformedRecord)
	}

	raw, err := hex.DecodeString(text[1:])
	if err != nil {
		return hexRecord{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	if len(raw) < 5 || len(raw) != int(raw[0])+5 {
		return hexRecord{}, fmt.Errorf("%w: bad length", ErrMalformedRecord)
	}

	var sum byte
	for _, b := range raw {
		sum += b
	}
	if sum != 0 {
		return hexRecord{}, ErrChecksum
	}

	rec := hexRecord{
		kind:   raw[3],
		offset: binary.BigEndian.Uint16(raw[1:3]),
		data:   raw[4 : len(raw)-1],
	}

	if rec.kind != hexData {
		want, ok := recordDataLen[rec.kind]
		if !ok {
			return hexRecord{}, fmt.Errorf("%w: unknown type 0x%02x", ErrMalformedRecord, rec.kind)
		}
		if len(rec.data) != want {
			return hexRecord{}, fmt.Errorf("%w: type 0x%02x needs %d bytes", ErrMalformedRecord, rec.kind, want)
		}
	}

	return rec, nil
}

func (p *Program) addData(addr uint32, data []byte) {
	if len(data) == 0 {
		return
	}

	if n := len(p.Segments); n > 0 {
		last := &p.Segments[n-1]
		if last.VirtAddr+uint32(len(last.Data)) == addr {
			last.Data = append(last.Data, data...)
			last.MemSize = uint32(len(last.Data))
			return
		}
	}

	p.Segments = append(p.Segments, Segment{
		VirtAddr: addr,
		Data:     append([]byte(nil), data...),
		MemSize:  uint32(len(data)),
		Flags:    SegmentFlagRead | SegmentFlagWrite | SegmentFlagExecute,
	})
}
