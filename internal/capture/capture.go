// Package capture reads and writes batches of raw telemetry rows for
// the decode pipeline. Two encodings are supported: NDJSON with
// hex-encoded payloads for greppable captures, and a CBOR stream for
// compact ones. Either may be zstd-compressed; decompression is
// transparent on read.
package capture

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"

	"example.com/telemgate/internal/telem"
)

// Format identifies a capture encoding.
type Format string

const (
	FormatNDJSON Format = "ndjson"
	FormatCBOR   Format = "cbor"
)

func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatNDJSON:
		return FormatNDJSON, nil
	case FormatCBOR:
		return FormatCBOR, nil
	default:
		return "", fmt.Errorf("unknown capture format %q", s)
	}
}

// zstd frame magic as it appears on the wire.
var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

// The CBOR encoder uses Core Deterministic Encoding so the same rows
// always produce identical capture bytes.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("capture: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("capture: CBOR decoder initialization failed: " + err.Error())
	}
}

type jsonRow struct {
	Ts      int64  `json:"ts"`
	Payload string `json:"payload"`
	Channel string `json:"channel,omitempty"`
}

type cborRow struct {
	Ts      int64  `cbor:"ts"`
	Payload []byte `cbor:"payload"`
	Channel string `cbor:"channel,omitempty"`
}

// ReadFile loads every row of the capture at path.
func ReadFile(path string) ([]telem.RawMessageRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	rows, err := ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return rows, nil
}

// ReadAll reads rows from r, sniffing compression and encoding from
// the leading bytes.
func ReadAll(r io.Reader) ([]telem.RawMessageRow, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(4)
	if err != nil && len(head) == 0 {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}
	if len(head) >= 4 && bytes.Equal(head[:4], zstdMagic) {
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		defer zr.Close()
		br = bufio.NewReader(zr)
	}
	first, err := br.Peek(1)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}
	if first[0] == '{' {
		return readNDJSON(br)
	}
	return readCBOR(br)
}

func readNDJSON(r io.Reader) ([]telem.RawMessageRow, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var rows []telem.RawMessageRow
	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		var rec jsonRow
		if err := json.Unmarshal(text, &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		payload, err := hex.DecodeString(rec.Payload)
		if err != nil {
			return nil, fmt.Errorf("line %d: payload: %w", line, err)
		}
		rows = append(rows, telem.RawMessageRow{
			TimestampMs: rec.Ts,
			Payload:     payload,
			Channel:     channelTag(rec.Channel),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}

func readCBOR(r io.Reader) ([]telem.RawMessageRow, error) {
	dec := decMode.NewDecoder(r)
	var rows []telem.RawMessageRow
	for {
		var rec cborRow
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return rows, nil
			}
			return nil, fmt.Errorf("record %d: %w", len(rows)+1, err)
		}
		rows = append(rows, telem.RawMessageRow{
			TimestampMs: rec.Ts,
			Payload:     rec.Payload,
			Channel:     channelTag(rec.Channel),
		})
	}
}

func channelTag(s string) telem.ChannelTag {
	if s == "" {
		return telem.ChannelUnknown
	}
	return telem.ChannelTag(s)
}
