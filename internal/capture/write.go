package capture

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"

	"example.com/telemgate/internal/telem"
)

// WriteNDJSON emits one JSON object per row, payload hex-encoded.
func WriteNDJSON(w io.Writer, rows []telem.RawMessageRow) error {
	bw := bufio.NewWriter(w)
	for _, row := range rows {
		rec := jsonRow{
			Ts:      row.TimestampMs,
			Payload: hex.EncodeToString(row.Payload),
			Channel: channelString(row.Channel),
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if _, err := bw.Write(data); err != nil {
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteCBOR emits rows as a deterministic CBOR stream.
func WriteCBOR(w io.Writer, rows []telem.RawMessageRow) error {
	enc := encMode.NewEncoder(w)
	for _, row := range rows {
		rec := cborRow{
			Ts:      row.TimestampMs,
			Payload: row.Payload,
			Channel: channelString(row.Channel),
		}
		if err := enc.Encode(rec); err != nil {
			return err
		}
	}
	return nil
}

// WriteFile writes rows to path in the given format, zstd-compressing
// when compress is set.
func WriteFile(path string, rows []telem.RawMessageRow, format Format, compress bool) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	var w io.Writer = f
	var zw *zstd.Encoder
	if compress {
		zw, err = zstd.NewWriter(f)
		if err != nil {
			f.Close()
			return err
		}
		w = zw
	}
	switch format {
	case FormatNDJSON:
		err = WriteNDJSON(w, rows)
	case FormatCBOR:
		err = WriteCBOR(w, rows)
	default:
		err = fmt.Errorf("unknown capture format %q", format)
	}
	if zw != nil {
		if closeErr := zw.Close(); err == nil {
			err = closeErr
		}
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
	}
	return err
}

func channelString(tag telem.ChannelTag) string {
	if tag == telem.ChannelUnknown {
		return ""
	}
	return string(tag)
}
