package transport

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	xdr "github.com/rasky/go-xdr/xdr2"
)

// Status is the negotiation status carried by every handshake frame.
type Status uint32

const (
	StatusStart    Status = 1
	StatusOK       Status = 2
	StatusBad      Status = 3
	StatusError    Status = 4
	StatusComplete Status = 5
)

func (s Status) String() string {
	switch s {
	case StatusStart:
		return "START"
	case StatusOK:
		return "OK"
	case StatusBad:
		return "BAD"
	case StatusError:
		return "ERROR"
	case StatusComplete:
		return "COMPLETE"
	default:
		return fmt.Sprintf("STATUS(%d)", uint32(s))
	}
}

// maxFrameSize bounds a single handshake frame. Kerberos tokens are a few
// kilobytes; anything near this limit is garbage.
const maxFrameSize = 1 << 20

// lastFragment is the record marking bit flagging the final fragment.
const lastFragment = 0x80000000

// frame is the XDR body of a handshake message.
type frame struct {
	Status  uint32
	Payload []byte
}

// writeFrame sends one record marked, XDR encoded frame.
func writeFrame(w io.Writer, status Status, payload []byte) error {
	var body bytes.Buffer
	if _, err := xdr.Marshal(&body, &frame{Status: uint32(status), Payload: payload}); err != nil {
		return fmt.Errorf("encode %s frame: %w", status, err)
	}

	msg := make([]byte, 4+body.Len())
	binary.BigEndian.PutUint32(msg[0:4], uint32(body.Len())|lastFragment)
	copy(msg[4:], body.Bytes())

	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write %s frame: %w", status, err)
	}
	return nil
}

// readFrame reads one frame. Handshake frames are always sent as a single
// fragment.
func readFrame(r io.Reader) (Status, []byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, nil, fmt.Errorf("read frame header: %w", err)
	}

	mark := binary.BigEndian.Uint32(header[:])
	if mark&lastFragment == 0 {
		return 0, nil, fmt.Errorf("fragmented handshake frame")
	}
	size := mark &^ lastFragment
	if size > maxFrameSize {
		return 0, nil, fmt.Errorf("handshake frame too large: %d", size)
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, fmt.Errorf("read frame body: %w", err)
	}

	var f frame
	if _, err := xdr.Unmarshal(bytes.NewReader(body), &f); err != nil {
		return 0, nil, fmt.Errorf("decode frame: %w", err)
	}
	return Status(f.Status), f.Payload, nil
}
