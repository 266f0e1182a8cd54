package messaging

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/libp2p/go-msgio"

	"github.com/opd-ai/accountd/limits"
)

// frameOverhead allows for the JSON envelope around the body.
const frameOverhead = 4096

// frame is the wire form of one message.
type frame struct {
	ID   string    `json:"id"`
	From string    `json:"from"`
	Body string    `json:"body"`
	Sent time.Time `json:"sent"`
}

// ack confirms receipt of a frame.
type ack struct {
	ID string `json:"id"`
}

// writeFrame writes v as one varint length-prefixed JSON message.
func writeFrame(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return msgio.NewVarintWriter(w).WriteMsg(data)
}

// readFrame reads one length-prefixed JSON message of at most max bytes.
func readFrame(r io.Reader, max int, v any) error {
	mr := msgio.NewVarintReaderSize(r, max)
	data, err := mr.ReadMsg()
	if errors.Is(err, msgio.ErrMsgTooLarge) {
		return fmt.Errorf("%w: frame exceeds %d bytes", limits.ErrMessageTooLarge, max)
	}
	if err != nil {
		return err
	}
	defer mr.ReleaseMsg(data)
	return json.Unmarshal(data, v)
}
