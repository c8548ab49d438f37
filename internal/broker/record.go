package broker

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/autopeer-io/homepeer/pkg/command"
)

var errInvalidRecord = errors.New("record has no topic")

// Message is one record of the log as seen by a subscriber.
type Message struct {
	Seq       int64
	Topic     string
	Payload   []byte
	Timestamp time.Time
	// Offset is the byte offset just past this record. Passing it to
	// FromOffset resumes after this message.
	Offset int64
}

// Command decodes the payload as a device command.
func (m Message) Command() (command.Command, error) {
	return command.Decode(m.Payload)
}

// record is the on-disk layout, one JSON object per line.
type record struct {
	Seq       int64     `json:"seq"`
	Topic     string    `json:"topic"`
	Payload   string    `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

func encodeRecord(r record) ([]byte, error) {
	line, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return append(line, '\n'), nil
}

func decodeRecord(line []byte) (record, error) {
	var r record
	if err := json.Unmarshal(line, &r); err != nil {
		return record{}, err
	}
	if r.Topic == "" {
		return record{}, errInvalidRecord
	}
	return r, nil
}

// scanMaxSeq reads complete lines from r and returns the highest seq found.
// torn reports a trailing fragment without a newline.
func scanMaxSeq(r io.Reader) (maxSeq int64, torn bool, err error) {
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			return maxSeq, len(line) > 0, nil
		}
		if err != nil {
			return maxSeq, false, err
		}

		var head struct {
			Seq int64 `json:"seq"`
		}
		if json.Unmarshal(line, &head) == nil && head.Seq > maxSeq {
			maxSeq = head.Seq
		}
	}
}
