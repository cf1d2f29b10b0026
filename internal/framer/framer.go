// Package framer implements bounded-size line readers for the three
// streams an Executor Supervisor fans out: a subprocess's stdout,
// its stderr, and the named-pipe side channel.
package framer

import (
	"bufio"
	"io"

	agenterrors "github.com/doyler/faraday-agent-dispatcher/internal/errors"
)

// Framer reads newline-terminated lines from one stream, capping each
// line's raw byte length (including the newline) at maxSize.
type Framer struct {
	r       *bufio.Reader
	maxSize int
	name    string
}

// New wraps r as a Framer for the named stream ("stdout", "stderr",
// or "pipe"), used only in log/error messages.
func New(r io.Reader, maxSize int, name string) *Framer {
	return &Framer{r: bufio.NewReader(r), maxSize: maxSize, name: name}
}

// NextLine returns the next line without its trailing newline. ok is
// false at true end of stream; line is "" with ok true when the stream
// wrote a genuinely blank line. The source this module is grounded on
// cannot tell these two apart — readline() decoding then trimming the
// trailing character collapses both to "" — so Run treats either as
// the stream's "sent empty data" terminal condition. err is a
// *errors.LineTooLongError when the accumulated line exceeded maxSize;
// the offending line is discarded and the stream remains positioned to
// read the next one.
func (f *Framer) NextLine() (line string, ok bool, err error) {
	var buf []byte
	for {
		b, rerr := f.r.ReadByte()
		if rerr != nil {
			if rerr == io.EOF {
				if len(buf) == 0 {
					return "", false, nil
				}
				return string(buf), true, nil
			}
			return "", false, rerr
		}
		if b == '\n' {
			return string(buf), true, nil
		}
		buf = append(buf, b)
		// +1 accounts for the terminator this line will carry once it
		// ends; the cap counts the raw line including it.
		if len(buf)+1 > f.maxSize {
			f.discardRestOfLine()
			return "", true, &agenterrors.LineTooLongError{Stream: f.name, MaxSize: f.maxSize}
		}
	}
}

func (f *Framer) discardRestOfLine() {
	for {
		b, err := f.r.ReadByte()
		if err != nil || b == '\n' {
			return
		}
	}
}

// Run drives NextLine to completion, calling onLine for every
// well-formed non-blank line and onTooLong for every discarded
// oversized line. The moment NextLine yields an empty string — whether
// because the stream truly ended or because it wrote a blank line —
// Run calls onEmpty once and stops; a genuine blank line is never
// handed to onLine. It also returns, without calling onEmpty, on an
// unrecoverable read error.
func (f *Framer) Run(onLine func(line string), onTooLong func(err error), onEmpty func()) {
	for {
		line, ok, err := f.NextLine()
		if err != nil {
			if tooLong, isTooLong := err.(*agenterrors.LineTooLongError); isTooLong {
				onTooLong(tooLong)
				continue
			}
			return
		}
		if !ok || line == "" {
			onEmpty()
			return
		}
		onLine(line)
	}
}
