package frame

import (
	"bytes"
	"sync/atomic"
)

// Splitter reassembles frames from a raw byte stream for use with
// bufio.Scanner. Bytes that cannot start a frame are skipped and counted.
type Splitter struct {
	discarded atomic.Uint64
}

// Split is a bufio.SplitFunc. It aligns on Head and yields Size bytes when
// the candidate ends in Tail. A Head without a matching Tail is dropped and
// the search resumes in the same call, so every intact frame already
// buffered is returned without waiting for another read.
// A partial frame left at EOF is yielded as a short token so that the
// consumer sees it as a length mismatch instead of losing it silently.
func (s *Splitter) Split(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := 0
	for start < len(data) {
		i := bytes.IndexByte(data[start:], Head)
		if i < 0 {
			s.discarded.Add(uint64(len(data) - start))
			return len(data), nil, nil
		}
		s.discarded.Add(uint64(i))
		start += i

		rest := data[start:]
		if len(rest) < Size {
			if atEOF {
				return len(data), rest, nil
			}
			return start, nil, nil
		}
		if rest[Size-1] == Tail {
			return start + Size, rest[:Size], nil
		}

		// Head without a matching tail: drop the head byte and look again.
		s.discarded.Add(1)
		start++
	}
	return start, nil, nil
}

// Discarded returns the number of bytes skipped while resynchronising.
func (s *Splitter) Discarded() uint64 {
	return s.discarded.Load()
}
