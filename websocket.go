package humphrey

import (
	"errors"
	"net"
	"time"
)

// spliceBufferSize is the size of the per-direction splice buffers.
const spliceBufferSize = 1024

// spliceParkInterval is how long the splice parks between iterations so it
// does not busy-spin while both sides are idle.
const spliceParkInterval = 10 * time.Millisecond

// Splice forwards bytes between the source and the destination in both
// directions until either side reports EOF or an error. Reads are polled
// with a short deadline so neither direction can starve the other; a read
// that times out simply means nothing was available. Both streams are
// closed before Splice returns, whichever side terminated.
func Splice(source, destination Stream) {
	defer source.Close()
	defer destination.Close()

	sourceBuffer := make([]byte, spliceBufferSize)
	destinationBuffer := make([]byte, spliceBufferSize)

	for {
		n, err := pollRead(source, sourceBuffer)
		if err != nil {
			return
		}

		if n > 0 {
			if _, err := destination.Write(sourceBuffer[:n]); err != nil {
				return
			}
		}

		m, err := pollRead(destination, destinationBuffer)
		if err != nil {
			return
		}

		if m > 0 {
			if _, err := source.Write(destinationBuffer[:m]); err != nil {
				return
			}
		}

		time.Sleep(spliceParkInterval)
	}
}

// pollRead reads whatever is available on the c without blocking past a
// short deadline. A timed-out read reports zero bytes and no error.
func pollRead(c net.Conn, buf []byte) (int, error) {
	c.SetReadDeadline(time.Now().Add(time.Millisecond))

	n, err := c.Read(buf)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return n, nil
		}

		return n, err
	}

	return n, nil
}
