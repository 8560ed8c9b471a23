package wire

import "errors"

// ErrMalformedFrame is returned by every Decode* function when the
// supplied bytes do not hold a complete, well-formed frame of the
// requested kind. Callers on a receive loop must treat it as "drop
// this datagram and keep going", never as fatal.
var ErrMalformedFrame = errors.New("wire: malformed frame")
