package chatclient

import (
	"encoding/json"
	"fmt"
	"io"
	"iter"

	"github.com/MegaGrindStone/medigem-relay/internal/models"
	"github.com/tmaxmax/go-sse"
)

// Fragments decodes the relay's event stream incrementally as it is read from r. Frames may be split
// across reads at any byte: the reader keeps the incomplete tail of one read and completes it with the
// next one, so only whole frames are ever parsed.
//
// A frame whose payload is not a fragment yields an error wrapping models.ErrParse and decoding
// carries on with the next frame. Any other error comes from reading r and ends the sequence. The
// sequence ends without an error when r reaches EOF.
func Fragments(r io.Reader) iter.Seq2[models.Fragment, error] {
	return func(yield func(models.Fragment, error) bool) {
		for ev, err := range sse.Read(r, nil) {
			if err != nil {
				yield(models.Fragment{}, err)
				return
			}

			var f models.Fragment
			if err := json.Unmarshal([]byte(ev.Data), &f); err != nil {
				if !yield(models.Fragment{}, fmt.Errorf("%w: %q: %w", models.ErrParse, ev.Data, err)) {
					return
				}
				continue
			}
			if !yield(f, nil) {
				return
			}
		}
	}
}
