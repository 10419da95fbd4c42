package decode

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

// oggContinued marks a page whose first packet continues from the previous
// page.
const oggContinued = 0x01

const oggHeaderLen = 27

var oggCapture = []byte("OggS")

// pageTap records what the oggreader consumes so the raw header and lacing
// table of the last page stay available. oggreader only returns the joined
// payload, which loses packet boundaries.
type pageTap struct {
	r   io.Reader
	buf []byte
}

func (t *pageTap) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	t.buf = append(t.buf, p[:n]...)
	return n, err
}

func (t *pageTap) take() []byte {
	b := t.buf
	t.buf = nil
	return b
}

// unread puts b back in front of the remaining input.
func (t *pageTap) unread(b []byte) {
	t.r = io.MultiReader(bytes.NewReader(b), t.r)
}

type oggPage struct {
	flags   byte
	granule uint64
	serial  uint32
	seq     uint32
	lacing  []byte
	body    []byte
}

// oggPageReader reads checksummed pages through oggreader and
// resynchronises on the capture pattern after a damaged page.
type oggPageReader struct {
	or  *oggreader.OggReader
	tap *pageTap
}

// newOggPageReader consumes the identification page. The returned serial
// identifies the Opus logical stream.
func newOggPageReader(r io.Reader) (*oggPageReader, *oggreader.OggHeader, uint32, error) {
	tap := &pageTap{r: r}
	or, head, err := oggreader.NewWith(tap)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("ogg: identification page: %w", err)
	}
	raw := tap.take()
	return &oggPageReader{or: or, tap: tap}, head, binary.LittleEndian.Uint32(raw[14:18]), nil
}

func (p *oggPageReader) next() (oggPage, error) {
	body, hdr, err := p.or.ParseNextPage()
	raw := p.tap.take()
	if err != nil && len(raw) == 0 && errors.Is(err, io.EOF) {
		return oggPage{}, io.EOF
	}
	if err == nil && bytes.HasPrefix(raw, oggCapture) {
		n := int(raw[26])
		return oggPage{
			flags:   raw[5],
			granule: hdr.GranulePosition,
			serial:  binary.LittleEndian.Uint32(raw[14:18]),
			seq:     binary.LittleEndian.Uint32(raw[18:22]),
			lacing:  raw[oggHeaderLen : oggHeaderLen+n],
			body:    body,
		}, nil
	}

	// A damaged page. The next page may start inside what was consumed.
	if len(raw) == 0 {
		return oggPage{}, fmt.Errorf("ogg: %v: %w", err, ErrInvalidData)
	}
	if i := bytes.Index(raw[1:], oggCapture); i >= 0 {
		p.tap.unread(raw[1+i:])
		return oggPage{}, fmt.Errorf("ogg: lost sync for %d bytes: %w", 1+i, ErrInvalidData)
	}
	if err == nil {
		err = errors.New("missing capture pattern")
	}
	return oggPage{}, fmt.Errorf("ogg: dropped %d bytes: %v: %w", len(raw), err, ErrInvalidData)
}

// oggStream is the reassembly state of the Opus logical bitstream.
type oggStream struct {
	info    StreamInfo
	serial  uint32
	preSkip int

	// tags is set once the OpusTags header packet has been skipped.
	tags    bool
	partial []byte
	// resync is set after a lost page until the next packet boundary.
	resync bool
}

// oggDemuxer demultiplexes Ogg Opus files. Pages of other logical streams
// are ignored.
type oggDemuxer struct {
	f      *os.File
	pages  *oggPageReader
	stream *oggStream
	queue  []Packet
}

func newOggDemuxer(f *os.File) (*oggDemuxer, error) {
	pages, head, serial, err := newOggPageReader(bufio.NewReaderSize(f, 64*1024))
	if err != nil {
		return nil, err
	}
	if err := checkOpusHeader(head); err != nil {
		return nil, err
	}
	return &oggDemuxer{
		f:     f,
		pages: pages,
		stream: &oggStream{
			info: StreamInfo{
				Codec:      "opus",
				Channels:   int(head.Channels),
				SampleRate: opusSampleRate,
				Default:    true,
			},
			serial:  serial,
			preSkip: int(head.PreSkip),
		},
	}, nil
}

// checkOpusHeader rejects identification headers this decoder cannot play.
func checkOpusHeader(h *oggreader.OggHeader) error {
	if h.Version>>4 != 0 {
		return fmt.Errorf("opus: unsupported header version %d", h.Version)
	}
	if h.Channels < 1 || h.Channels > 2 {
		return fmt.Errorf("opus: %d-channel streams are not supported", h.Channels)
	}
	return nil
}

func (d *oggDemuxer) Streams() []StreamInfo {
	return []StreamInfo{d.stream.info}
}

func (d *oggDemuxer) NewCodec(stream int) (Codec, error) {
	if stream != d.stream.info.Index {
		return nil, fmt.Errorf("ogg: no stream %d", stream)
	}
	return newOpusCodec(d.stream.info.Channels, d.stream.preSkip)
}

func (d *oggDemuxer) ReadPacket() (Packet, error) {
	for len(d.queue) == 0 {
		page, err := d.pages.next()
		if err != nil {
			if errors.Is(err, ErrInvalidData) {
				d.lostPage()
			}
			return Packet{}, err
		}
		if page.serial != d.stream.serial {
			continue
		}
		d.assemble(page)
	}
	pkt := d.queue[0]
	d.queue = d.queue[1:]
	return pkt, nil
}

// lostPage discards a partially assembled packet after a damaged page, since
// the damaged page may have carried its continuation.
func (d *oggDemuxer) lostPage() {
	d.stream.partial = nil
	d.stream.resync = true
}

func (d *oggDemuxer) assemble(page oggPage) {
	st := d.stream
	if page.flags&oggContinued == 0 {
		if len(st.partial) > 0 {
			slog.Debug("ogg: dropping unterminated packet", "bytes", len(st.partial))
		}
		st.partial = nil
		st.resync = false
	}

	off := 0
	for _, l := range page.lacing {
		seg := page.body[off : off+int(l)]
		off += int(l)
		if !st.resync {
			st.partial = append(st.partial, seg...)
		}
		if l == 255 {
			continue
		}
		// Packet boundary.
		if st.resync {
			st.resync = false
			continue
		}
		pkt := st.partial
		st.partial = nil
		if !st.tags {
			st.tags = true
			continue
		}
		d.queue = append(d.queue, Packet{Stream: st.info.Index, Data: pkt})
	}
}

func (d *oggDemuxer) Close() error { return d.f.Close() }
