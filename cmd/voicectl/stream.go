package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"github.com/sirupsen/logrus"
)

// frameDuration is the Opus frame length the media channel expects.
const frameDuration = 20 * time.Millisecond

const (
	pageHeaderSize  = 27
	pageSegmentsAt  = 26
	lacingContinues = 255
)

var (
	opusHeadSignature = []byte("OpusHead")
	opusTagsSignature = []byte("OpusTags")
)

type audioSender interface {
	SendAudio(payload []byte) (int, error)
}

// pageTap records the raw bytes the Ogg reader consumes, so the segment
// table of the last parsed page can be read back.
type pageTap struct {
	buf bytes.Buffer
}

func (p *pageTap) Write(b []byte) (int, error) {
	return p.buf.Write(b)
}

// lacing returns the segment table of the page held in raw.
func lacing(raw []byte) ([]byte, error) {
	if len(raw) < pageHeaderSize {
		return nil, errors.New("short ogg page header")
	}
	n := int(raw[pageSegmentsAt])
	if len(raw) < pageHeaderSize+n {
		return nil, errors.New("short ogg segment table")
	}
	return raw[pageHeaderSize : pageHeaderSize+n], nil
}

// packetAssembler splits page bodies into packets. A packet ends at the
// first lacing value below 255 and may span pages.
type packetAssembler struct {
	partial []byte
}

func (a *packetAssembler) split(body, segments []byte) ([][]byte, error) {
	var packets [][]byte
	off, size := 0, 0
	for _, v := range segments {
		size += int(v)
		if v == lacingContinues {
			continue
		}
		if off+size > len(body) {
			return nil, errors.New("ogg segment table exceeds page body")
		}
		packet := append(a.partial, body[off:off+size]...)
		a.partial = nil
		packets = append(packets, packet)
		off += size
		size = 0
	}
	if size > 0 {
		if off+size > len(body) {
			return nil, errors.New("ogg segment table exceeds page body")
		}
		a.partial = append(a.partial, body[off:off+size]...)
	}
	return packets, nil
}

// streamOgg sends each Opus packet of r through sender, one per interval.
// It returns the number of packets sent.
func streamOgg(ctx context.Context, r io.Reader, sender audioSender, interval time.Duration) (int, error) {
	tap := &pageTap{}
	ogg, header, err := oggreader.NewWith(io.TeeReader(r, tap))
	if err != nil {
		return 0, fmt.Errorf("read ogg header: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"function":    "streamOgg",
		"channels":    header.Channels,
		"sample_rate": header.SampleRate,
	}).Debug("Opened Ogg/Opus stream")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var assembler packetAssembler
	sent := 0
	for {
		tap.buf.Reset()
		body, _, err := ogg.ParseNextPage()
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return sent, nil
		}
		if err != nil {
			return sent, fmt.Errorf("read ogg page: %w", err)
		}

		segments, err := lacing(tap.buf.Bytes())
		if err != nil {
			return sent, err
		}
		packets, err := assembler.split(body, segments)
		if err != nil {
			return sent, err
		}

		for _, packet := range packets {
			if len(packet) == 0 ||
				bytes.HasPrefix(packet, opusTagsSignature) ||
				bytes.HasPrefix(packet, opusHeadSignature) {
				continue
			}

			select {
			case <-ctx.Done():
				return sent, ctx.Err()
			case <-ticker.C:
			}

			if _, err := sender.SendAudio(packet); err != nil {
				return sent, fmt.Errorf("send frame %d: %w", sent, err)
			}
			sent++
		}
	}
}
