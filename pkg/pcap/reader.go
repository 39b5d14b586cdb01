package pcap

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"Go2NetSentinel/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcapgo"
	"go.uber.org/zap"
)

var pcapngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

// Reader reads packets from a pcap or pcapng file.
type Reader struct {
	file   *os.File
	source *gopacket.PacketSource
	frame  int64
	logger *zap.Logger
}

// NewReader opens filePath, detecting the pcapng format by its magic.
func NewReader(filePath string, logger *zap.Logger) (*Reader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture: %w", err)
	}
	br := bufio.NewReader(file)
	magic, err := br.Peek(4)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to read capture header: %w", err)
	}

	var source *gopacket.PacketSource
	if bytes.Equal(magic, pcapngMagic) {
		ng, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to read pcapng: %w", err)
		}
		source = gopacket.NewPacketSource(ng, ng.LinkType())
	} else {
		r, err := pcapgo.NewReader(br)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to read pcap: %w", err)
		}
		source = gopacket.NewPacketSource(r, r.LinkType())
	}
	source.DecodeOptions = gopacket.DecodeOptions{Lazy: true, NoCopy: true}

	return &Reader{file: file, source: source, logger: logger.Named("pcap")}, nil
}

// Close closes the underlying file.
func (r *Reader) Close() {
	r.file.Close()
}

// ReadPackets decodes every frame and sends the records to out, closing it
// when done. Frames are numbered from 1 in file order; frames that cannot
// be decoded keep their number but are skipped.
func (r *Reader) ReadPackets(ctx context.Context, out chan<- model.PacketRecord) error {
	defer close(out)
	for {
		packet, err := r.source.NextPacket()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read frame %d: %w", r.frame+1, err)
		}
		r.frame++

		rec, err := Decode(packet, r.frame)
		if err != nil {
			// We log errors from the decoder but continue processing.
			r.logger.Debug("skipping frame", zap.Int64("frame", r.frame), zap.Error(err))
			continue
		}
		select {
		case out <- rec:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ReadAll collects every decodable record.
func (r *Reader) ReadAll(ctx context.Context) ([]model.PacketRecord, error) {
	out := make(chan model.PacketRecord, 1024)
	errc := make(chan error, 1)
	go func() { errc <- r.ReadPackets(ctx, out) }()

	var records []model.PacketRecord
	for rec := range out {
		records = append(records, rec)
	}
	if err := <-errc; err != nil {
		return records, err
	}
	r.logger.Info("capture read", zap.Int("records", len(records)), zap.Int64("frames", r.frame))
	return records, nil
}

// ReadFile opens, reads and closes a capture in one call.
func ReadFile(ctx context.Context, filePath string, logger *zap.Logger) ([]model.PacketRecord, error) {
	r, err := NewReader(filePath, logger)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return r.ReadAll(ctx)
}
