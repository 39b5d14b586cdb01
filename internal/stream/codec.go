package stream

import (
	"encoding/json"
	"fmt"
	"time"

	"Go2NetSentinel/internal/model"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Packets and findings travel as protobuf Struct messages. Timestamps are
// carried as the seconds/nanos pair of a protobuf Timestamp.

func timeFields(fields map[string]any, prefix string, t time.Time) {
	ts := timestamppb.New(t)
	fields[prefix+"_seconds"] = float64(ts.GetSeconds())
	fields[prefix+"_nanos"] = float64(ts.GetNanos())
}

func timeFrom(s *structpb.Struct, prefix string) (time.Time, error) {
	ts := &timestamppb.Timestamp{
		Seconds: int64(number(s, prefix+"_seconds")),
		Nanos:   int32(number(s, prefix+"_nanos")),
	}
	if err := ts.CheckValid(); err != nil {
		return time.Time{}, fmt.Errorf("invalid %s: %w", prefix, err)
	}
	return ts.AsTime(), nil
}

func number(s *structpb.Struct, key string) float64 {
	return s.GetFields()[key].GetNumberValue()
}

func text(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

// EncodePacket serializes a packet record.
func EncodePacket(p *model.PacketRecord) ([]byte, error) {
	fields := map[string]any{
		"frame":    float64(p.FrameNumber),
		"src_ip":   p.SrcIP,
		"dst_ip":   p.DstIP,
		"src_port": float64(p.SrcPort),
		"dst_port": float64(p.DstPort),
		"protocol": p.Protocol,
		"app":      p.AppProtocol,
		"length":   float64(p.Length),
		"info":     p.Info,
	}
	timeFields(fields, "ts", p.Timestamp)

	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to build packet message: %w", err)
	}
	return proto.Marshal(msg)
}

// DecodePacket parses a message produced by EncodePacket.
func DecodePacket(data []byte) (model.PacketRecord, error) {
	var msg structpb.Struct
	if err := proto.Unmarshal(data, &msg); err != nil {
		return model.PacketRecord{}, fmt.Errorf("failed to unmarshal packet: %w", err)
	}
	ts, err := timeFrom(&msg, "ts")
	if err != nil {
		return model.PacketRecord{}, err
	}
	return model.PacketRecord{
		FrameNumber: int64(number(&msg, "frame")),
		Timestamp:   ts,
		SrcIP:       text(&msg, "src_ip"),
		DstIP:       text(&msg, "dst_ip"),
		SrcPort:     int(number(&msg, "src_port")),
		DstPort:     int(number(&msg, "dst_port")),
		Protocol:    text(&msg, "protocol"),
		AppProtocol: text(&msg, "app"),
		Length:      int(number(&msg, "length")),
		Info:        text(&msg, "info"),
	}, nil
}

// EncodeFinding serializes a finding. Evidence goes through JSON first so
// that typed slices become protobuf lists.
func EncodeFinding(f *model.Finding) ([]byte, error) {
	var evidence map[string]any
	if len(f.Evidence) > 0 {
		raw, err := json.Marshal(f.Evidence)
		if err != nil {
			return nil, fmt.Errorf("failed to encode evidence: %w", err)
		}
		if err := json.Unmarshal(raw, &evidence); err != nil {
			return nil, fmt.Errorf("failed to normalise evidence: %w", err)
		}
	}
	frames := make([]any, len(f.AffectedFrames))
	for i, fr := range f.AffectedFrames {
		frames[i] = float64(fr)
	}

	fields := map[string]any{
		"id":             f.ID,
		"kind":           string(f.Kind),
		"detector":       f.Detector,
		"type":           f.Type,
		"category":       f.Category,
		"severity":       f.Severity.String(),
		"source_ip":      f.SourceIP,
		"destination_ip": f.DestinationIP,
		"description":    f.Description,
		"recommendation": f.Recommendation,
		"evidence":       evidence,
		"frames":         frames,
	}
	if evidence == nil {
		fields["evidence"] = map[string]any{}
	}
	timeFields(fields, "detected_at", f.DetectedAt)

	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to build finding message: %w", err)
	}
	return proto.Marshal(msg)
}

// DecodeFinding parses a message produced by EncodeFinding. Numeric
// evidence values come back as float64.
func DecodeFinding(data []byte) (model.Finding, error) {
	var msg structpb.Struct
	if err := proto.Unmarshal(data, &msg); err != nil {
		return model.Finding{}, fmt.Errorf("failed to unmarshal finding: %w", err)
	}
	detectedAt, err := timeFrom(&msg, "detected_at")
	if err != nil {
		return model.Finding{}, err
	}
	severity, err := model.ParseSeverity(text(&msg, "severity"))
	if err != nil {
		return model.Finding{}, err
	}

	f := model.Finding{
		ID:             text(&msg, "id"),
		Kind:           model.FindingKind(text(&msg, "kind")),
		Detector:       text(&msg, "detector"),
		Type:           text(&msg, "type"),
		Category:       text(&msg, "category"),
		Severity:       severity,
		DetectedAt:     detectedAt,
		SourceIP:       text(&msg, "source_ip"),
		DestinationIP:  text(&msg, "destination_ip"),
		Description:    text(&msg, "description"),
		Recommendation: text(&msg, "recommendation"),
		Evidence:       msg.GetFields()["evidence"].GetStructValue().AsMap(),
	}
	for _, v := range msg.GetFields()["frames"].GetListValue().GetValues() {
		f.AffectedFrames = append(f.AffectedFrames, int64(v.GetNumberValue()))
	}
	return f, nil
}
