package envelope

import (
	"encoding/json"
	"fmt"
	"time"

	flatbuffers "github.com/google/flatbuffers/go"

	"github.com/open-teleop/dashboard/domain/robot"
	message "github.com/open-teleop/dashboard/pkg/flatbuffers/open_teleop/message"
)

// Version is written into every OttMessage.
const Version byte = 1

// Envelope is a decoded OttMessage.
type Envelope struct {
	Version     byte
	Topic       string
	Timestamp   time.Time
	ContentType message.ContentType
	Payload     []byte
}

// Encode wraps payload in an OttMessage flatbuffer.
func Encode(topic string, contentType message.ContentType, payload []byte, ts time.Time) []byte {
	builder := flatbuffers.NewBuilder(256 + len(payload))
	topicOffset := builder.CreateString(topic)
	payloadOffset := builder.CreateByteVector(payload)

	message.OttMessageStart(builder)
	message.OttMessageAddVersion(builder, Version)
	message.OttMessageAddOtt(builder, topicOffset)
	message.OttMessageAddTimestampNs(builder, ts.UnixNano())
	message.OttMessageAddContentType(builder, contentType)
	message.OttMessageAddPayload(builder, payloadOffset)
	builder.Finish(message.OttMessageEnd(builder))

	return builder.FinishedBytes()
}

// EncodeStatus publishes a status as JSON telemetry.
func EncodeStatus(topic string, status robot.Status, ts time.Time) ([]byte, error) {
	payload, err := json.Marshal(status)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal status: %w", err)
	}
	return Encode(topic, message.ContentTypeJSON_TELEMETRY, payload, ts), nil
}

// Decode parses an OttMessage. Buffers too short to hold a root offset are
// rejected; the table itself is not verified.
func Decode(data []byte) (env Envelope, err error) {
	if len(data) < flatbuffers.SizeUOffsetT {
		return Envelope{}, fmt.Errorf("invalid OttMessage: %d bytes", len(data))
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("invalid OttMessage: %v", r)
		}
	}()

	msg := message.GetRootAsOttMessage(data, 0)
	return Envelope{
		Version:     msg.Version(),
		Topic:       string(msg.Ott()),
		Timestamp:   time.Unix(0, msg.TimestampNs()),
		ContentType: msg.ContentType(),
		Payload:     append([]byte(nil), msg.PayloadBytes()...),
	}, nil
}

// DecodeStatus extracts a status from a JSON_TELEMETRY envelope.
func DecodeStatus(data []byte) (robot.Status, Envelope, error) {
	env, err := Decode(data)
	if err != nil {
		return robot.Status{}, env, err
	}
	if env.ContentType != message.ContentTypeJSON_TELEMETRY {
		return robot.Status{}, env, fmt.Errorf("unexpected content type %s", env.ContentType)
	}
	var status robot.Status
	if err := json.Unmarshal(env.Payload, &status); err != nil {
		return robot.Status{}, env, fmt.Errorf("failed to unmarshal status payload: %w", err)
	}
	return status, env, nil
}
