package message

import (
	"fmt"
	"unicode/utf8"

	"github.com/wippyai/canvas-bridge/errors"
)

// Kind tags a Message variant. The numeric values are the wire ids used by
// the guest ABI and must stay stable across module reloads.
type Kind uint32

const (
	KindReady  Kind = 0
	KindError  Kind = 1
	KindResult Kind = 2
	KindLog    Kind = 3
)

func (k Kind) String() string {
	switch k {
	case KindReady:
		return "ready"
	case KindError:
		return "error"
	case KindResult:
		return "result"
	case KindLog:
		return "log"
	default:
		return fmt.Sprintf("kind(%d)", uint32(k))
	}
}

// Message is the tagged variant exchanged over a Channel. Only the field
// matching Kind is meaningful: Reason for Error, Payload for Result, Text
// for Log. Epoch is stamped by the channel.
type Message struct {
	Reason  string
	Text    string
	Payload []byte
	Epoch   uint64
	Kind    Kind
}

func Ready() Message {
	return Message{Kind: KindReady}
}

func Error(reason string) Message {
	return Message{Kind: KindError, Reason: reason}
}

func Result(payload []byte) Message {
	return Message{Kind: KindResult, Payload: payload}
}

func Log(text string) Message {
	return Message{Kind: KindLog, Text: text}
}

// Encode returns the wire kind and body.
func (m Message) Encode() (uint32, []byte) {
	switch m.Kind {
	case KindError:
		return uint32(m.Kind), []byte(m.Reason)
	case KindResult:
		return uint32(m.Kind), m.Payload
	case KindLog:
		return uint32(m.Kind), []byte(m.Text)
	default:
		return uint32(m.Kind), nil
	}
}

// Decode builds a Message from a wire kind and body. The body is copied.
func Decode(kind uint32, body []byte) (Message, error) {
	switch Kind(kind) {
	case KindReady:
		return Ready(), nil
	case KindError, KindLog:
		if !utf8.Valid(body) {
			return Message{}, errors.InvalidData(errors.PhaseChannel,
				fmt.Sprintf("%s body is not valid UTF-8", Kind(kind)))
		}
		if Kind(kind) == KindError {
			return Error(string(body)), nil
		}
		return Log(string(body)), nil
	case KindResult:
		payload := make([]byte, len(body))
		copy(payload, body)
		return Result(payload), nil
	default:
		return Message{}, errors.New(errors.PhaseChannel, errors.KindInvalidData).
			Value(kind).
			Detail("unknown message kind %d", kind).
			Build()
	}
}

func (m Message) String() string {
	switch m.Kind {
	case KindError:
		return fmt.Sprintf("error(%q)", m.Reason)
	case KindResult:
		return fmt.Sprintf("result(%d bytes)", len(m.Payload))
	case KindLog:
		return fmt.Sprintf("log(%q)", m.Text)
	default:
		return m.Kind.String()
	}
}
