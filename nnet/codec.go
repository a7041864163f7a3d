package nnet

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/domino14/zerocoach/game"
)

// Wire layout of NATS payloads:
//
//	message PredictRequest  { bytes board = 1; }
//	message PredictReply    { repeated double policy = 1 [packed]; double value = 2; string error = 15; }
//	message CheckpointRequest { string folder = 1; string file = 2; }
//	message Ack             { string error = 15; }
//	message InfoReply       { bool trainable = 1; string error = 15; }
//
// Train requests are replay.AppendExamples payloads.
const (
	fieldBoard     = 1
	fieldPolicy    = 1
	fieldValue     = 2
	fieldFolder    = 1
	fieldFile      = 2
	fieldTrainable = 1
	fieldError     = 15
)

var errMalformedPayload = errors.New("malformed payload")

// RemoteError is an error reported by the serving side.
type RemoteError struct {
	Msg string
}

func (e *RemoteError) Error() string { return "remote: " + e.Msg }

func badPayload(n int) error {
	return fmt.Errorf("%w: %v", errMalformedPayload, protowire.ParseError(n))
}

func appendError(b []byte, err error) []byte {
	if err == nil {
		return b
	}
	b = protowire.AppendTag(b, fieldError, protowire.BytesType)
	return protowire.AppendString(b, err.Error())
}

func encodePredictRequest(b game.Board) []byte {
	out := protowire.AppendTag(nil, fieldBoard, protowire.BytesType)
	return protowire.AppendBytes(out, b.Bytes())
}

func decodePredictRequest(b []byte) (game.Board, error) {
	board := game.Board{}
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		if num == fieldBoard && typ == protowire.BytesType {
			bs, n := protowire.ConsumeBytes(v)
			if n < 0 {
				return n, badPayload(n)
			}
			board = game.BoardFromBytes(bs)
			return n, nil
		}
		return skip(num, typ, v)
	})
	return board, err
}

func encodePredictReply(p Prediction, err error) []byte {
	var out []byte
	if err == nil {
		packed := make([]byte, 0, 8*len(p.Policy))
		for _, x := range p.Policy {
			packed = protowire.AppendFixed64(packed, math.Float64bits(x))
		}
		out = protowire.AppendTag(out, fieldPolicy, protowire.BytesType)
		out = protowire.AppendBytes(out, packed)
		out = protowire.AppendTag(out, fieldValue, protowire.Fixed64Type)
		out = protowire.AppendFixed64(out, math.Float64bits(p.Value))
	}
	return appendError(out, err)
}

func decodePredictReply(b []byte) (Prediction, error) {
	p := Prediction{Policy: []float64{}}
	var remote error
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch {
		case num == fieldPolicy && typ == protowire.BytesType:
			bs, n := protowire.ConsumeBytes(v)
			if n < 0 || len(bs)%8 != 0 {
				return -1, badPayload(n)
			}
			for len(bs) > 0 {
				bits, m := protowire.ConsumeFixed64(bs)
				if m < 0 {
					return m, badPayload(m)
				}
				p.Policy = append(p.Policy, math.Float64frombits(bits))
				bs = bs[m:]
			}
			return n, nil
		case num == fieldValue && typ == protowire.Fixed64Type:
			bits, n := protowire.ConsumeFixed64(v)
			if n < 0 {
				return n, badPayload(n)
			}
			p.Value = math.Float64frombits(bits)
			return n, nil
		case num == fieldError && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(v)
			if n < 0 {
				return n, badPayload(n)
			}
			remote = &RemoteError{Msg: s}
			return n, nil
		}
		return skip(num, typ, v)
	})
	if err != nil {
		return p, err
	}
	return p, remote
}

func encodeCheckpointRequest(folder, file string) []byte {
	out := protowire.AppendTag(nil, fieldFolder, protowire.BytesType)
	out = protowire.AppendString(out, folder)
	out = protowire.AppendTag(out, fieldFile, protowire.BytesType)
	return protowire.AppendString(out, file)
}

func decodeCheckpointRequest(b []byte) (folder, file string, err error) {
	err = walk(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		if typ == protowire.BytesType && (num == fieldFolder || num == fieldFile) {
			s, n := protowire.ConsumeString(v)
			if n < 0 {
				return n, badPayload(n)
			}
			if num == fieldFolder {
				folder = s
			} else {
				file = s
			}
			return n, nil
		}
		return skip(num, typ, v)
	})
	return folder, file, err
}

func encodeInfoReply(trainable bool, err error) []byte {
	out := protowire.AppendTag(nil, fieldTrainable, protowire.VarintType)
	out = protowire.AppendVarint(out, protowire.EncodeBool(trainable))
	return appendError(out, err)
}

func decodeInfoReply(b []byte) (bool, error) {
	var trainable bool
	var remote error
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch {
		case num == fieldTrainable && typ == protowire.VarintType:
			x, n := protowire.ConsumeVarint(v)
			if n < 0 {
				return n, badPayload(n)
			}
			trainable = protowire.DecodeBool(x)
			return n, nil
		case num == fieldError && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(v)
			if n < 0 {
				return n, badPayload(n)
			}
			remote = &RemoteError{Msg: s}
			return n, nil
		}
		return skip(num, typ, v)
	})
	if err != nil {
		return false, err
	}
	return trainable, remote
}

func encodeAck(err error) []byte {
	return appendError(nil, err)
}

func decodeAck(b []byte) error {
	var remote error
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		if num == fieldError && typ == protowire.BytesType {
			s, n := protowire.ConsumeString(v)
			if n < 0 {
				return n, badPayload(n)
			}
			remote = &RemoteError{Msg: s}
			return n, nil
		}
		return skip(num, typ, v)
	})
	if err != nil {
		return err
	}
	return remote
}

// walk calls fn for every field in b. fn consumes the field value and
// returns how many bytes it used.
func walk(b []byte, fn func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return badPayload(n)
		}
		b = b[n:]
		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		b = b[m:]
	}
	return nil
}

func skip(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	n := protowire.ConsumeFieldValue(num, typ, b)
	if n < 0 {
		return n, badPayload(n)
	}
	return n, nil
}
