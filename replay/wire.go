package replay

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/domino14/zerocoach/game"
)

// Field numbers for the protobuf wire encoding. There is no .proto file;
// the layout is:
//
//	message Example    { bytes board = 1; repeated double pi = 2 [packed]; double value = 3; }
//	message Generation { repeated Example examples = 1; }
//	message History    { uint32 depth = 1; repeated Generation generations = 2; }
//	message Examples   { repeated Example examples = 1; }
const (
	fieldExampleBoard = 1
	fieldExamplePi    = 2
	fieldExampleValue = 3

	fieldGenerationExamples = 1

	fieldHistoryDepth       = 1
	fieldHistoryGenerations = 2

	fieldExamplesList = 1
)

var ErrMalformed = errors.New("malformed replay encoding")

func malformed(what string, n int) error {
	return fmt.Errorf("%w: %s: %v", ErrMalformed, what, protowire.ParseError(n))
}

// AppendExample appends the wire encoding of ex to b.
func AppendExample(b []byte, ex Example) []byte {
	b = protowire.AppendTag(b, fieldExampleBoard, protowire.BytesType)
	b = protowire.AppendBytes(b, ex.Board.Bytes())

	packed := make([]byte, 0, 8*len(ex.Pi))
	for _, p := range ex.Pi {
		packed = protowire.AppendFixed64(packed, math.Float64bits(p))
	}
	b = protowire.AppendTag(b, fieldExamplePi, protowire.BytesType)
	b = protowire.AppendBytes(b, packed)

	b = protowire.AppendTag(b, fieldExampleValue, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(ex.Value))
	return b
}

// ConsumeExample decodes a single encoded Example message occupying all of b.
func ConsumeExample(b []byte) (Example, error) {
	ex := Example{Board: game.Board{}, Pi: []float64{}}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return ex, malformed("example tag", n)
		}
		b = b[n:]
		switch {
		case num == fieldExampleBoard && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return ex, malformed("example board", n)
			}
			ex.Board = game.BoardFromBytes(v)
			b = b[n:]
		case num == fieldExamplePi && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return ex, malformed("example pi", n)
			}
			if len(v)%8 != 0 {
				return ex, fmt.Errorf("%w: packed pi has %d bytes", ErrMalformed, len(v))
			}
			pi := make([]float64, 0, len(v)/8)
			for len(v) > 0 {
				bits, m := protowire.ConsumeFixed64(v)
				if m < 0 {
					return ex, malformed("example pi entry", m)
				}
				pi = append(pi, math.Float64frombits(bits))
				v = v[m:]
			}
			ex.Pi = pi
			b = b[n:]
		case num == fieldExampleValue && typ == protowire.Fixed64Type:
			bits, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return ex, malformed("example value", n)
			}
			ex.Value = math.Float64frombits(bits)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return ex, malformed("unknown example field", n)
			}
			b = b[n:]
		}
	}
	return ex, nil
}

// AppendExamples encodes a flat list of examples, as sent to a remote
// trainer.
func AppendExamples(b []byte, examples []Example) []byte {
	for _, ex := range examples {
		b = protowire.AppendTag(b, fieldExamplesList, protowire.BytesType)
		b = protowire.AppendBytes(b, AppendExample(nil, ex))
	}
	return b
}

// ParseExamples is the inverse of AppendExamples.
func ParseExamples(b []byte) ([]Example, error) {
	return parseRepeatedExamples(b, fieldExamplesList)
}

func parseRepeatedExamples(b []byte, field protowire.Number) ([]Example, error) {
	examples := []Example{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, malformed("examples tag", n)
		}
		b = b[n:]
		if num != field || typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, malformed("unknown examples field", n)
			}
			b = b[n:]
			continue
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, malformed("example", n)
		}
		ex, err := ConsumeExample(v)
		if err != nil {
			return nil, err
		}
		examples = append(examples, ex)
		b = b[n:]
	}
	return examples, nil
}

// AppendHistory encodes the whole history, depth included.
func AppendHistory(b []byte, h History) []byte {
	b = protowire.AppendTag(b, fieldHistoryDepth, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(h.depth))
	for _, gen := range h.gens {
		var gb []byte
		for _, ex := range gen {
			gb = protowire.AppendTag(gb, fieldGenerationExamples, protowire.BytesType)
			gb = protowire.AppendBytes(gb, AppendExample(nil, ex))
		}
		b = protowire.AppendTag(b, fieldHistoryGenerations, protowire.BytesType)
		b = protowire.AppendBytes(b, gb)
	}
	return b
}

// ParseHistory is the inverse of AppendHistory.
func ParseHistory(b []byte) (History, error) {
	depth := 0
	var gens [][]Example
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return History{}, malformed("history tag", n)
		}
		b = b[n:]
		switch {
		case num == fieldHistoryDepth && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return History{}, malformed("history depth", n)
			}
			depth = int(v)
			b = b[n:]
		case num == fieldHistoryGenerations && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return History{}, malformed("generation", n)
			}
			gen, err := parseRepeatedExamples(v, fieldGenerationExamples)
			if err != nil {
				return History{}, err
			}
			gens = append(gens, gen)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return History{}, malformed("unknown history field", n)
			}
			b = b[n:]
		}
	}
	return HistoryFromGenerations(depth, gens)
}
