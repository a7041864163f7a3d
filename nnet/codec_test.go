package nnet

import (
	"errors"
	"testing"

	"github.com/matryer/is"

	"github.com/domino14/zerocoach/game"
)

func TestPredictPayloads(t *testing.T) {
	is := is.New(t)
	b, err := decodePredictRequest(encodePredictRequest(game.Board{1, -1, 0}))
	is.NoErr(err)
	is.Equal(b, game.Board{1, -1, 0})

	want := Prediction{Policy: []float64{0.25, 0.75}, Value: -0.5}
	got, err := decodePredictReply(encodePredictReply(want, nil))
	is.NoErr(err)
	is.Equal(got, want)

	_, err = decodePredictReply(encodePredictReply(Prediction{}, ErrClosed))
	var remote *RemoteError
	is.True(errors.As(err, &remote))
	is.Equal(remote.Msg, ErrClosed.Error())
}

func TestCheckpointPayloads(t *testing.T) {
	is := is.New(t)
	folder, file, err := decodeCheckpointRequest(encodeCheckpointRequest("./temp/", "best.pth.tar"))
	is.NoErr(err)
	is.Equal(folder, "./temp/")
	is.Equal(file, "best.pth.tar")

	is.NoErr(decodeAck(encodeAck(nil)))
	is.True(decodeAck(encodeAck(ErrNoCheckpoint)) != nil)
}

func TestTruncatedPayload(t *testing.T) {
	is := is.New(t)
	enc := encodePredictReply(Prediction{Policy: []float64{1, 0}, Value: 1}, nil)
	_, err := decodePredictReply(enc[:len(enc)-2])
	is.True(errors.Is(err, errMalformedPayload))
}
