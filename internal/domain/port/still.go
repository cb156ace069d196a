package port

import "image"

type EncodedStill struct {
	Data        []byte
	ContentType string
	Extension   string
}

type StillEncoder interface {
	Encode(img image.Image) (*EncodedStill, error)
}
