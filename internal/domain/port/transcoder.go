package port

import "context"

type Transcoder interface {
	Transcode(ctx context.Context, srcPath string, dstPath string) error
}
