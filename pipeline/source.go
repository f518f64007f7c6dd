package pipeline

import (
	"context"

	"github.com/pevans/sitefeed/acquire"
	"github.com/pevans/sitefeed/locate"
	"github.com/pevans/sitefeed/sources"
)

// Document is an acquired page. The pipeline closes it on every exit path.
type Document interface {
	locate.Document
	Close() error
}

// Acquirer renders a source's listing page.
type Acquirer interface {
	Acquire(ctx context.Context, url, waitHint string) (Document, error)
}

// AcquirerFunc adapts a function to the Acquirer interface.
type AcquirerFunc func(ctx context.Context, url, waitHint string) (Document, error)

// Acquire calls f.
func (f AcquirerFunc) Acquire(ctx context.Context, url, waitHint string) (Document, error) {
	return f(ctx, url, waitHint)
}

// Browser exposes a browser-backed acquirer to the pipeline.
func Browser(a *acquire.Acquirer) Acquirer {
	return AcquirerFunc(func(ctx context.Context, url, waitHint string) (Document, error) {
		page, err := a.Acquire(ctx, url, waitHint)
		if err != nil {
			return nil, err
		}
		return page, nil
	})
}

// StatusRecorder receives one record per finished run.
type StatusRecorder interface {
	RecordRun(rec sources.RunRecord) error
}
