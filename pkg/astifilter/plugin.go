package astifilter

import (
	"context"

	"github.com/asticode/go-astikit"
)

// Plugin is initialized when the pipeline is created and started with it
type Plugin interface {
	Init(ctx context.Context, c *astikit.Closer, p *Pipeline) error
	Metadata() Metadata
	Start(ctx context.Context, tc astikit.TaskCreator)
}
