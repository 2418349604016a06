package engine

import (
	"context"
	"errors"
)

// ErrContentBlocked is returned (wrapped) when the provider refused to
// generate on content-policy grounds. Retrying the same prompt will not help.
var ErrContentBlocked = errors.New("generation blocked by content policy")

// Generator is the text-generation provider consumed by the writer, the
// quality scorer and the summary job.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string, opts Options) (string, error)
}

// ModelManager is implemented by local backends that host their own models.
type ModelManager interface {
	IsRunning(ctx context.Context) bool
	HasModel(ctx context.Context, name string) bool
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}
