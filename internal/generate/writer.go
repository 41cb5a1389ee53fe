package generate

import (
	"context"

	"github.com/xxxsen/chatpress/internal/model"
)

// Output is what the writer produced for a window. Zero documents is a
// legitimate result: the provider judged the window not worth writing
// about.
type Output struct {
	Documents []model.GeneratedDocument
}

func (o Output) Empty() bool {
	return len(o.Documents) == 0
}

// IWriter turns a window plus its retrieved context into zero or more
// documents.
type IWriter interface {
	WriteWindow(ctx context.Context, win model.Window, windowText string, bundle model.ContextBundle) (Output, error)
}
