package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/xxxsen/chatpress/internal/model"
	"github.com/xxxsen/chatpress/internal/pkg/errs"
)

// ISink persists generated documents. Persist must be idempotent: a
// replay of the same storage id with the same content is a no-op.
type ISink interface {
	Persist(ctx context.Context, doc model.GeneratedDocument) error
}

type FactoryFunc func(data interface{}) (ISink, error)

var factories = map[string]FactoryFunc{}

func Register(name string, fn FactoryFunc) {
	factories[name] = fn
}

func New(name string, data interface{}) (ISink, error) {
	fn, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: sink type not registered: %s", errs.ErrNotFound, name)
	}
	return fn(data)
}

func decodeConfig(data interface{}, dst interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal sink config: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("unmarshal sink config: %w", err)
	}
	return nil
}
