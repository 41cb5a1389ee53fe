package source

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/xxxsen/chatpress/internal/model"
	"github.com/xxxsen/chatpress/internal/pkg/errs"
)

// ISource reads the full message stream to process. Implementations
// must return messages in ascending timestamp order with timestamps
// normalized to UTC.
type ISource interface {
	ReadMessages(ctx context.Context) ([]model.Message, error)
}

type FactoryFunc func(data interface{}) (ISource, error)

var factories = map[string]FactoryFunc{}

func Register(name string, fn FactoryFunc) {
	factories[name] = fn
}

func New(name string, data interface{}) (ISource, error) {
	fn, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: source type not registered: %s", errs.ErrNotFound, name)
	}
	return fn(data)
}

func decodeConfig(data interface{}, dst interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal source config: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("unmarshal source config: %w", err)
	}
	return nil
}
