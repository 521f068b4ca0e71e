package aggregate

import (
	"encoding/json"
	"fmt"

	"github.com/example/ec-event-sourcing/internal/apperr"
)

// Addressable commands can be pointed at an aggregate id supplied from
// outside the payload, e.g. by a wire envelope or a generated id.
type Addressable interface {
	Command
	WithAggregateID(id string) Command
}

// Route binds a command type to its existence policy and payload decoder.
type Route struct {
	CommandType string
	Policy      Policy
	Decode      func(payload json.RawMessage) (Command, error)
}

// Decoder returns a Route decoder that unmarshals a JSON payload into C.
func Decoder[C Command]() func(json.RawMessage) (Command, error) {
	return func(payload json.RawMessage) (Command, error) {
		var cmd C
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &cmd); err != nil {
				return nil, fmt.Errorf("%w: decode %s: %v", apperr.ErrValidation, cmd.CommandType(), err)
			}
		}
		return cmd, nil
	}
}
