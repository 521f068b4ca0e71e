package order

import (
	"encoding/json"

	"github.com/example/ec-event-sourcing/internal/domain/aggregate"
)

// Upcasters migrates stored order payloads to their current schema
func Upcasters() *aggregate.Upcasters {
	return aggregate.NewUpcasters().
		Register(EventOrderPlaced, 1, upcastOrderPlacedV1)
}

// upcastOrderPlacedV1 moves the flat string address into Address.Line1
func upcastOrderPlacedV1(data json.RawMessage) (json.RawMessage, error) {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}

	var line1 string
	if raw, ok := payload["shipping_address"]; ok {
		if err := json.Unmarshal(raw, &line1); err != nil {
			return nil, err
		}
	}
	addr, err := json.Marshal(Address{Line1: line1})
	if err != nil {
		return nil, err
	}
	payload["shipping_address"] = addr
	return json.Marshal(payload)
}
