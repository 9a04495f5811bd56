package events

import (
	"encoding/json"
	"fmt"
)

// DecodePayload deserializes a JSON payload for the given topic into its
// typed record. Topics without a registered contract decode into Generic,
// keeping late-added topics usable without code changes.
func DecodePayload(topic string, data []byte) (Payload, error) {
	switch topic {
	case TopicMarketTick:
		var t MarketTick
		if err := json.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("failed to decode %s payload: %w", topic, err)
		}
		return &t, nil
	case TopicPriceProposal:
		var p PriceProposal
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("failed to decode %s payload: %w", topic, err)
		}
		return &p, nil
	case TopicPriceUpdate:
		var u PriceUpdate
		if err := json.Unmarshal(data, &u); err != nil {
			return nil, fmt.Errorf("failed to decode %s payload: %w", topic, err)
		}
		return &u, nil
	case TopicIncidentNotice:
		var n IncidentNotice
		if err := json.Unmarshal(data, &n); err != nil {
			return nil, fmt.Errorf("failed to decode %s payload: %w", topic, err)
		}
		return &n, nil
	default:
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("failed to decode %s payload: %w", topic, err)
		}
		return &Generic{EventTopic: topic, Data: m}, nil
	}
}
