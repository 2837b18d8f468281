package common

import "encoding/json"

type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

type GenericEnvelope[T any] struct {
	Meta Meta `json:"meta"`
	Data T    `json:"data"`
}

// RawEnvelope defers decoding Data until Meta.Type is known.
type RawEnvelope = GenericEnvelope[json.RawMessage]
