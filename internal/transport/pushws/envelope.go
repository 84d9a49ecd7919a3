package pushws

import (
	"encoding/json"

	"proofwatch/internal/ports"
)

const TypeBlockchainEvent = "blockchain_event"

// Envelope is the framing for every push channel message. Data stays raw
// until the type is known.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// EventPayload is the wire form of one proof event.
type EventPayload struct {
	Prover      string `json:"prover"`
	Result      bool   `json:"result"`
	Timestamp   int64  `json:"timestamp"`
	BlockNumber uint64 `json:"block_number"`
	TxHash      string `json:"transaction_hash"`
}

func payloadFromCreate(input ports.EventCreate) EventPayload {
	return EventPayload{
		Prover:      input.Prover,
		Result:      input.Result,
		Timestamp:   input.Timestamp,
		BlockNumber: input.BlockNumber,
		TxHash:      input.TxHash,
	}
}

func (p EventPayload) toCreate() ports.EventCreate {
	return ports.EventCreate{
		Prover:      p.Prover,
		Result:      p.Result,
		Timestamp:   p.Timestamp,
		BlockNumber: p.BlockNumber,
		TxHash:      p.TxHash,
	}
}

func eventEnvelope(input ports.EventCreate) ([]byte, error) {
	data, err := json.Marshal(payloadFromCreate(input))
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: TypeBlockchainEvent, Data: data})
}
