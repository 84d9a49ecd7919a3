package ingest

import (
	"fmt"
	"strings"

	"proofwatch/internal/ports"
)

// DecodeRawLog turns one raw proof-submission log into an event create
// input. The prover address is the last 20 bytes of the indexed third
// topic; the result flag is whether the data word is non-zero. Timestamp
// is left for the caller, which has the block header.
func DecodeRawLog(raw ports.RawLog) (ports.EventCreate, error) {
	if len(raw.Topics) < 4 {
		return ports.EventCreate{}, fmt.Errorf("log %s has %d topics, want 4", raw.TxHash, len(raw.Topics))
	}
	if strings.TrimSpace(raw.TxHash) == "" {
		return ports.EventCreate{}, fmt.Errorf("log in block %d has no transaction hash", raw.BlockNumber)
	}

	proverTopic := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(raw.Topics[3]), "0x"))
	if len(proverTopic) < 40 {
		return ports.EventCreate{}, fmt.Errorf("log %s prover topic too short: %q", raw.TxHash, raw.Topics[3])
	}
	for _, r := range proverTopic {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return ports.EventCreate{}, fmt.Errorf("log %s prover topic is not hex: %q", raw.TxHash, raw.Topics[3])
		}
	}
	prover := "0x" + proverTopic[len(proverTopic)-40:]

	data := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(raw.Data), "0x"))
	result := false
	for _, r := range data {
		if r != '0' {
			result = true
			break
		}
	}

	return ports.EventCreate{
		Prover:      prover,
		Result:      result,
		BlockNumber: raw.BlockNumber,
		TxHash:      strings.TrimSpace(raw.TxHash),
	}, nil
}
