package mutator

import (
	"encoding/json"

	"github.com/ryandielhenn/zephyrcoord/pkg/membership"
)

// enlistingPayload is durably logged twice: once as the ServerEnlisting
// intent record, written before the server is visible anywhere, and
// once (re-encoded with the final state) as the ServerEnlisted commit
// record that invalidates it.
type enlistingPayload struct {
	Locator                  string                 `json:"locator"`
	Services                 membership.ServiceMask `json:"services"`
	ExpectedReadMBytesPerSec uint32                 `json:"read_mbytes_per_sec,omitempty"`
	ReplacesID               uint64                 `json:"replaces_id,omitempty"`
}

func encodeEnlisting(locator string, services membership.ServiceMask, readSpeed uint32, replaces membership.ServerId) []byte {
	b, _ := json.Marshal(enlistingPayload{
		Locator:                  locator,
		Services:                 services,
		ExpectedReadMBytesPerSec: readSpeed,
		ReplacesID:               replaces.Uint64(),
	})
	return b
}

func decodeEnlisting(payload []byte) (enlistingPayload, error) {
	var p enlistingPayload
	err := json.Unmarshal(payload, &p)
	return p, err
}
