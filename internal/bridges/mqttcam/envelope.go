package mqttcam

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// envEncMode encodes download envelopes deterministically with
// nanosecond timestamps.
var envEncMode cbor.EncMode

var envDecMode cbor.DecMode

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}
	envEncMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create envelope CBOR encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		IndefLength: cbor.IndefLengthAllowed,
	}
	envDecMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create envelope CBOR decoder mode: %v", err))
	}
}

// EncodeDownloadEnvelope encodes env to CBOR.
func EncodeDownloadEnvelope(env DownloadEnvelope) ([]byte, error) {
	return envEncMode.Marshal(env)
}

// DecodeDownloadEnvelope decodes a CBOR download envelope.
func DecodeDownloadEnvelope(data []byte) (DownloadEnvelope, error) {
	var env DownloadEnvelope
	if err := envDecMode.Unmarshal(data, &env); err != nil {
		return DownloadEnvelope{}, fmt.Errorf("decode download envelope: %w", err)
	}
	return env, nil
}
