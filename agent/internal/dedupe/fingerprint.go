package dedupe

import (
	"encoding/hex"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"

	"github.com/obsidianstack/beacon/pkg/types"
)

// Fingerprint identifies an error by its stable attributes.
type Fingerprint [32]byte

func (f Fingerprint) String() string { return hex.EncodeToString(f[:]) }

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("dedupe: CBOR encoder initialization failed: " + err.Error())
	}
}

// fingerprintInput lists the attributes that feed the hash. Ids, timestamps
// and attachments are deliberately absent.
type fingerprintInput struct {
	Message     string            `cbor:"1,keyasint"`
	Exceptions  []exceptionInput  `cbor:"2,keyasint"`
	User        *types.User       `cbor:"3,keyasint"`
	Tags        map[string]string `cbor:"4,keyasint"`
	Extra       map[string]any    `cbor:"5,keyasint"`
	Fingerprint []string          `cbor:"6,keyasint"`
	Level       types.Level       `cbor:"7,keyasint"`
}

type exceptionInput struct {
	Type   string        `cbor:"1,keyasint"`
	Value  string        `cbor:"2,keyasint"`
	Module string        `cbor:"3,keyasint"`
	Frames []types.Frame `cbor:"4,keyasint"`
}

// FingerprintOf computes the fingerprint of e.
func FingerprintOf(e *types.Error) Fingerprint {
	in := fingerprintInput{
		Message:     e.Message,
		User:        e.User,
		Tags:        e.Tags,
		Extra:       e.Extra,
		Fingerprint: e.Fingerprint,
		Level:       e.Level,
	}
	for _, ex := range e.Exception {
		ei := exceptionInput{Type: ex.Type, Value: ex.Value, Module: ex.Module}
		if ex.Stacktrace != nil {
			ei.Frames = ex.Stacktrace.Frames
		}
		in.Exceptions = append(in.Exceptions, ei)
	}

	data, err := encMode.Marshal(in)
	if err != nil {
		// Extra holds something CBOR cannot encode (a func or channel). The
		// %#v rendering prints maps in sorted key order, so it is still stable.
		in.Extra = nil
		data, _ = encMode.Marshal(in)
		data = append(data, fmt.Sprintf("%#v", e.Extra)...)
	}
	return blake3.Sum256(data)
}
