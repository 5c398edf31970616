// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package keyinfo

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/mailforge/go-keyinfo/pkg/packets"
)

// Claim is an externally observed identity assertion, e.g. the addr=
// attribute of an Autocrypt header, reconciled against a key's
// self-declared identities by the derivation pass.
type Claim struct {
	Email  string
	Origin string
}

type options struct {
	logger zerolog.Logger
	now    time.Time
	claim  *Claim
}

// Option represents a functional parse option.
type Option func(*options)

// WithLogger sets the logger used for recovered per-packet faults.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithNow fixes the reference time used by the derivation pass. It
// defaults to the wall clock, captured once per Parse call.
func WithNow(now time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithClaim merges an external identity claim into each parsed key's
// identity list.
func WithClaim(claim Claim) Option {
	return func(o *options) {
		o.claim = &claim
	}
}

// Parse interprets a blob of armored or binary OpenPGP key material into
// an ordered list of top-level keys, each populated with its user
// identities and subkeys.
//
// An error is returned only when the blob cannot be interpreted as
// OpenPGP data, including when the packet framing is lost mid-stream;
// no partial key list accompanies an error. Faults in individual
// packets are recovered: the offending packet's effect is simply
// absent from the result.
func Parse(blob []byte, opt ...Option) ([]*Key, error) {
	opts := options{
		logger: zerolog.Nop(),
		now:    time.Now(),
	}

	for _, o := range opt {
		o(&opts)
	}

	reader, err := packets.NewReader(blob)
	if err != nil {
		return nil, err
	}

	keys, err := assemble(reader, opts.logger)
	if err != nil {
		return nil, err
	}

	if faults := reader.Faults(); faults != nil {
		opts.logger.Debug().Err(faults).Msg("recovered packet faults")
	}

	for _, key := range keys {
		key.SynthesizeValidity(opts.now)
		key.InheritSubkeyCapabilities(opts.now)

		if opts.claim != nil {
			key.EnsureClaimIdentity(*opts.claim)
		}
	}

	return keys, nil
}

// assemble runs the single forward pass over the packet stream. The only
// mutable context is the current key (primary or subkey, the binding
// target for signatures) and the current primary (the owner of user IDs).
func assemble(reader *packets.Reader, logger zerolog.Logger) ([]*Key, error) {
	var (
		keys    []*Key
		current *Key
		primary *Key
	)

	for {
		rec, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			// Framing is lost beyond this point: a structural decode
			// failure discards the whole result, it is not a per-packet
			// fault.
			return nil, err
		}

		switch rec.Tag {
		case packets.TagPublicKey, packets.TagPublicSubkey:
			if rec.PublicKey == nil {
				continue
			}

			key := newKey(rec.PublicKey)

			if rec.Tag == packets.TagPublicSubkey {
				if primary == nil {
					logger.Debug().Str("fingerprint", key.Fingerprint).Msg("subkey packet before any primary key")

					continue
				}

				key.IsSubkey = true
				primary.Subkeys = append(primary.Subkeys, key)
			} else {
				keys = append(keys, key)
				primary = key
			}

			current = key
		case packets.TagUserID:
			// User IDs always attach to the owning primary key, even
			// while a subkey is current.
			if primary == nil || rec.UserID == nil {
				continue
			}

			primary.UIDs = append(primary.UIDs, &UserIdentity{
				Name:    rec.UserID.Name,
				Email:   rec.UserID.Email,
				Comment: rec.UserID.Comment,
			})
		case packets.TagSignature:
			if current == nil || rec.Signature == nil {
				continue
			}

			applySignature(current, rec.Signature)
		}
	}

	return keys, nil
}

func newKey(fields *packets.PublicKeyFields) *Key {
	key := &Key{
		Fingerprint: fields.Fingerprint,
		KeytypeName: fields.AlgorithmName,
		KeytypeCode: fields.AlgorithmCode,
		Keysize:     keysize(fields),
		Created:     fields.CreationTime,
		Validity:    ValidityUnknown,
	}

	if fields.DaysValid > 0 {
		key.Expires = key.Created + int64(fields.DaysValid)*24*3600

		// A validity period that collapses to the creation time means
		// the key never expires.
		if key.Expires == key.Created {
			key.Expires = 0
		}
	}

	return key
}

// keysize reproduces the legacy hex-digit rounding for RSA moduli so key
// sizes stay byte-compatible with existing summaries. Other algorithms
// report their material bit length directly.
func keysize(fields *packets.PublicKeyFields) int {
	if packets.IsRSA(fields.AlgorithmCode) {
		hexDigits := (fields.BitLength + 3) / 4

		return int(1.024 * math.Round(float64(hexDigits)/0.256))
	}

	return fields.BitLength
}

// applySignature folds the key expiration and key flag subpackets of a
// signature into the currently bound key. Expiration can only tighten:
// a candidate expiry is adopted only when the key has none yet or the
// candidate is strictly earlier.
func applySignature(key *Key, sig *packets.SignatureFields) {
	for _, sub := range sig.Subpackets {
		switch sub.Type {
		case packets.SubpacketKeyExpiry:
			if len(sub.Data) < 4 {
				continue
			}

			seconds := int64(binary.BigEndian.Uint32(sub.Data))
			if seconds == 0 {
				continue
			}

			candidate := key.Created + seconds
			if candidate != 0 && (key.Expires == 0 || candidate < key.Expires) {
				key.Expires = candidate
			}
		case packets.SubpacketKeyFlags:
			if len(sub.Data) < 1 {
				continue
			}

			key.addCapabilityFlags(sub.Data[0])
		}
	}
}
