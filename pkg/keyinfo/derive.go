// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package keyinfo

import (
	"strings"
	"time"
)

// SynthesizeValidity marks the key expired when its expiration time has
// passed and no other validity code was assigned yet.
func (k *Key) SynthesizeValidity(now time.Time) {
	if 0 < k.Expires && k.Expires < now.Unix() && (k.Validity == "" || k.Validity == ValidityUnknown) {
		k.Validity = ValidityExpired
	}
}

// InheritSubkeyCapabilities makes the key inherit the capabilities of its
// unexpired subkeys, appended as a "+" separated segment. Re-running the
// merge replaces the previous segment instead of accumulating.
func (k *Key) InheritSubkeyCapabilities(now time.Time) {
	merged := make(map[byte]struct{})

	for _, subkey := range k.Subkeys {
		if subkey.Expired(now) {
			continue
		}

		for c := range capabilitySet(subkey.Capabilities) {
			merged[c] = struct{}{}
		}
	}

	if len(merged) == 0 {
		return
	}

	base, _, _ := strings.Cut(k.Capabilities, "+")
	k.Capabilities = base + "+" + sortedLetters(merged)
}

// EnsureClaimIdentity reconciles an externally observed identity claim
// against the key's declared identities: a UID with the claimed email
// gets the origin appended to its comment, otherwise a synthesized UID is
// added. Subkeys carry no identities and are left untouched.
func (k *Key) EnsureClaimIdentity(claim Claim) {
	if k.IsSubkey {
		return
	}

	found := false

	for _, uid := range k.UIDs {
		if uid.Email == claim.Email {
			uid.Comment += "(" + claim.Origin + ")"
			found = true
		}
	}

	if !found {
		k.UIDs = append(k.UIDs, &UserIdentity{
			Email:   claim.Email,
			Comment: claim.Origin,
		})
	}
}
