// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package keyinfo extracts structured metadata about OpenPGP keys from a
// stream of packets: fingerprint, algorithm, size, expiration,
// capabilities, user identities, subkeys and a synthesized usability
// verdict. Signatures are not cryptographically verified; this package
// only interprets what the packets declare.
package keyinfo

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Validity codes synthesized by the derivation pass. Other codes are
// reserved for future trust states.
const (
	ValidityUnknown = "?"
	ValidityExpired = "e"
)

// Capability letters, accumulated from key flag subpackets.
const (
	CapCertify      = 'c'
	CapSign         = 's'
	CapEncrypt      = 'e'
	CapAuthenticate = 'a'
)

// UserIdentity is one claimed identity bound to a top-level key. All
// fields are optional; Email is the de facto matching key for merges.
type UserIdentity struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Comment string `json:"comment"`
}

func (u *UserIdentity) String() string {
	var parts []string

	if u.Name != "" {
		parts = append(parts, u.Name)
	}

	if u.Email != "" {
		parts = append(parts, "<"+u.Email+">")
	}

	if u.Comment != "" {
		parts = append(parts, "("+u.Comment+")")
	}

	return strings.Join(parts, " ")
}

// Key represents one OpenPGP primary public key or subkey.
//
// Created and Expires are Unix timestamps; Expires == 0 means the key
// never expires. UIDs and Subkeys are only populated on top-level keys:
// a Key with IsSubkey set is reachable exclusively through its parent's
// Subkeys list. OnKeychain is set by the caller, never by the parser.
type Key struct {
	Fingerprint  string          `json:"fingerprint"`
	Capabilities string          `json:"capabilities"`
	KeytypeName  string          `json:"keytype_name"`
	KeytypeCode  int             `json:"keytype_code"`
	Keysize      int             `json:"keysize"`
	Created      int64           `json:"created"`
	Expires      int64           `json:"expires"`
	Validity     string          `json:"validity"`
	UIDs         []*UserIdentity `json:"uids,omitempty"`
	Subkeys      []*Key          `json:"subkeys,omitempty"`
	IsSubkey     bool            `json:"is_subkey"`
	OnKeychain   bool            `json:"on_keychain"`
}

// Expired reports whether the key's expiration time is set and in the
// past relative to now.
func (k *Key) Expired(now time.Time) bool {
	return now.Unix() > k.Expires && k.Expires > 0
}

// IsUsable reports whether the key has no disqualifying validity code
// and has not expired.
func (k *Key) IsUsable(now time.Time) bool {
	return (k.Validity == "" || k.Validity == ValidityUnknown) && !k.Expired(now)
}

// CanEncrypt reports whether the key is usable and declares the encrypt
// capability.
func (k *Key) CanEncrypt(now time.Time) bool {
	return strings.ContainsRune(k.Capabilities, CapEncrypt) && k.IsUsable(now)
}

// CanSign reports whether the key is usable and declares the sign
// capability.
func (k *Key) CanSign(now time.Time) bool {
	return strings.ContainsRune(k.Capabilities, CapSign) && k.IsUsable(now)
}

// Summary generates a short string with the key's main properties: key
// ID (or full fingerprint), UID emails, expiration, algorithm, size and
// capabilities. A trailing "!" marks an unusable key.
func (k *Key) Summary(now time.Time, fullFingerprint bool) string {
	var b strings.Builder

	fingerprint := k.Fingerprint
	if !fullFingerprint && len(fingerprint) > 16 {
		fingerprint = fingerprint[len(fingerprint)-16:]
	}

	b.WriteString(fingerprint)

	var emails []string

	for _, uid := range k.UIDs {
		if uid.Email != "" {
			emails = append(emails, uid.Email)
		}
	}

	if len(emails) > 0 {
		b.WriteString("=" + strings.Join(emails, ","))
	}

	if k.Expires != 0 {
		fmt.Fprintf(&b, "<%x", k.Expires)
	}

	name := k.KeytypeName
	if len(name) > 3 {
		name = name[:3]
	}

	fmt.Fprintf(&b, "/%s%d/%s", name, k.Keysize, k.Capabilities)

	if !k.IsUsable(now) {
		b.WriteString("!")
	}

	return b.String()
}

// addCapabilityFlags folds a key flags octet into the capability set.
// The two encrypt bits both map to the single "e" letter.
func (k *Key) addCapabilityFlags(flags byte) {
	set := capabilitySet(k.Capabilities)

	for _, m := range []struct {
		mask   byte
		letter byte
	}{
		{0x01, CapCertify},
		{0x02, CapSign},
		{0x0c, CapEncrypt},
		{0x20, CapAuthenticate},
	} {
		if flags&m.mask != 0 {
			set[m.letter] = struct{}{}
		}
	}

	k.Capabilities = sortedLetters(set)
}

func capabilitySet(capabilities string) map[byte]struct{} {
	set := make(map[byte]struct{}, len(capabilities))

	for i := 0; i < len(capabilities); i++ {
		if c := capabilities[i]; c != '+' {
			set[c] = struct{}{}
		}
	}

	return set
}

func sortedLetters(set map[byte]struct{}) string {
	letters := make([]byte, 0, len(set))

	for c := range set {
		letters = append(letters, c)
	}

	sort.Slice(letters, func(i, j int) bool { return letters[i] < letters[j] })

	return string(letters)
}
