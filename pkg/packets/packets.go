// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package packets splits OpenPGP key material, armored or binary, into a
// sequence of typed packet records.
//
// Only the packet tags needed for key metadata extraction get a field view
// (public key, public subkey, user ID, signature); everything else is
// returned as a bare tagged record. The reader is deliberately tolerant:
// a field that cannot be parsed leaves a partially filled view and records
// a fault instead of stopping the stream.
package packets

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/hashicorp/go-multierror"
)

// Tag is an OpenPGP packet tag (RFC 4880, section 4.3).
type Tag uint8

// Packet tags interpreted by this package.
const (
	TagSignature    Tag = 2
	TagPublicKey    Tag = 6
	TagUserID       Tag = 13
	TagPublicSubkey Tag = 14
)

// maxPacketBytes caps a single packet body to keep pathological length
// fields from allocating unbounded memory.
const maxPacketBytes = 4 * 1024 * 1024

const armorMarker = "-----BEGIN"

// ErrNotOpenPGP is returned by NewReader when the input cannot be
// interpreted as OpenPGP packet data at all.
var ErrNotOpenPGP = errors.New("not OpenPGP packet data")

var errTruncated = errors.New("truncated packet")

// Record is one decoded packet. Exactly one of the view fields is non-nil
// for the tags listed above; all views are nil for other tags.
type Record struct {
	Tag       Tag
	PublicKey *PublicKeyFields
	UserID    *UserIDFields
	Signature *SignatureFields
}

// Reader iterates over the packets of a single key-material blob.
type Reader struct {
	data   []byte
	pos    int
	index  int
	faults *multierror.Error
}

// NewReader prepares a packet reader for the given blob. Input containing
// an armor begin marker is de-armored first; anything else is treated as
// raw binary packet data. An error means the blob is not OpenPGP data.
func NewReader(blob []byte) (*Reader, error) {
	data := blob

	if bytes.Contains(blob, []byte(armorMarker)) {
		block, err := armor.Decode(bytes.NewReader(blob))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNotOpenPGP, err)
		}

		data, err = io.ReadAll(block.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNotOpenPGP, err)
		}
	}

	// Bit 7 of the first octet is always set in a packet header.
	if len(data) == 0 || data[0]&0x80 == 0 {
		return nil, ErrNotOpenPGP
	}

	return &Reader{data: data}, nil
}

// Next returns the next packet record, or io.EOF at the end of the stream.
// Any other error means the packet framing is lost and iteration cannot
// continue; records returned earlier remain valid.
func (r *Reader) Next() (*Record, error) {
	if r.pos >= len(r.data) {
		return nil, io.EOF
	}

	oct := r.data[r.pos]
	if oct&0x80 == 0 {
		return nil, fmt.Errorf("packet %d: invalid header octet 0x%02x", r.index, oct)
	}

	var (
		tag  Tag
		body []byte
		err  error
	)

	if oct&0x40 != 0 {
		tag = Tag(oct & 0x3f)
		body, err = r.readChunkedBody(r.pos + 1)
	} else {
		tag = Tag((oct >> 2) & 0x0f)
		body, err = r.readOldFormatBody(oct & 0x03)
	}

	if err != nil {
		return nil, fmt.Errorf("packet %d (tag %d): %w", r.index, tag, err)
	}

	rec := &Record{Tag: tag}

	switch tag {
	case TagPublicKey, TagPublicSubkey:
		fields, perr := parsePublicKey(body)
		rec.PublicKey = fields
		r.recordFault(tag, perr)
	case TagUserID:
		rec.UserID = parseUserID(body)
	case TagSignature:
		fields, perr := parseSignature(body)
		rec.Signature = fields
		r.recordFault(tag, perr)
	}

	r.index++

	return rec, nil
}

// Faults returns the accumulated nonfatal per-packet parse faults, or nil
// when every packet parsed cleanly.
func (r *Reader) Faults() error {
	return r.faults.ErrorOrNil()
}

func (r *Reader) recordFault(tag Tag, err error) {
	if err != nil {
		r.faults = multierror.Append(r.faults, fmt.Errorf("packet %d (tag %d): %w", r.index, tag, err))
	}
}

// readOldFormatBody handles the old-format length types: 1, 2 and 4 octet
// lengths plus the indeterminate form, which extends to the end of input.
func (r *Reader) readOldFormatBody(lengthType byte) ([]byte, error) {
	start := r.pos + 1

	switch lengthType {
	case 0:
		if start >= len(r.data) {
			return nil, errTruncated
		}

		return r.take(start+1, int(r.data[start]))
	case 1:
		if start+2 > len(r.data) {
			return nil, errTruncated
		}

		return r.take(start+2, int(binary.BigEndian.Uint16(r.data[start:])))
	case 2:
		if start+4 > len(r.data) {
			return nil, errTruncated
		}

		n := binary.BigEndian.Uint32(r.data[start:])
		if n > maxPacketBytes {
			return nil, fmt.Errorf("body length %d exceeds cap", n)
		}

		return r.take(start+4, int(n))
	default:
		body := r.data[start:]
		r.pos = len(r.data)

		return body, nil
	}
}

// readChunkedBody handles new-format lengths, including partial body
// lengths whose chunks are concatenated into one body.
func (r *Reader) readChunkedBody(pos int) ([]byte, error) {
	var body []byte

	for {
		if pos >= len(r.data) {
			return nil, errTruncated
		}

		oct := r.data[pos]
		pos++

		var (
			n       int
			partial bool
		)

		switch {
		case oct < 192:
			n = int(oct)
		case oct <= 223:
			if pos >= len(r.data) {
				return nil, errTruncated
			}

			n = int(oct-192)<<8 + int(r.data[pos]) + 192
			pos++
		case oct == 255:
			if pos+4 > len(r.data) {
				return nil, errTruncated
			}

			n32 := binary.BigEndian.Uint32(r.data[pos:])
			if n32 > maxPacketBytes {
				return nil, fmt.Errorf("body length %d exceeds cap", n32)
			}

			n = int(n32)
			pos += 4
		default:
			// Partial body length: 2^(low five bits), more chunks follow.
			n = 1 << (oct & 0x1f)
			partial = true
		}

		if pos+n > len(r.data) {
			return nil, errTruncated
		}

		if body == nil && !partial {
			// Common case: a single final chunk needs no copy.
			body = r.data[pos : pos+n]
		} else {
			body = append(body, r.data[pos:pos+n]...)
		}

		pos += n

		if len(body) > maxPacketBytes {
			return nil, fmt.Errorf("packet body exceeds cap of %d bytes", maxPacketBytes)
		}

		if !partial {
			r.pos = pos

			return body, nil
		}
	}
}

func (r *Reader) take(start, n int) ([]byte, error) {
	if n < 0 || n > maxPacketBytes {
		return nil, fmt.Errorf("body length %d exceeds cap", n)
	}

	if start+n > len(r.data) {
		return nil, errTruncated
	}

	r.pos = start + n

	return r.data[start : start+n], nil
}
