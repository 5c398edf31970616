// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package keyinfo_test

import (
	"bytes"
)

// Synthetic packet builders, old format with two-octet lengths.

func pkt(tag byte, body []byte) []byte {
	out := []byte{0x80 | tag<<2 | 0x01, byte(len(body) >> 8), byte(len(body))}

	return append(out, body...)
}

func mpi(bits int) []byte {
	out := []byte{byte(bits >> 8), byte(bits)}

	return append(out, bytes.Repeat([]byte{0xff}, (bits+7)/8)...)
}

func v4KeyBody(created uint32, algo byte, material ...[]byte) []byte {
	body := []byte{4, byte(created >> 24), byte(created >> 16), byte(created >> 8), byte(created), algo}

	for _, m := range material {
		body = append(body, m...)
	}

	return body
}

func v3KeyBody(created uint32, days uint16, algo byte, material ...[]byte) []byte {
	body := []byte{
		3,
		byte(created >> 24), byte(created >> 16), byte(created >> 8), byte(created),
		byte(days >> 8), byte(days),
		algo,
	}

	for _, m := range material {
		body = append(body, m...)
	}

	return body
}

func subpacket(subType byte, data ...byte) []byte {
	out := []byte{byte(1 + len(data)), subType}

	return append(out, data...)
}

func v4SigBody(subpackets ...[]byte) []byte {
	var area []byte

	for _, sp := range subpackets {
		area = append(area, sp...)
	}

	body := []byte{4, 0x13, 1, 8, byte(len(area) >> 8), byte(len(area))}
	body = append(body, area...)

	return append(body, 0, 0)
}

func sigKeyFlags(flags byte) []byte {
	return pkt(2, v4SigBody(subpacket(27, flags)))
}

func sigKeyExpiry(seconds uint32) []byte {
	return pkt(2, v4SigBody(subpacket(9,
		byte(seconds>>24), byte(seconds>>16), byte(seconds>>8), byte(seconds))))
}

func rsaKey(created uint32, bits int) []byte {
	return pkt(6, v4KeyBody(created, 1, mpi(bits), mpi(17)))
}

func rsaSubkey(created uint32, bits int) []byte {
	return pkt(14, v4KeyBody(created, 1, mpi(bits), mpi(17)))
}

func userID(s string) []byte {
	return pkt(13, []byte(s))
}

func concat(chunks ...[]byte) []byte {
	var out []byte

	for _, c := range chunks {
		out = append(out, c...)
	}

	return out
}
