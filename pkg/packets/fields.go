// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package packets

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Signature subpacket types interpreted by consumers of this package.
const (
	SubpacketKeyExpiry uint8 = 9
	SubpacketKeyFlags  uint8 = 27
)

// PublicKeyFields is the decoded view of a public key or public subkey
// packet. BitLength is the size of the primary key material: the RSA
// modulus or DSA/ElGamal prime MPI, or the curve size for ECC algorithms.
type PublicKeyFields struct {
	Version       int
	Fingerprint   string
	AlgorithmCode int
	AlgorithmName string
	BitLength     int
	CreationTime  int64
	DaysValid     int
}

// UserIDFields is the decoded view of a user ID packet, split from the
// conventional "Name (Comment) <email>" form.
type UserIDFields struct {
	Name    string
	Email   string
	Comment string
}

// Subpacket is one typed sub-record of a signature packet. Data aliases
// the input blob and stays valid as long as the blob is unmodified.
type Subpacket struct {
	Type uint8
	Data []byte
}

// SignatureFields is the decoded view of a signature packet. Subpackets
// holds the hashed and unhashed areas concatenated, in stream order;
// only v4 signatures carry subpackets.
type SignatureFields struct {
	Version    int
	SigType    int
	Subpackets []Subpacket
}

var algorithmNames = map[int]string{
	1:  "RSA Encrypt or Sign",
	2:  "RSA Encrypt-Only",
	3:  "RSA Sign-Only",
	16: "ElGamal Encrypt-Only",
	17: "DSA Digital Signature Algorithm",
	18: "ECDH",
	19: "ECDSA",
	20: "Formerly ElGamal Encrypt or Sign",
	21: "Diffie-Hellman",
	22: "EdDSA",
}

// curveBits maps curve OID bytes (hex) to the nominal curve size.
var curveBits = map[string]int{
	"2a8648ce3d030107":     256, // NIST P-256
	"2b81040022":           384, // NIST P-384
	"2b81040023":           521, // NIST P-521
	"2b8104000a":           256, // secp256k1
	"2b06010401da470f01":   256, // Ed25519
	"2b060104019755010501": 256, // Curve25519
	"2b2403030208010107":   256, // brainpoolP256r1
	"2b240303020801010b":   384, // brainpoolP384r1
	"2b240303020801010d":   512, // brainpoolP512r1
}

// AlgorithmName returns the display name for a public key algorithm code.
func AlgorithmName(code int) string {
	if name, ok := algorithmNames[code]; ok {
		return name
	}

	return "Unknown"
}

// IsRSA reports whether the algorithm code is one of the RSA variants.
func IsRSA(code int) bool {
	return code == 1 || code == 2 || code == 3
}

func parsePublicKey(body []byte) (*PublicKeyFields, error) {
	fields := &PublicKeyFields{}

	if len(body) == 0 {
		return fields, errors.New("empty public key body")
	}

	fields.Version = int(body[0])

	switch fields.Version {
	case 2, 3:
		if len(body) < 8 {
			return fields, errTruncated
		}

		fields.CreationTime = int64(binary.BigEndian.Uint32(body[1:5]))
		fields.DaysValid = int(binary.BigEndian.Uint16(body[5:7]))
		fields.AlgorithmCode = int(body[7])
		fields.AlgorithmName = AlgorithmName(fields.AlgorithmCode)

		return fields, parseV3Material(fields, body[8:])
	case 4:
		if len(body) < 6 {
			return fields, errTruncated
		}

		fields.CreationTime = int64(binary.BigEndian.Uint32(body[1:5]))
		fields.AlgorithmCode = int(body[5])
		fields.AlgorithmName = AlgorithmName(fields.AlgorithmCode)
		fields.Fingerprint = fingerprintV4(body)

		return fields, parseMaterial(fields, body[6:])
	case 6:
		// RFC 9580 layout: a 4-octet key material length follows the algorithm.
		if len(body) < 10 {
			return fields, errTruncated
		}

		fields.CreationTime = int64(binary.BigEndian.Uint32(body[1:5]))
		fields.AlgorithmCode = int(body[5])
		fields.AlgorithmName = AlgorithmName(fields.AlgorithmCode)
		fields.Fingerprint = fingerprintV6(body)

		return fields, parseMaterial(fields, body[10:])
	default:
		return fields, fmt.Errorf("unsupported public key version %d", fields.Version)
	}
}

// parseMaterial fills BitLength for v4/v6 key material.
func parseMaterial(fields *PublicKeyFields, material []byte) error {
	switch fields.AlgorithmCode {
	case 1, 2, 3, 16, 17, 20, 21:
		bits, _, err := readMPI(material)
		if err != nil {
			return err
		}

		fields.BitLength = bits
	case 18, 19, 22:
		if len(material) == 0 {
			return errors.New("missing curve OID")
		}

		n := int(material[0])
		if n == 0 || 1+n > len(material) {
			return errors.New("malformed curve OID")
		}

		fields.BitLength = curveBits[hex.EncodeToString(material[1:1+n])]
	}

	return nil
}

// parseV3Material fills BitLength and, for RSA, the legacy MD5 fingerprint
// over the modulus and exponent bytes.
func parseV3Material(fields *PublicKeyFields, material []byte) error {
	bits, rest, err := readMPI(material)
	if err != nil {
		return err
	}

	fields.BitLength = bits

	if !IsRSA(fields.AlgorithmCode) {
		return nil
	}

	modulus := material[2 : 2+mpiByteLen(bits)]

	expBits, _, err := readMPI(rest)
	if err != nil {
		return err
	}

	exponent := rest[2 : 2+mpiByteLen(expBits)]

	digest := md5.New()
	digest.Write(modulus)
	digest.Write(exponent)
	fields.Fingerprint = strings.ToUpper(hex.EncodeToString(digest.Sum(nil)))

	return nil
}

func parseUserID(body []byte) *UserIDFields {
	fields := &UserIDFields{}

	s := strings.TrimSpace(string(body))

	if i := strings.LastIndex(s, "<"); i >= 0 {
		if j := strings.Index(s[i:], ">"); j > 0 {
			fields.Email = strings.TrimSpace(s[i+1 : i+j])
			s = strings.TrimSpace(s[:i])
		}
	}

	if strings.HasSuffix(s, ")") {
		if i := strings.LastIndex(s, "("); i >= 0 {
			fields.Comment = strings.TrimSpace(s[i+1 : len(s)-1])
			s = strings.TrimSpace(s[:i])
		}
	}

	fields.Name = s

	return fields
}

func parseSignature(body []byte) (*SignatureFields, error) {
	fields := &SignatureFields{}

	if len(body) == 0 {
		return fields, errors.New("empty signature body")
	}

	fields.Version = int(body[0])

	// v3 signatures carry no subpackets and v5/v6 use different framing;
	// the subpackets consumers care about are v4-era.
	if fields.Version != 4 {
		return fields, nil
	}

	if len(body) < 6 {
		return fields, errTruncated
	}

	fields.SigType = int(body[1])

	rest := body[4:]

	// Hashed area first, then the unhashed area, same framing.
	for area := 0; area < 2; area++ {
		if len(rest) < 2 {
			return fields, errors.New("truncated subpacket area")
		}

		n := int(binary.BigEndian.Uint16(rest))
		rest = rest[2:]

		if n > len(rest) {
			return fields, errors.New("truncated subpacket area")
		}

		subpackets, err := parseSubpackets(rest[:n])
		fields.Subpackets = append(fields.Subpackets, subpackets...)

		if err != nil {
			return fields, err
		}

		rest = rest[n:]
	}

	return fields, nil
}

func parseSubpackets(area []byte) ([]Subpacket, error) {
	var subpackets []Subpacket

	for len(area) > 0 {
		var n int

		switch oct := area[0]; {
		case oct < 192:
			n, area = int(oct), area[1:]
		case oct < 255:
			if len(area) < 2 {
				return subpackets, errors.New("truncated subpacket length")
			}

			n, area = int(oct-192)<<8+int(area[1])+192, area[2:]
		default:
			if len(area) < 5 {
				return subpackets, errors.New("truncated subpacket length")
			}

			n32 := binary.BigEndian.Uint32(area[1:5])
			if n32 > maxPacketBytes {
				return subpackets, fmt.Errorf("subpacket length %d exceeds cap", n32)
			}

			n, area = int(n32), area[5:]
		}

		if n == 0 || n > len(area) {
			return subpackets, errors.New("truncated subpacket")
		}

		// The length includes the type octet; mask off the critical bit.
		subpackets = append(subpackets, Subpacket{Type: area[0] & 0x7f, Data: area[1:n]})
		area = area[n:]
	}

	return subpackets, nil
}

func readMPI(b []byte) (bits int, rest []byte, err error) {
	if len(b) < 2 {
		return 0, nil, errors.New("truncated MPI")
	}

	bits = int(binary.BigEndian.Uint16(b))

	n := mpiByteLen(bits)
	if 2+n > len(b) {
		return 0, nil, errors.New("truncated MPI")
	}

	return bits, b[2+n:], nil
}

func mpiByteLen(bits int) int {
	return (bits + 7) / 8
}

// fingerprintV4 is SHA-1 over 0x99, a two-octet body length and the body
// (RFC 4880, section 12.2).
func fingerprintV4(body []byte) string {
	digest := sha1.New()
	digest.Write([]byte{0x99, byte(len(body) >> 8), byte(len(body))})
	digest.Write(body)

	return strings.ToUpper(hex.EncodeToString(digest.Sum(nil)))
}

// fingerprintV6 is SHA-256 over 0x9b, a four-octet body length and the
// body (RFC 9580, section 5.5.4).
func fingerprintV6(body []byte) string {
	digest := sha256.New()
	digest.Write([]byte{0x9b, byte(len(body) >> 24), byte(len(body) >> 16), byte(len(body) >> 8), byte(len(body))})
	digest.Write(body)

	return strings.ToUpper(hex.EncodeToString(digest.Sum(nil)))
}
