package tron

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mr-tron/base58"
)

// AddressPrefix is the first byte of every mainnet TRON address
const AddressPrefix byte = 0x41

const addressLength = 21 // prefix + 20 byte account id

// ToHexAddress converts a base58check address (T...) to its 41-prefixed hex form
func ToHexAddress(addr string) (string, error) {
	raw, err := decodeAddress(addr)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

// FromHexAddress converts a 41-prefixed hex address, or a 0x EVM style address, to base58check
func FromHexAddress(hexAddr string) (string, error) {
	hexAddr = strings.TrimSpace(hexAddr)
	if strings.HasPrefix(hexAddr, "0x") || strings.HasPrefix(hexAddr, "0X") {
		if !common.IsHexAddress(hexAddr) {
			return "", fmt.Errorf("invalid hex address %q", hexAddr)
		}
		return encodeAddress(append([]byte{AddressPrefix}, common.HexToAddress(hexAddr).Bytes()...)), nil
	}

	raw, err := hex.DecodeString(hexAddr)
	if err != nil {
		return "", fmt.Errorf("invalid hex address %q: %w", hexAddr, err)
	}
	if len(raw) != addressLength || raw[0] != AddressPrefix {
		return "", fmt.Errorf("invalid hex address %q: expected 21 bytes starting with 41", hexAddr)
	}
	return encodeAddress(raw), nil
}

// IsValidAddress reports whether addr is a well formed base58check TRON address
func IsValidAddress(addr string) bool {
	_, err := decodeAddress(addr)
	return err == nil
}

// evmAddress returns the 20 byte account id used in ABI encoding
func evmAddress(addr string) (common.Address, error) {
	raw, err := decodeAddress(addr)
	if err != nil {
		return common.Address{}, err
	}
	return common.BytesToAddress(raw[1:]), nil
}

func fromEVMAddress(addr common.Address) string {
	return encodeAddress(append([]byte{AddressPrefix}, addr.Bytes()...))
}

func decodeAddress(addr string) ([]byte, error) {
	decoded, err := base58.Decode(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid TRON address %q: %w", addr, err)
	}
	if len(decoded) != addressLength+4 {
		return nil, fmt.Errorf("invalid TRON address %q: decoded length %d", addr, len(decoded))
	}

	payload, checksum := decoded[:addressLength], decoded[addressLength:]
	if !bytes.Equal(addressChecksum(payload), checksum) {
		return nil, fmt.Errorf("invalid TRON address %q: checksum mismatch", addr)
	}
	if payload[0] != AddressPrefix {
		return nil, fmt.Errorf("invalid TRON address %q: unexpected prefix %#x", addr, payload[0])
	}
	return payload, nil
}

func encodeAddress(payload []byte) string {
	return base58.Encode(append(append([]byte{}, payload...), addressChecksum(payload)...))
}

func addressChecksum(payload []byte) []byte {
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	return second[:4]
}
