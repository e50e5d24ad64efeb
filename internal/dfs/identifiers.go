package dfs

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ipfs/go-cid"
)

// ParseAccount validates a textual account address: 0x-prefixed, 20 bytes of
// hex, a valid EIP-55 checksum when written in mixed case, and not the zero
// address. Failures are KindInvalidRecipient.
func ParseAccount(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return common.Address{}, Errorf(KindInvalidRecipient, OpShare, "address %q must start with 0x", s)
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, Errorf(KindInvalidRecipient, OpShare, "address %q is not 20 bytes of hex", s)
	}
	body := s[2:]
	if strings.ToLower(body) != body && strings.ToUpper(body) != body {
		m, err := common.NewMixedcaseAddressFromString("0x" + body)
		if err != nil || !m.ValidChecksum() {
			return common.Address{}, Errorf(KindInvalidRecipient, OpShare, "address %q has an invalid checksum", s)
		}
	}
	addr := common.HexToAddress(s)
	if addr == (common.Address{}) {
		return common.Address{}, Errorf(KindInvalidRecipient, OpShare, "zero address cannot receive shares")
	}
	return addr, nil
}

// ParseContentID validates a content identifier as a CID (v0 or v1).
func ParseContentID(s string) (cid.Cid, error) {
	if s == "" {
		return cid.Undef, fmt.Errorf("empty content id")
	}
	c, err := cid.Decode(s)
	if err != nil {
		return cid.Undef, fmt.Errorf("parsing content id %q: %w", s, err)
	}
	return c, nil
}
