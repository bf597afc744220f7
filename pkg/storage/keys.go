package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
)

// Key schema:
//
//	ord:{id:020d}               → order JSON
//	own:{address}:{id:020d}     → empty, owner index in id order
//	bal:{token}:{account}       → balance, decimal
//	res                         → reserves JSON
//	seq                         → next order id, big-endian uint64
const (
	prefixOrder   = "ord:"
	prefixOwner   = "own:"
	prefixBalance = "bal:"
)

var (
	keyReserves = []byte("res")
	keySeq      = []byte("seq")
)

func orderKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixOrder, id))
}

func ownerKey(owner common.Address, id uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", prefixOwner, owner.Hex(), id))
}

func ownerPrefix(owner common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixOwner, owner.Hex()))
}

func balanceKey(token, account common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixBalance, token.Hex(), account.Hex()))
}

// parseOwnerKey splits own:{address}:{id} back into its parts.
func parseOwnerKey(key []byte) (common.Address, uint64, error) {
	rest := bytes.TrimPrefix(key, []byte(prefixOwner))
	i := bytes.LastIndexByte(rest, ':')
	if i < 0 || !common.IsHexAddress(string(rest[:i])) {
		return common.Address{}, 0, fmt.Errorf("malformed owner key %q", key)
	}
	id, err := strconv.ParseUint(string(rest[i+1:]), 10, 64)
	if err != nil {
		return common.Address{}, 0, fmt.Errorf("malformed owner key %q: %w", key, err)
	}
	return common.HexToAddress(string(rest[:i])), id, nil
}

// parseBalanceKey splits bal:{token}:{account} back into its parts.
func parseBalanceKey(key []byte) (common.Address, common.Address, error) {
	parts := bytes.Split(bytes.TrimPrefix(key, []byte(prefixBalance)), []byte{':'})
	if len(parts) != 2 || !common.IsHexAddress(string(parts[0])) || !common.IsHexAddress(string(parts[1])) {
		return common.Address{}, common.Address{}, fmt.Errorf("malformed balance key %q", key)
	}
	return common.HexToAddress(string(parts[0])), common.HexToAddress(string(parts[1])), nil
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}

func encodeSeq(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

func decodeSeq(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("sequence of %d bytes", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}
