// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package bdb

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/morphaNFT/marker-maker/dex/encode"
	"github.com/morphaNFT/marker-maker/server/db"
)

// Key prefixes. Each key is a single prefix byte followed by fixed-length
// fields, so prefix iteration never crosses tables.
var (
	versionKey     = []byte("v")
	rolesKey       = []byte("r")
	lastSeqKey     = []byte("q")
	balancePrefix  = []byte("b") // + account + token
	bindingPrefix  = []byte("n") // + account
	approvedPrefix = []byte("a") // + token
	allowedPrefix  = []byte("w") // + token
	recordPrefix   = []byte("l") // + seq
)

const blobVersion = 0

func prefixedKey(prefix []byte, parts ...[]byte) []byte {
	k := make([]byte, len(prefix), 41)
	copy(k, prefix)
	for _, p := range parts {
		k = append(k, p...)
	}
	return k
}

func balanceKey(acct, token common.Address) []byte {
	return prefixedKey(balancePrefix, acct[:], token[:])
}

func recordKey(seq uint64) []byte {
	return prefixedKey(recordPrefix, encode.Uint64Bytes(seq))
}

func corrupt(format string, a ...any) error {
	return db.ArchiveError{Code: db.ErrCorruptRecord, Detail: fmt.Sprintf(format, a...)}
}

func addressFromPush(b []byte) (common.Address, error) {
	if len(b) != common.AddressLength {
		return common.Address{}, fmt.Errorf("wrong address length %d", len(b))
	}
	return common.BytesToAddress(b), nil
}

func encodeRoles(r *db.Roles) []byte {
	return encode.BuildyBytes{blobVersion}.
		AddData(r.Administrator[:]).
		AddData(r.Operator[:]).
		AddData(r.DeductionAgent[:]).
		AddBool(r.Active)
}

func decodeRoles(b []byte) (*db.Roles, error) {
	ver, pushes, err := encode.DecodeBlob(b, 4)
	if err != nil {
		return nil, corrupt("roles: %v", err)
	}
	if ver != blobVersion || len(pushes) != 4 {
		return nil, corrupt("roles: version %d, %d pushes", ver, len(pushes))
	}
	var addrs [3]common.Address
	for i := range addrs {
		if addrs[i], err = addressFromPush(pushes[i]); err != nil {
			return nil, corrupt("roles: %v", err)
		}
	}
	return &db.Roles{
		Administrator:  addrs[0],
		Operator:       addrs[1],
		DeductionAgent: addrs[2],
		Active:         encode.DecodeBool(pushes[3]),
	}, nil
}

func encodeBinding(b *db.Binding) []byte {
	return encode.BuildyBytes{blobVersion}.
		AddData(b.Collection[:]).
		AddData(b.Token[:]).
		AddBig(b.MinPrice).
		AddBig(b.MaxPrice)
}

func decodeBinding(acct common.Address, b []byte) (*db.Binding, error) {
	ver, pushes, err := encode.DecodeBlob(b, 4)
	if err != nil {
		return nil, corrupt("binding: %v", err)
	}
	if ver != blobVersion || len(pushes) != 4 {
		return nil, corrupt("binding: version %d, %d pushes", ver, len(pushes))
	}
	bind := &db.Binding{
		Account:  acct,
		MinPrice: encode.DecodeBig(pushes[2]),
		MaxPrice: encode.DecodeBig(pushes[3]),
	}
	if bind.Collection, err = addressFromPush(pushes[0]); err != nil {
		return nil, corrupt("binding collection: %v", err)
	}
	if bind.Token, err = addressFromPush(pushes[1]); err != nil {
		return nil, corrupt("binding token: %v", err)
	}
	if bind.MinPrice == nil || bind.MaxPrice == nil {
		return nil, corrupt("binding for %s missing price", acct)
	}
	return bind, nil
}

func encodeRecord(r *db.Record) []byte {
	return encode.BuildyBytes{blobVersion}.
		AddData([]byte{byte(r.Type)}).
		AddTime(r.Stamp).
		AddData(r.Caller[:]).
		AddData(r.Account[:]).
		AddData(r.Counterparty[:]).
		AddData(r.Token[:]).
		AddData(r.Collection[:]).
		AddBig(r.Amount).
		AddBig(r.SpendCap).
		AddData([]byte(r.Detail))
}

func decodeRecord(seq uint64, b []byte) (*db.Record, error) {
	ver, pushes, err := encode.DecodeBlob(b, 10)
	if err != nil {
		return nil, corrupt("record %d: %v", seq, err)
	}
	if ver != blobVersion || len(pushes) != 10 {
		return nil, corrupt("record %d: version %d, %d pushes", seq, ver, len(pushes))
	}
	if len(pushes[0]) != 1 {
		return nil, corrupt("record %d: bad type", seq)
	}
	r := &db.Record{
		Seq:      seq,
		Type:     db.RecordType(pushes[0][0]),
		Amount:   encode.DecodeBig(pushes[7]),
		SpendCap: encode.DecodeBig(pushes[8]),
		Detail:   string(pushes[9]),
	}
	if r.Stamp, err = encode.DecodeUTime(pushes[1]); err != nil {
		return nil, corrupt("record %d: %v", seq, err)
	}
	for i, addr := range []*common.Address{&r.Caller, &r.Account, &r.Counterparty, &r.Token, &r.Collection} {
		if *addr, err = addressFromPush(pushes[i+2]); err != nil {
			return nil, corrupt("record %d: %v", seq, err)
		}
	}
	return r, nil
}

func decodeAmount(b []byte) *big.Int {
	return new(big.Int).SetBytes(b)
}
