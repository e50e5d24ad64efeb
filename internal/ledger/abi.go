package ledger

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"dfs-go/internal/dfs"
)

// FileSharingABI is the interface of the deployed FileSharing contract.
const FileSharingABI = `[
  {"type":"function","name":"uploadFile","stateMutability":"nonpayable",
   "inputs":[{"name":"fileHash","type":"string"},{"name":"fileName","type":"string"},{"name":"description","type":"string"}],
   "outputs":[]},
  {"type":"function","name":"shareFile","stateMutability":"nonpayable",
   "inputs":[{"name":"fileHash","type":"string"},{"name":"recipient","type":"address"}],
   "outputs":[]},
  {"type":"function","name":"deleteFile","stateMutability":"nonpayable",
   "inputs":[{"name":"fileName","type":"string"},{"name":"version","type":"uint256"}],
   "outputs":[]},
  {"type":"function","name":"getUserFiles","stateMutability":"view",
   "inputs":[{"name":"user","type":"address"}],
   "outputs":[{"name":"","type":"tuple[]","components":[
     {"name":"fileName","type":"string"},{"name":"fileHash","type":"string"},{"name":"description","type":"string"},
     {"name":"version","type":"uint256"},{"name":"owner","type":"address"},{"name":"isDeleted","type":"bool"},
     {"name":"sharedWith","type":"address[]"}]}]},
  {"type":"function","name":"getSharedFiles","stateMutability":"view",
   "inputs":[{"name":"user","type":"address"}],
   "outputs":[{"name":"","type":"tuple[]","components":[
     {"name":"fileName","type":"string"},{"name":"fileHash","type":"string"},{"name":"description","type":"string"},
     {"name":"version","type":"uint256"},{"name":"owner","type":"address"},{"name":"isDeleted","type":"bool"},
     {"name":"sharedWith","type":"address[]"}]}]}
]`

// Contract method names.
const (
	methodUpload         = "uploadFile"
	methodShare          = "shareFile"
	methodDelete         = "deleteFile"
	methodGetUserFiles   = "getUserFiles"
	methodGetSharedFiles = "getSharedFiles"
)

var registryABI = mustParseABI(FileSharingABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("parsing contract abi: %v", err))
	}
	return parsed
}

// fileTuple mirrors the contract's File struct; field names follow the ABI
// component names so abi.ConvertType can map them.
type fileTuple struct {
	FileName    string
	FileHash    string
	Description string
	Version     *big.Int
	Owner       common.Address
	IsDeleted   bool
	SharedWith  []common.Address
}

func (f fileTuple) record() *dfs.FileRecord {
	var version uint64
	if f.Version != nil {
		version = f.Version.Uint64()
	}
	return &dfs.FileRecord{
		FileName:    f.FileName,
		ContentID:   f.FileHash,
		Description: f.Description,
		Version:     version,
		Owner:       f.Owner,
		IsDeleted:   f.IsDeleted,
		SharedWith:  append([]common.Address(nil), f.SharedWith...),
	}
}

func packUpload(contentID, fileName, description string) ([]byte, error) {
	return registryABI.Pack(methodUpload, contentID, fileName, description)
}

func packShare(contentID string, recipient common.Address) ([]byte, error) {
	return registryABI.Pack(methodShare, contentID, recipient)
}

func packDelete(fileName string, version uint64) ([]byte, error) {
	return registryABI.Pack(methodDelete, fileName, new(big.Int).SetUint64(version))
}

func packList(method string, account common.Address) ([]byte, error) {
	return registryABI.Pack(method, account)
}

// unpackFiles decodes the return data of getUserFiles / getSharedFiles.
func unpackFiles(method string, data []byte) ([]*dfs.FileRecord, error) {
	out, err := registryABI.Unpack(method, data)
	if err != nil {
		return nil, fmt.Errorf("unpacking %s: %w", method, err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("unpacking %s: got %d values, want 1", method, len(out))
	}
	tuples, ok := abi.ConvertType(out[0], new([]fileTuple)).(*[]fileTuple)
	if !ok {
		return nil, fmt.Errorf("unpacking %s: unexpected type %T", method, out[0])
	}
	records := make([]*dfs.FileRecord, len(*tuples))
	for i, t := range *tuples {
		records[i] = t.record()
	}
	return records, nil
}

// call is a decoded contract call.
type call struct {
	method      string
	contentID   string
	fileName    string
	description string
	recipient   common.Address
	version     uint64
}

// decodeCall decodes transaction calldata for one of the mutating methods.
func decodeCall(data []byte) (*call, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("calldata too short")
	}
	method, err := registryABI.MethodById(data[:4])
	if err != nil {
		return nil, fmt.Errorf("unknown method: %w", err)
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, fmt.Errorf("unpacking %s arguments: %w", method.Name, err)
	}

	c := &call{method: method.Name}
	switch method.Name {
	case methodUpload:
		c.contentID, c.fileName, c.description = args[0].(string), args[1].(string), args[2].(string)
	case methodShare:
		c.contentID, c.recipient = args[0].(string), args[1].(common.Address)
	case methodDelete:
		c.fileName = args[0].(string)
		v := args[1].(*big.Int)
		if !v.IsUint64() {
			return nil, fmt.Errorf("version out of range")
		}
		c.version = v.Uint64()
	default:
		return nil, fmt.Errorf("method %s is not a transaction", method.Name)
	}
	return c, nil
}
