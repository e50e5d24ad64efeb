package dfs

import (
	"slices"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// FileRecord is one version of a registered file as the ledger reports it,
// or as projected locally after a confirmed mutation.
type FileRecord struct {
	FileName    string
	ContentID   string
	Description string
	Version     uint64
	Owner       common.Address
	IsDeleted   bool
	SharedWith  []common.Address

	// Provisional marks a local projection that no ledger read has
	// confirmed yet. Records read from the ledger are never provisional.
	Provisional bool
}

// RecordKey identifies a record: (owner, fileName, version).
type RecordKey struct {
	Owner    common.Address
	FileName string
	Version  uint64
}

// Key returns the record's identity.
func (r *FileRecord) Key() RecordKey {
	return RecordKey{Owner: r.Owner, FileName: r.FileName, Version: r.Version}
}

// Clone returns a deep copy.
func (r *FileRecord) Clone() *FileRecord {
	cp := *r
	cp.SharedWith = slices.Clone(r.SharedWith)
	return &cp
}

// IsSharedWith reports whether account is a grantee.
func (r *FileRecord) IsSharedWith(account common.Address) bool {
	return slices.Contains(r.SharedWith, account)
}

// withGrantee returns a provisional copy with account added to SharedWith.
func (r *FileRecord) withGrantee(account common.Address) *FileRecord {
	cp := r.Clone()
	if !cp.IsSharedWith(account) {
		cp.SharedWith = append(cp.SharedWith, account)
	}
	cp.Provisional = true
	return cp
}

// deleted returns a provisional copy flagged as deleted.
func (r *FileRecord) deleted() *FileRecord {
	cp := r.Clone()
	cp.IsDeleted = true
	cp.Provisional = true
	return cp
}

// Arena holds versioned file records keyed by RecordKey, in the order the
// ledger reported them. Records are never modified in place: updates
// replace the stored pointer with a modified copy, so slices handed out
// earlier stay valid.
type Arena struct {
	records map[RecordKey]*FileRecord
	order   []RecordKey
}

// NewArena builds an arena from ledger-reported records.
func NewArena(records []*FileRecord) *Arena {
	a := &Arena{records: make(map[RecordKey]*FileRecord, len(records))}
	for _, r := range records {
		a.Put(r)
	}
	return a
}

// Put inserts or replaces a record.
func (a *Arena) Put(r *FileRecord) {
	key := r.Key()
	if _, ok := a.records[key]; !ok {
		a.order = append(a.order, key)
	}
	a.records[key] = r
}

// Get returns the record for key, or nil.
func (a *Arena) Get(key RecordKey) *FileRecord {
	return a.records[key]
}

// Len returns the number of records, deleted ones included.
func (a *Arena) Len() int {
	return len(a.order)
}

// All returns every record in ledger order.
func (a *Arena) All() []*FileRecord {
	out := make([]*FileRecord, 0, len(a.order))
	for _, key := range a.order {
		out = append(out, a.records[key])
	}
	return out
}

// Active returns the non-deleted records in ledger order.
func (a *Arena) Active() []*FileRecord {
	out := make([]*FileRecord, 0, len(a.order))
	for _, key := range a.order {
		if r := a.records[key]; !r.IsDeleted {
			out = append(out, r)
		}
	}
	return out
}

// Versions returns every version of fileName owned by owner, newest first.
func (a *Arena) Versions(owner common.Address, fileName string) []*FileRecord {
	var out []*FileRecord
	for _, key := range a.order {
		if key.Owner == owner && key.FileName == fileName {
			out = append(out, a.records[key])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	return out
}

// Current returns the highest non-deleted version of fileName, or nil.
func (a *Arena) Current(owner common.Address, fileName string) *FileRecord {
	for _, r := range a.Versions(owner, fileName) {
		if !r.IsDeleted {
			return r
		}
	}
	return nil
}

// NextVersion returns the version the ledger is expected to assign to the
// next registration of fileName by owner.
func (a *Arena) NextVersion(owner common.Address, fileName string) uint64 {
	var max uint64
	for _, key := range a.order {
		if key.Owner == owner && key.FileName == fileName && key.Version > max {
			max = key.Version
		}
	}
	return max + 1
}

// FindByContentID returns the newest non-deleted record of owner that
// points at contentID, or nil.
func (a *Arena) FindByContentID(owner common.Address, contentID string) *FileRecord {
	var found *FileRecord
	for _, key := range a.order {
		r := a.records[key]
		if r.Owner != owner || r.ContentID != contentID || r.IsDeleted {
			continue
		}
		if found == nil || r.Version > found.Version {
			found = r
		}
	}
	return found
}

func cloneRecords(records []*FileRecord) []*FileRecord {
	out := make([]*FileRecord, len(records))
	for i, r := range records {
		out[i] = r.Clone()
	}
	return out
}
