package tracker

import "slices"

// ClientRecord is a known caller and its outstanding task references.
type ClientRecord struct {
	// IPAddress is the last observed address of the caller.
	IPAddress string
	// Identity is the caller's identity token, unique across records.
	Identity string
	// OngoingTasks holds task references in insertion order, without duplicates.
	OngoingTasks []string
	// Anonymous is set when the identity was minted for a caller that presented
	// none. Such a record holds the anonymous quota of its IP address; at most one
	// anonymous record may exist per address.
	Anonymous bool
}

func (r *ClientRecord) hasTask(taskRef string) bool {
	return slices.Contains(r.OngoingTasks, taskRef)
}

func (r *ClientRecord) clone() ClientRecord {
	c := *r
	c.OngoingTasks = slices.Clone(r.OngoingTasks)
	return c
}

// registry is the in-memory table of ClientRecords.
//
// It is not safe for concurrent use: every method must be called with the
// owning Tracker's mutex held. Records are kept in a slice rather than maps
// keyed by identity or IP so a corrupted state (two records for one key) is
// representable and detected instead of silently overwritten.
type registry struct {
	records []*ClientRecord
}

func newRegistry() *registry {
	return &registry{}
}

// findByIdentity returns the record holding identity, or nil.
func (r *registry) findByIdentity(identity string) (*ClientRecord, error) {
	var found *ClientRecord
	for _, rec := range r.records {
		if rec.Identity != identity {
			continue
		}
		if found != nil {
			return nil, duplicateIdentityError(identity)
		}
		found = rec
	}
	return found, nil
}

// findByIP returns every record last seen at ip. Several identified callers may
// legitimately share an address (NAT); the anonymous holder is unique.
func (r *registry) findByIP(ip string) ([]*ClientRecord, error) {
	var (
		found     []*ClientRecord
		anonymous int
	)
	for _, rec := range r.records {
		if rec.IPAddress != ip {
			continue
		}
		found = append(found, rec)
		if rec.Anonymous {
			anonymous++
		}
	}
	if anonymous > 1 {
		return nil, duplicateIPError(ip)
	}
	return found, nil
}

// matching returns records last seen at ip or holding identity. The returned
// slice is a copy, so records may be removed while iterating over it.
func (r *registry) matching(ip, identity string) []*ClientRecord {
	var found []*ClientRecord
	for _, rec := range r.records {
		if rec.IPAddress == ip || (identity != "" && rec.Identity == identity) {
			found = append(found, rec)
		}
	}
	return found
}

// upsert inserts rec, or accepts it unchanged if it is already registered.
func (r *registry) upsert(rec *ClientRecord) error {
	if rec.Identity == "" {
		return &ConsistencyError{Reason: "record without identity", Key: rec.IPAddress}
	}
	if len(rec.OngoingTasks) == 0 {
		return &ConsistencyError{Reason: "record without ongoing task", Key: shortIdentity(rec.Identity)}
	}

	present := false
	for _, other := range r.records {
		if other == rec {
			present = true
			continue
		}
		if other.Identity == rec.Identity {
			return duplicateIdentityError(rec.Identity)
		}
		if rec.Anonymous && other.Anonymous && other.IPAddress == rec.IPAddress {
			return duplicateIPError(rec.IPAddress)
		}
	}
	if !present {
		r.records = append(r.records, rec)
	}
	return nil
}

// addTask appends taskRef to rec. Task references are unique per record.
func (r *registry) addTask(rec *ClientRecord, taskRef string) error {
	if rec.hasTask(taskRef) {
		return &ConsistencyError{Reason: "duplicate task reference " + taskRef, Key: shortIdentity(rec.Identity)}
	}
	rec.OngoingTasks = append(rec.OngoingTasks, taskRef)
	return nil
}

// remove deletes rec from the registry.
func (r *registry) remove(rec *ClientRecord) {
	r.records = slices.DeleteFunc(r.records, func(other *ClientRecord) bool {
		return other == rec
	})
}

// removeTask drops taskRef from rec and deletes rec once it has no task left.
// It reports whether taskRef was present.
func (r *registry) removeTask(rec *ClientRecord, taskRef string) bool {
	idx := slices.Index(rec.OngoingTasks, taskRef)
	if idx < 0 {
		return false
	}
	rec.OngoingTasks = slices.Delete(rec.OngoingTasks, idx, idx+1)
	if len(rec.OngoingTasks) == 0 {
		r.remove(rec)
	}
	return true
}

// all returns a copy of the record pointers.
func (r *registry) all() []*ClientRecord {
	return slices.Clone(r.records)
}

func (r *registry) len() int {
	return len(r.records)
}

// snapshot returns deep copies of every record, in insertion order.
func (r *registry) snapshot() []ClientRecord {
	out := make([]ClientRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.clone())
	}
	return out
}
