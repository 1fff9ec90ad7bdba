package mvcc

// IsolationLevel selects how a transaction's reads are validated against
// concurrent commits (spec.md §4.6 "begin(isolation_level)"). DBX's
// version chains and single-comparison visibility (see the package doc
// in timestamp.go) give every level the same snapshot-read mechanics;
// the level is carried on Transaction purely so callers and the
// coordinator's validation step can be extended level-by-level without
// a breaking API change, mirroring bundoc's own
// mvcc.Snapshot.IsolationLevel field, which is stored but not yet
// branched on either.
type IsolationLevel int

const (
	ReadUncommitted IsolationLevel = iota
	ReadCommitted
	RepeatableRead
	Serializable
)

func (l IsolationLevel) String() string {
	switch l {
	case ReadUncommitted:
		return "read-uncommitted"
	case ReadCommitted:
		return "read-committed"
	case RepeatableRead:
		return "repeatable-read"
	case Serializable:
		return "serializable"
	default:
		return "unknown"
	}
}
