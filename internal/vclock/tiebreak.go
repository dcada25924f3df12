package vclock

import "time"

// Winner identifies which side of a concurrent pair an LWW-style
// comparison should keep. The order is fixed by spec: nodeID first,
// then originator timestamp, then op ID — and MUST be bit-identical at
// every replica, so this helper is the single place that decides it.
type Winner int

const (
	WinnerLocal Winner = iota
	WinnerRemote
)

// Tiebreak picks a winner between two concurrent operations using the
// uniform rule: lexicographically larger nodeID wins; on a nodeID tie,
// the later timestamp wins; on a full tie, the lexicographically
// larger opID wins (op IDs are unique, so this is the final tiebreak).
func Tiebreak(localNode, remoteNode string, localTs, remoteTs time.Time, localOpID, remoteOpID string) Winner {
	if localNode != remoteNode {
		if remoteNode > localNode {
			return WinnerRemote
		}
		return WinnerLocal
	}
	if !localTs.Equal(remoteTs) {
		if remoteTs.After(localTs) {
			return WinnerRemote
		}
		return WinnerLocal
	}
	if remoteOpID > localOpID {
		return WinnerRemote
	}
	return WinnerLocal
}
