package agreement

import (
	"hash/fnv"
	"sort"
	"sync"

	"github.com/pushchain/bridge-guard/guard/chains"
)

const shardCount = 32

// candidate is a transaction being agreed on. There is at most one per owner.
type candidate struct {
	tx       *chains.PaymentTransaction
	proposer int
	own      bool

	// validating is set while a remote request is being checked against the chain.
	validating bool

	// proposerSig is the proposer's signature, kept for resending the request.
	proposerSig []byte
	// response is this guard's signed answer to a remote request, kept for replays.
	response *responsePayload

	approvals  map[int][]byte
	rejections map[int]struct{}
}

func (c *candidate) sortedApprovals() []Approval {
	out := make([]Approval, 0, len(c.approvals))
	for guard, sig := range c.approvals {
		out = append(out, Approval{Guard: guard, Signature: sig})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Guard < out[j].Guard })
	return out
}

// CandidateInfo is a read-only view of an in-memory candidate.
type CandidateInfo struct {
	TxID       string
	OwnerID    string
	TxType     string
	Proposer   int
	Own        bool
	Approvals  int
	Rejections int
}

type shard struct {
	mu      sync.Mutex
	byOwner map[string]*candidate
}

// candidateStore keeps candidates keyed by owner id in independently locked shards, so message
// handlers for different owners never contend.
type candidateStore struct {
	shards [shardCount]*shard
}

func newCandidateStore() *candidateStore {
	s := &candidateStore{}
	for i := range s.shards {
		s.shards[i] = &shard{byOwner: make(map[string]*candidate)}
	}
	return s
}

func (s *candidateStore) shard(owner string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(owner))
	return s.shards[h.Sum32()%shardCount]
}

// with runs fn on the owner's slot while holding its shard lock. fn returns the new slot value.
func (s *candidateStore) with(owner string, fn func(cur *candidate) *candidate) {
	sh := s.shard(owner)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	next := fn(sh.byOwner[owner])
	if next == nil {
		delete(sh.byOwner, owner)
		return
	}
	sh.byOwner[owner] = next
}

// removeIf deletes every candidate drop selects and returns the removed ones.
func (s *candidateStore) removeIf(drop func(c *candidate) bool) []*candidate {
	var removed []*candidate
	for _, sh := range s.shards {
		sh.mu.Lock()
		for owner, c := range sh.byOwner {
			if drop(c) {
				delete(sh.byOwner, owner)
				removed = append(removed, c)
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// snapshot returns copies of the requests of own candidates and an info view of all candidates.
func (s *candidateStore) snapshot() ([]requestPayload, []CandidateInfo) {
	var requests []requestPayload
	var infos []CandidateInfo
	for _, sh := range s.shards {
		sh.mu.Lock()
		for owner, c := range sh.byOwner {
			if c.own {
				requests = append(requests, requestPayload{Tx: c.tx, Proposer: c.proposer, Signature: c.proposerSig})
			}
			infos = append(infos, CandidateInfo{
				TxID:       c.tx.TxID,
				OwnerID:    owner,
				TxType:     c.tx.TxType,
				Proposer:   c.proposer,
				Own:        c.own,
				Approvals:  len(c.approvals),
				Rejections: len(c.rejections),
			})
		}
		sh.mu.Unlock()
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].TxID < infos[j].TxID })
	return requests, infos
}

func (s *candidateStore) count() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.byOwner)
		sh.mu.Unlock()
	}
	return n
}
