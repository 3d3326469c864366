package mempool

import (
	"encoding/json"
	"errors"
	"math"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hypermarket/pkg/app/core/transaction"
	"github.com/uhyunpark/hypermarket/pkg/crypto"
)

var (
	ErrDuplicate = errors.New("transaction already pending")
	ErrFull      = errors.New("mempool full")
)

// TxClass classifies transactions into ordering buckets.
type TxClass int

const (
	ClassSetup    TxClass = iota // deposits, mints, approvals
	ClassListing                 // new listings
	ClassPurchase                // sales
)

// Classify classifies a raw transaction by its JSON envelope type.
//
//	{"type": "deposit"|"mint"|"approve", ...} -> ClassSetup
//	{"type": "list", ...}                     -> ClassListing
//	{"type": "buy", ...}                      -> ClassPurchase
//
// Malformed transactions are classified as purchases; they are rejected
// at execution and must not jump ahead of well-formed setup transactions.
func Classify(b []byte) TxClass {
	if len(b) == 0 || b[0] != '{' {
		return ClassPurchase
	}

	var txEnvelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(b, &txEnvelope); err != nil {
		return ClassPurchase
	}

	switch txEnvelope.Type {
	case "deposit", "mint", "approve":
		return ClassSetup
	case "list":
		return ClassListing
	default:
		return ClassPurchase
	}
}

// entry is one pending transaction
type entry struct {
	tx     []byte
	hash   common.Hash
	class  TxClass
	sender common.Address
	nonce  uint64
	seq    uint64 // arrival order
}

// before reports whether e drains ahead of o when both are eligible
func (e *entry) before(o *entry) bool {
	if e.class != o.class {
		return e.class < o.class
	}
	return e.seq < o.seq
}

// attribute returns the signer and nonce named by a transaction payload.
// ok is false for transactions that name no signer.
func attribute(b []byte) (sender common.Address, nonce uint64, ok bool) {
	tx, err := transaction.Deserialize(b)
	if err != nil {
		return common.Address{}, 0, false
	}
	p, err := tx.Payload()
	if err != nil || p.From() == (common.Address{}) {
		return common.Address{}, 0, false
	}
	nonce, err = p.NonceValue()
	if err != nil {
		nonce = math.MaxUint64
	}
	return p.From(), nonce, true
}

// Mempool drains transactions in three classes:
// (1) setup, (2) listings, (3) purchases, FIFO within a class.
// Within a block this lets a listing and its purchase land together.
//
// Accounts only accept increasing nonces, so a signer's transactions are
// queued by nonce and only the head of each signer's queue competes for
// the next slot. A later setup tx never overtakes its signer's earlier
// listing.
type Mempool struct {
	mu      sync.Mutex
	queues  map[common.Address][]*entry // per signer, ascending nonce
	loose   []*entry                    // transactions naming no signer
	pending map[common.Hash]struct{}
	seq     uint64
	maxTxs  int
}

// NewMempool creates a mempool holding at most maxTxs transactions (0 = unbounded)
func NewMempool(maxTxs int) *Mempool {
	return &Mempool{
		queues:  make(map[common.Address][]*entry),
		pending: make(map[common.Hash]struct{}),
		maxTxs:  maxTxs,
	}
}

// Push classifies and enqueues a tx, returning its hash.
func (m *Mempool) Push(b []byte) (common.Hash, error) {
	cp := append([]byte(nil), b...)
	h := crypto.TxHash(cp)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pending[h]; ok {
		return h, ErrDuplicate
	}
	if m.maxTxs > 0 && len(m.pending) >= m.maxTxs {
		return h, ErrFull
	}
	m.pending[h] = struct{}{}

	m.seq++
	e := &entry{tx: cp, hash: h, class: Classify(cp), seq: m.seq}
	sender, nonce, ok := attribute(cp)
	if !ok {
		m.loose = append(m.loose, e)
		return h, nil
	}
	e.sender, e.nonce = sender, nonce

	q := m.queues[sender]
	i := sort.Search(len(q), func(i int) bool { return q[i].nonce > nonce })
	q = append(q, nil)
	copy(q[i+1:], q[i:])
	q[i] = e
	m.queues[sender] = q
	return h, nil
}

// SelectForProposal returns up to maxBytes worth of txs, removing them
// from the mempool. Each signer's txs come out in nonce order.
func (m *Mempool) SelectForProposal(maxBytes int64) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out [][]byte
	var used int64
	for {
		var best *entry
		for _, q := range m.queues {
			if best == nil || q[0].before(best) {
				best = q[0]
			}
		}
		looseAt := -1
		for i, e := range m.loose {
			if best == nil || e.before(best) {
				best, looseAt = e, i
			}
		}
		if best == nil {
			break
		}
		n := int64(len(best.tx))
		if maxBytes > 0 && used+n > maxBytes {
			break
		}
		out = append(out, best.tx)
		used += n
		delete(m.pending, best.hash)

		if looseAt >= 0 {
			m.loose = append(m.loose[:looseAt], m.loose[looseAt+1:]...)
		} else {
			m.popHead(best.sender)
		}
	}
	return out
}

func (m *Mempool) popHead(sender common.Address) {
	q := m.queues[sender][1:]
	if len(q) == 0 {
		delete(m.queues, sender)
		return
	}
	m.queues[sender] = q
}

// Remove drops txs that were executed in a block this node did not
// propose. Unknown hashes are ignored.
func (m *Mempool) Remove(hashes ...common.Hash) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for _, h := range hashes {
		if _, ok := m.pending[h]; ok {
			delete(m.pending, h)
			removed++
		}
	}
	if removed == 0 {
		return
	}
	keep := func(q []*entry) []*entry {
		out := q[:0]
		for _, e := range q {
			if _, ok := m.pending[e.hash]; ok {
				out = append(out, e)
			}
		}
		return out
	}
	for sender, q := range m.queues {
		if q = keep(q); len(q) == 0 {
			delete(m.queues, sender)
		} else {
			m.queues[sender] = q
		}
	}
	m.loose = keep(m.loose)
}

// Len returns total pending txs.
func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}
