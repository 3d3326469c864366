package p2p

import (
	"context"
	"sync"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/uhyunpark/hypermarket/pkg/chain"
	"github.com/uhyunpark/hypermarket/pkg/crypto"
)

const (
	topicBlocks = "hm-blocks"
	topicTxs    = "hm-txs"
)

// Handlers receive gossip from other peers. Messages published by this
// host are not delivered back.
type Handlers struct {
	OnBlock func(ctx context.Context, b chain.Block)
	OnTx    func(ctx context.Context, raw []byte)
}

// Libp2pNet gossips sealed blocks from the sequencer to followers and
// relays submitted transactions from followers to the sequencer
type Libp2pNet struct {
	h   host.Host
	ps  *pubsub.PubSub
	log *zap.SugaredLogger

	// blocks without a valid seal from this key are dropped
	sequencerKey *crypto.BLSPubKey

	tBlocks, tTxs     *pubsub.Topic
	subBlocks, subTxs *pubsub.Subscription

	muH      sync.RWMutex
	handlers Handlers
}

type Libp2pConfig struct {
	ListenAddr   string
	Bootstrap    []string
	SequencerKey *crypto.BLSPubKey
	Logger       *zap.SugaredLogger
}

func NewLibp2pNet(ctx context.Context, cfg Libp2pConfig) (*Libp2pNet, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	var opts []libp2p.Option
	if cfg.ListenAddr != "" {
		maddr, err := ma.NewMultiaddr(cfg.ListenAddr)
		if err != nil {
			return nil, err
		}
		opts = append(opts, libp2p.ListenAddrs(maddr))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, err
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		return nil, err
	}

	net := &Libp2pNet{
		h: h, ps: ps, log: cfg.Logger,
		sequencerKey: cfg.SequencerKey,
	}

	for _, bs := range cfg.Bootstrap {
		if err := connectMultiaddr(ctx, h, bs); err != nil {
			cfg.Logger.Warnw("bootstrap_connect_failed", "addr", bs, "err", err)
		}
	}

	if err := net.joinTopics(); err != nil {
		h.Close()
		return nil, err
	}

	go net.handleBlocks(ctx)
	go net.handleTxs(ctx)

	cfg.Logger.Infow("libp2p_ready", "peer", h.ID().String(), "listen", cfg.ListenAddr)
	return net, nil
}

func connectMultiaddr(ctx context.Context, h host.Host, addr string) error {
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return err
	}
	info, err := peer.AddrInfoFromP2pAddr(m)
	if err != nil {
		return err
	}
	return h.Connect(ctx, *info)
}

func (n *Libp2pNet) joinTopics() error {
	var err error
	if n.tBlocks, err = n.ps.Join(topicBlocks); err != nil {
		return err
	}
	if n.tTxs, err = n.ps.Join(topicTxs); err != nil {
		return err
	}

	if n.subBlocks, err = n.tBlocks.Subscribe(); err != nil {
		return err
	}
	if n.subTxs, err = n.tTxs.Subscribe(); err != nil {
		return err
	}
	return nil
}

func (n *Libp2pNet) SetHandlers(h Handlers) { n.muH.Lock(); n.handlers = h; n.muH.Unlock() }

func (n *Libp2pNet) Host() host.Host { return n.h }

// Addrs returns dialable multiaddrs including the peer id
func (n *Libp2pNet) Addrs() []string {
	info := peer.AddrInfo{ID: n.h.ID(), Addrs: n.h.Addrs()}
	maddrs, err := peer.AddrInfoToP2pAddrs(&info)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(maddrs))
	for _, m := range maddrs {
		out = append(out, m.String())
	}
	return out
}

// PublishBlock announces a sealed block
func (n *Libp2pNet) PublishBlock(ctx context.Context, b chain.Block) error {
	bb, err := gobEncode(b)
	if err != nil {
		return err
	}
	data, err := gobEncode(BlockWire{Block: bb})
	if err != nil {
		return err
	}
	return n.tBlocks.Publish(ctx, data)
}

// PublishTx relays a signed transaction towards the sequencer
func (n *Libp2pNet) PublishTx(ctx context.Context, raw []byte) error {
	data, err := gobEncode(TxWire{Tx: raw})
	if err != nil {
		return err
	}
	return n.tTxs.Publish(ctx, data)
}

func (n *Libp2pNet) Close() error {
	n.subBlocks.Cancel()
	n.subTxs.Cancel()
	return n.h.Close()
}

// inbound

func (n *Libp2pNet) handleBlocks(ctx context.Context) {
	for {
		msg, err := n.subBlocks.Next(ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == n.h.ID() {
			continue
		}
		var w BlockWire
		if err := gobDecode(msg.Data, &w); err != nil {
			continue
		}
		var blk chain.Block
		if err := gobDecode(w.Block, &blk); err != nil {
			continue
		}
		if n.sequencerKey == nil || !chain.VerifySeal(n.sequencerKey, blk) {
			n.log.Warnw("block_seal_rejected", "height", blk.Height, "from", msg.ReceivedFrom.String())
			continue
		}

		n.muH.RLock()
		h := n.handlers
		n.muH.RUnlock()
		if h.OnBlock != nil {
			h.OnBlock(ctx, blk)
		}
	}
}

func (n *Libp2pNet) handleTxs(ctx context.Context) {
	for {
		msg, err := n.subTxs.Next(ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == n.h.ID() {
			continue
		}
		var w TxWire
		if err := gobDecode(msg.Data, &w); err != nil || len(w.Tx) == 0 {
			continue
		}

		n.muH.RLock()
		h := n.handlers
		n.muH.RUnlock()
		if h.OnTx != nil {
			h.OnTx(ctx, w.Tx)
		}
	}
}
