package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/pion/logging"
	"github.com/pion/transport/v3/vnet"
	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/signaling-relay/internal/frame"
)

// DefaultDataChannelLabel is the label of the DataChannel opened per peer.
const DefaultDataChannelLabel = "aero"

type APIConfig struct {
	LoggerFactory logging.LoggerFactory
	// Net replaces the host network, typically with a vnet.Net in tests.
	Net *vnet.Net
}

// NewAPI builds a pion API for negotiating peer DataChannels.
func NewAPI(cfg APIConfig) (*webrtc.API, error) {
	se := webrtc.SettingEngine{}
	if cfg.LoggerFactory != nil {
		se.LoggerFactory = cfg.LoggerFactory
	}
	if cfg.Net != nil {
		se.SetNet(cfg.Net)
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	return webrtc.NewAPI(
		webrtc.WithSettingEngine(se),
		webrtc.WithMediaEngine(mediaEngine),
	), nil
}

type NegotiatorConfig struct {
	Client *Client
	// API defaults to NewAPI(APIConfig{}).
	API        *webrtc.API
	ICEServers []webrtc.ICEServer
	Label      string

	// OnOpen is called once per remote peer when its DataChannel opens.
	OnOpen func(peerID uint64, dc *webrtc.DataChannel)
	Logger *slog.Logger
}

// Negotiator answers relay frames with WebRTC negotiation.
//
// Members already in the room offer to a newcomer when they see its join
// broadcast. The newcomer only answers, so two peers never offer to each
// other.
type Negotiator struct {
	cfg    NegotiatorConfig
	client *Client
	api    *webrtc.API
	log    *slog.Logger

	mu     sync.Mutex
	peers  map[uint64]*remotePeer
	closed bool
}

type remotePeer struct {
	id uint64
	pc *webrtc.PeerConnection

	mu        sync.Mutex
	remoteSet bool
	pending   []webrtc.ICECandidateInit
	opened    sync.Once
}

func NewNegotiator(cfg NegotiatorConfig) (*Negotiator, error) {
	if cfg.Client == nil {
		return nil, errors.New("peer: negotiator requires a client")
	}
	if cfg.Label == "" {
		cfg.Label = DefaultDataChannelLabel
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	api := cfg.API
	if api == nil {
		var err error
		api, err = NewAPI(APIConfig{})
		if err != nil {
			return nil, err
		}
	}
	return &Negotiator{
		cfg:    cfg,
		client: cfg.Client,
		api:    api,
		log:    cfg.Logger.With("peer_id", cfg.Client.ID()),
		peers:  make(map[uint64]*remotePeer),
	}, nil
}

// Run processes relay frames until ctx is cancelled or the relay connection
// fails. Cancelling ctx closes the client.
func (n *Negotiator) Run(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = n.client.Close()
		case <-done:
		}
	}()

	for {
		f, err := n.client.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if err := n.handle(f); err != nil {
			n.log.Warn("negotiation_frame_rejected", "from", f.Sender, "header", f.Header, "err", err)
		}
	}
}

// Peers returns the ids of remote peers with a live PeerConnection.
func (n *Negotiator) Peers() []uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]uint64, 0, len(n.peers))
	for id := range n.peers {
		out = append(out, id)
	}
	return out
}

// Close closes every PeerConnection. The client is left to the caller.
func (n *Negotiator) Close() error {
	n.mu.Lock()
	n.closed = true
	peers := n.peers
	n.peers = make(map[uint64]*remotePeer)
	n.mu.Unlock()

	var errs []error
	for _, p := range peers {
		if err := p.pc.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (n *Negotiator) handle(f frame.Frame) error {
	if f.Sender == n.client.ID() {
		return nil
	}
	switch f.Header {
	case HeaderJoin:
		return n.offer(f.Sender)
	case HeaderOffer:
		var desc webrtc.SessionDescription
		if err := json.Unmarshal(f.Payload, &desc); err != nil {
			return fmt.Errorf("decode offer: %w", err)
		}
		return n.answer(f.Sender, desc)
	case HeaderAnswer:
		var desc webrtc.SessionDescription
		if err := json.Unmarshal(f.Payload, &desc); err != nil {
			return fmt.Errorf("decode answer: %w", err)
		}
		p := n.lookup(f.Sender)
		if p == nil {
			return fmt.Errorf("answer from unknown peer %d", f.Sender)
		}
		return p.setRemote(desc)
	case HeaderCandidate:
		var cand webrtc.ICECandidateInit
		if err := json.Unmarshal(f.Payload, &cand); err != nil {
			return fmt.Errorf("decode candidate: %w", err)
		}
		p, err := n.getOrCreate(f.Sender)
		if err != nil {
			return err
		}
		return p.addCandidate(cand)
	default:
		return fmt.Errorf("unknown header 0x%02x", f.Header)
	}
}

func (n *Negotiator) offer(id uint64) error {
	p, err := n.getOrCreate(id)
	if err != nil {
		return err
	}
	dc, err := p.pc.CreateDataChannel(n.cfg.Label, nil)
	if err != nil {
		return fmt.Errorf("create datachannel: %w", err)
	}
	n.watchOpen(p, dc)

	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local offer: %w", err)
	}
	return n.sendJSON(id, HeaderOffer, offer)
}

func (n *Negotiator) answer(id uint64, offer webrtc.SessionDescription) error {
	p, err := n.getOrCreate(id)
	if err != nil {
		return err
	}
	if err := p.setRemote(offer); err != nil {
		return err
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local answer: %w", err)
	}
	return n.sendJSON(id, HeaderAnswer, answer)
}

func (n *Negotiator) sendJSON(target uint64, header byte, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return n.client.Send(target, header, payload)
}

func (n *Negotiator) lookup(id uint64) *remotePeer {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.peers[id]
}

func (n *Negotiator) getOrCreate(id uint64) (*remotePeer, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil, errors.New("peer: negotiator closed")
	}
	if p, ok := n.peers[id]; ok {
		return p, nil
	}

	pc, err := n.api.NewPeerConnection(webrtc.Configuration{ICEServers: n.cfg.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	p := &remotePeer{id: id, pc: pc}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		if err := n.sendJSON(id, HeaderCandidate, c.ToJSON()); err != nil {
			n.log.Debug("candidate_send_failed", "to", id, "err", err)
		}
	})
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != n.cfg.Label {
			return
		}
		n.watchOpen(p, dc)
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		n.log.Debug("peer_connection_state", "remote_id", id, "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			n.forget(p)
		}
	})

	n.peers[id] = p
	return p, nil
}

func (n *Negotiator) forget(p *remotePeer) {
	n.mu.Lock()
	if n.peers[p.id] == p {
		delete(n.peers, p.id)
	}
	n.mu.Unlock()
	_ = p.pc.Close()
}

func (n *Negotiator) watchOpen(p *remotePeer, dc *webrtc.DataChannel) {
	dc.OnOpen(func() {
		p.opened.Do(func() {
			n.log.Info("datachannel_open", "remote_id", p.id, "label", dc.Label())
			if n.cfg.OnOpen != nil {
				n.cfg.OnOpen(p.id, dc)
			}
		})
	})
}

// setRemote applies desc and flushes candidates that arrived before it.
func (p *remotePeer) setRemote(desc webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote %s: %w", desc.Type, err)
	}
	p.remoteSet = true
	pending := p.pending
	p.pending = nil
	for _, c := range pending {
		if err := p.pc.AddICECandidate(c); err != nil {
			return fmt.Errorf("add buffered candidate: %w", err)
		}
	}
	return nil
}

func (p *remotePeer) addCandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.remoteSet {
		p.pending = append(p.pending, c)
		return nil
	}
	return p.pc.AddICECandidate(c)
}
