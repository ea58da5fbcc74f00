package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hoprnet/hopr-core/chain/memstore"
	"github.com/hoprnet/hopr-core/chainevents"
	"github.com/hoprnet/hopr-core/crypto"
	"github.com/hoprnet/hopr-core/hoprnode"
	"github.com/hoprnet/hopr-core/ticket"
)

// demoIdentitySource is a static, empty identity directory: with no peers
// announced there is nothing for keyresolver.Resolver to resolve, which is
// fine for a node that is only demonstrating its own bootstrap, not an
// actual mixnet with peers.
type demoIdentitySource struct{}

func (demoIdentitySource) PacketKeyOf(context.Context, crypto.Address) (crypto.PacketKeyPub, bool, error) {
	return crypto.PacketKeyPub{}, false, nil
}

func (demoIdentitySource) ChainKeyOf(context.Context, crypto.PacketKeyPub) (crypto.Address, bool, error) {
	return crypto.Address{}, false, nil
}

// demoRawSource never emits: there is no real indexer behind this demo, so
// chainevents.Dispatcher's drain loop simply idles until the node stops.
type demoRawSource struct {
	events chan chainevents.RawEvent
}

func newDemoRawSource() *demoRawSource {
	return &demoRawSource{events: make(chan chainevents.RawEvent)}
}

func (s *demoRawSource) Events(context.Context) (<-chan chainevents.RawEvent, error) {
	return s.events, nil
}

// demoTransport logs what would have been sent to the network rather than
// actually dialing a peer; the P2P transport is out of scope for this core.
type demoTransport struct{}

func (demoTransport) Send(_ context.Context, firstHop crypto.PacketKeyPub, wire []byte) error {
	fmt.Printf("hoprd: would send %d bytes to %x\n", len(wire), firstHop)
	return nil
}

func newDemoDeps() (hoprnode.Deps, error) {
	packetKey, err := crypto.GeneratePacketKey()
	if err != nil {
		return hoprnode.Deps{}, fmt.Errorf("generate packet key: %w", err)
	}

	chainKey, err := crypto.GenerateChainKey()
	if err != nil {
		return hoprnode.Deps{}, fmt.Errorf("generate chain key: %w", err)
	}

	var vrfSecret [32]byte
	copy(vrfSecret[:], chainKey.Address()[:])

	ledger := memstore.NewLedger(ticket.WinProb(0), ticket.AmountFromUint64(0))

	return hoprnode.Deps{
		PacketKey:  packetKey,
		ChainKey:   chainKey,
		VRFSecret:  vrfSecret,
		Chain:      ledger,
		Identity:   demoIdentitySource{},
		RawChain:   newDemoRawSource(),
		Tickets:    memstore.NewStore(),
		Redeemer:   ledger,
		Transport:  demoTransport{},
		Registerer: prometheus.NewRegistry(),
	}, nil
}
