// Package seed writes a reproducible demo community into a log backend.
package seed

import (
	"context"
	"fmt"

	"github.com/MarcoPoloResearchLab/hexnews/backend/internal/feed"
	"github.com/MarcoPoloResearchLab/hexnews/backend/internal/publisher"
	"github.com/MarcoPoloResearchLab/hexnews/backend/internal/snapshot"
	"github.com/MarcoPoloResearchLab/hexnews/backend/internal/storage"
)

// Member is a fixture identity with its display name.
type Member struct {
	Address string
	Nick    string
}

// Members lists the fixture identities. The first one is the root of the invite graph.
var Members = []Member{
	{Address: "0xd7fb8944204c56fe4887d1feba85cc45490a777b", Nick: "hexnews"},
	{Address: "0xc4b44921591102b71c61bbcc8baa86742ba845c6", Nick: "plurry"},
	{Address: "0xb55d12745e73da94258291dd0d5432b4a45fa230", Nick: "0xSNARK"},
	{Address: "0xaad894575a56f1c9614f0655396f6e168218fd99", Nick: "drivah.eth"},
	{Address: "0xf3ec07ea08074f2842b2580232a27c350378d2dc", Nick: "pinacolada"},
	{Address: "0x60b94dcd9d95560e12178a07ab09136ba81db06e", Nick: "ceracotta"},
	{Address: "0x51e2c6e515638edfde5d5c863b27f77d9142590b", Nick: "mousecatcher"},
	{Address: "0x2638df8cf78d3193dff2f350160bfc64a07aa0ad", Nick: "Nosys"},
	{Address: "0x4089c6d22cdf6f67967c2352f1976725ccedc0a3", Nick: "fidofan"},
	{Address: "0x98b21c5e8422a4a6b09471706c3f8ad5f216a5ba", Nick: "mevboost"},
	{Address: "0x4897ce45f196a852115d752da54bc54f38187965", Nick: "pintail"},
	{Address: "0xb337e4f337a18d3280e2dcef34f1c414a68cb7a0", Nick: "fverse"},
}

// RootAddress is the address of the first fixture member.
func RootAddress() string {
	return Members[0].Address
}

// script sequences fixture writes and keeps the first error.
type script struct {
	ctx          context.Context
	publisher    *publisher.Publisher
	synchronizer *snapshot.Synchronizer
	current      feed.Snapshot
	err          error
}

func identity(member int) feed.Identity {
	return feed.Identity{Address: Members[member].Address}
}

func (s *script) post(member int, title, link string) feed.Post {
	if s.err != nil {
		return feed.Post{}
	}
	post, err := s.publisher.Post(s.ctx, identity(member), title, link, 0)
	if err != nil {
		s.err = fmt.Errorf("seed: post by %s: %w", Members[member].Nick, err)
	}
	return post
}

func (s *script) comment(member int, text, parent string) feed.Post {
	if s.err != nil {
		return feed.Post{}
	}
	post, err := s.publisher.Comment(s.ctx, identity(member), text, parent, 0)
	if err != nil {
		s.err = fmt.Errorf("seed: comment by %s: %w", Members[member].Nick, err)
	}
	return post
}

func (s *script) invite(member, invitee int) {
	if s.err != nil {
		return
	}
	if err := s.publisher.Invite(s.ctx, identity(member), Members[invitee].Address, 0); err != nil {
		s.err = fmt.Errorf("seed: invite by %s: %w", Members[member].Nick, err)
	}
}

func (s *script) vote(member int, post feed.Post) {
	if s.err != nil {
		return
	}
	if err := s.publisher.Vote(s.ctx, identity(member), post.ID, 0); err != nil {
		s.err = fmt.Errorf("seed: vote by %s: %w", Members[member].Nick, err)
	}
}

func (s *script) sync() {
	if s.err != nil {
		return
	}
	next, err := s.synchronizer.Sync(s.ctx, s.current)
	if err != nil {
		s.err = fmt.Errorf("seed: sync: %w", err)
		return
	}
	s.current = next
}

// Generate writes the fixture community into backend, interleaving
// synchronization rounds with writes, and returns the final snapshot.
func Generate(ctx context.Context, backend storage.Backend, options snapshot.Options) (feed.Snapshot, error) {
	s := &script{
		ctx:          ctx,
		publisher:    publisher.New(backend, publisher.Config{FetchBatchSize: options.FetchBatchSize, Logger: options.Logger}),
		synchronizer: snapshot.NewSynchronizer(backend, options),
		current:      feed.NewRootSnapshot(RootAddress()),
	}

	launch := s.post(0, "Hex News launched! 🔥💥📣", "https://hexnews.bzz.link")
	boardwalk := s.post(0, "Swarm.City Boardwalk Implementation in Typescript", "https://github.com/swarmcity/boardwalk-ts/issues")
	s.invite(0, 1)
	s.vote(0, boardwalk)

	desktop := s.post(1, "New Swarm Desktop Release 0.16.0", "https://github.com/ethersphere/swarm-desktop/releases/tag/v0.16.0")
	s.invite(1, 2)

	s.post(2, "Ethereum Successfully Executes Highly-Anticipated Merge Event", "https://decrypt.co/109751/ethereum-successfully-executes-highly-anticipated-merge-event-ushering-proof-of-stake-era")
	s.post(2, "EIP-181: ENS support for reverse resolution of Ethereum addresses", "https://eips.ethereum.org/EIPS/eip-181")
	s.vote(2, desktop)

	s.sync()

	s.invite(2, 3)
	s.post(3, "EthLimo Summer Updates, Roadmap and More", "https://ethlimo.substack.com/p/summer-updates-roadmap-and-more")
	cool := s.comment(3, "Cool post", launch.ID)

	s.sync()

	s.vote(1, launch)
	s.vote(2, launch)

	s.invite(3, 4)
	s.post(4, "IPFS Camp 2022 Oct 28-30 in Lisbon, Portugal", "https://2022.ipfs.camp/")

	s.post(2, "Devcon Bogotá Schedule, Oct 11 → 14", "https://next--efdevcon.netlify.app/app/schedule/")

	s.invite(3, 5)
	s.post(5, "ComposeDB: Using Ceramic as a Graph Database", "https://blog.ceramic.network/composedb-using-ceramic-as-a-graph-database/")

	s.invite(5, 6)
	s.post(6, "An Honest Report on Web3 Data & Storage", "https://curiouscat178.substack.com/p/its-finally-here-an-honest-report")

	s.invite(6, 7)
	s.post(7, "The new Gnosis Chain Documentation site is L I V E  🎉", "https://docs.gnosischain.com/")

	s.sync()

	s.invite(5, 8)
	s.post(8, "A Virtual FIDO2 USB Device", "https://github.com/bulwarkid/virtual-fido")

	s.invite(2, 9)
	s.post(9, "Track MEV-Boost Relays and Block Builders", "https://www.mevboost.org")

	s.invite(9, 10)
	s.post(10, "Post-Merge MEV: Modelling Validator Returns", "https://pintail.xyz/posts/post-merge-mev/")

	s.invite(10, 11)
	s.post(11, "Fileverse: File sharing between blockchain addresses", "https://fileverse.io/")

	s.comment(0, "Thanks!", cool.ID)

	s.sync()
	s.sync()

	if s.err != nil {
		return feed.Snapshot{}, s.err
	}
	return s.current, nil
}
