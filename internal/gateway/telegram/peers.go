package telegram

import (
	"fmt"
	"sync"

	"github.com/gotd/td/tg"
)

// PeerCache stores Telegram input peers discovered from inbound updates.
//
// Outbound dispatch needs the channel access hash to address a community,
// and Telegram only hands those out attached to inbound update entities.
type PeerCache struct {
	mu          sync.RWMutex
	byCommunity map[int64]tg.InputPeerClass
	byUser      map[int64]tg.InputPeerClass
}

// NewPeerCache creates an empty, concurrency-safe Telegram peer cache.
func NewPeerCache() *PeerCache {
	return &PeerCache{
		byCommunity: make(map[int64]tg.InputPeerClass),
		byUser:      make(map[int64]tg.InputPeerClass),
	}
}

// RememberEntities ingests user and channel entities from one update batch.
func (c *PeerCache) RememberEntities(entities tg.Entities) {
	if c == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for id, user := range entities.Users {
		if user == nil {
			continue
		}
		peer := user.AsInputPeer()
		if peer == nil {
			continue
		}
		c.byUser[id] = cloneInputPeer(peer)
	}
	for id, channel := range entities.Channels {
		if channel == nil {
			continue
		}
		peer := channel.AsInputPeer()
		if peer == nil {
			continue
		}
		c.byCommunity[id] = cloneInputPeer(peer)
	}
}

// RememberCommunity stores one explicit community-to-peer mapping.
func (c *PeerCache) RememberCommunity(communityID int64, peer tg.InputPeerClass) {
	if c == nil || peer == nil || communityID == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.byCommunity[communityID] = cloneInputPeer(peer)
}

// Resolve returns an input peer for an outbound community target.
func (c *PeerCache) Resolve(communityID int64) (tg.InputPeerClass, error) {
	if c == nil {
		return nil, fmt.Errorf("resolve peer: nil cache")
	}
	if communityID == 0 {
		return nil, fmt.Errorf("resolve peer: missing community id")
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	peer, ok := c.byCommunity[communityID]
	if !ok {
		return nil, fmt.Errorf("resolve peer: community %d not found", communityID)
	}

	return cloneInputPeer(peer), nil
}

func cloneInputPeer(peer tg.InputPeerClass) tg.InputPeerClass {
	switch typed := peer.(type) {
	case *tg.InputPeerUser:
		copyPeer := *typed
		return &copyPeer
	case *tg.InputPeerChat:
		copyPeer := *typed
		return &copyPeer
	case *tg.InputPeerChannel:
		copyPeer := *typed
		return &copyPeer
	case *tg.InputPeerSelf:
		copyPeer := *typed
		return &copyPeer
	default:
		return peer
	}
}
