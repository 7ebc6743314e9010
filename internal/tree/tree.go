package tree

import (
	"context"
	"fmt"
	"sync"

	"compengine/internal/models"
	"compengine/internal/repository"
)

// PlacementSource resolves the binary placement tree and the sponsor
// (enroller) genealogy. Tree construction itself is owned elsewhere; the
// engine only reads established links.
type PlacementSource interface {
	// Parent returns the placement parent and which side userID hangs on.
	// ok=false means userID is a root.
	Parent(ctx context.Context, userID uint64) (parentID uint64, side string, ok bool, err error)
	// Sponsor returns the direct sponsor. ok=false means none.
	Sponsor(ctx context.Context, userID uint64) (sponsorID uint64, ok bool, err error)
}

// Hop is one ancestor on the placement chain: the side is the leg the PV
// arrives on from the walker's perspective, depth is 1 for the immediate
// parent.
type Hop struct {
	AncestorID uint64
	Side       string
	Depth      int
}

// Service resolves and caches placement chains. Chains are immutable once
// placement is established, so the cache only needs explicit invalidation
// when an operator moves a subtree.
type Service struct {
	Source   PlacementSource
	MaxDepth int

	mu     sync.Mutex
	chains map[uint64][]Hop
}

const defaultMaxDepth = 10000

func (s *Service) maxDepth() int {
	if s.MaxDepth > 0 {
		return s.MaxDepth
	}
	return defaultMaxDepth
}

// Chain walks from userID to the root, returning one hop per ancestor.
// The walk carries a visited set and a depth bound so a corrupted parent
// link can never loop forever.
func (s *Service) Chain(ctx context.Context, userID uint64) ([]Hop, error) {
	s.mu.Lock()
	if cached, ok := s.chains[userID]; ok {
		s.mu.Unlock()
		return cached, nil
	}
	s.mu.Unlock()

	visited := map[uint64]struct{}{userID: {}}
	var hops []Hop
	current := userID
	for depth := 1; depth <= s.maxDepth(); depth++ {
		parentID, side, ok, err := s.Source.Parent(ctx, current)
		if err != nil {
			return nil, err
		}
		if !ok {
			s.mu.Lock()
			if s.chains == nil {
				s.chains = make(map[uint64][]Hop)
			}
			s.chains[userID] = hops
			s.mu.Unlock()
			return hops, nil
		}
		if _, seen := visited[parentID]; seen {
			return nil, fmt.Errorf("placement cycle detected at user %d", parentID)
		}
		visited[parentID] = struct{}{}
		hops = append(hops, Hop{AncestorID: parentID, Side: side, Depth: depth})
		current = parentID
	}
	return nil, fmt.Errorf("placement chain for user %d exceeds depth bound %d", userID, s.maxDepth())
}

// SponsorChain walks the sponsor genealogy up to maxGen ancestors
// (generation 1 = direct sponsor). Not cached: it is only touched by
// settlement runs.
func (s *Service) SponsorChain(ctx context.Context, userID uint64, maxGen int) ([]uint64, error) {
	if maxGen <= 0 {
		return nil, nil
	}
	visited := map[uint64]struct{}{userID: {}}
	var out []uint64
	current := userID
	for gen := 1; gen <= maxGen; gen++ {
		sponsorID, ok, err := s.Source.Sponsor(ctx, current)
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		if _, seen := visited[sponsorID]; seen {
			return nil, fmt.Errorf("sponsor cycle detected at user %d", sponsorID)
		}
		visited[sponsorID] = struct{}{}
		out = append(out, sponsorID)
		current = sponsorID
	}
	return out, nil
}

// Invalidate drops the cached chain for one user after a placement change.
func (s *Service) Invalidate(userID uint64) {
	s.mu.Lock()
	delete(s.chains, userID)
	s.mu.Unlock()
}

// InvalidateAll drops every cached chain (subtree moves invalidate every
// descendant, which the engine cannot enumerate cheaply).
func (s *Service) InvalidateAll() {
	s.mu.Lock()
	s.chains = nil
	s.mu.Unlock()
}

// RepoSource reads placement and sponsor links from the member projection.
type RepoSource struct {
	Repo repository.Repository
}

func (r *RepoSource) Parent(ctx context.Context, userID uint64) (uint64, string, bool, error) {
	m, err := r.Repo.GetMember(ctx, userID)
	if err != nil {
		return 0, "", false, err
	}
	if m == nil || m.PlacementParentID == nil {
		return 0, "", false, nil
	}
	side := m.PlacementSide
	if side != models.SideLeft && side != models.SideRight {
		return 0, "", false, fmt.Errorf("member %d has parent but invalid side %q", userID, side)
	}
	return *m.PlacementParentID, side, true, nil
}

func (r *RepoSource) Sponsor(ctx context.Context, userID uint64) (uint64, bool, error) {
	m, err := r.Repo.GetMember(ctx, userID)
	if err != nil {
		return 0, false, err
	}
	if m == nil || m.SponsorID == nil {
		return 0, false, nil
	}
	return *m.SponsorID, true, nil
}
