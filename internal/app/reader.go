package app

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/dkeye/tsstatus/internal/core"
	"github.com/dkeye/tsstatus/internal/domain"
)

// FilterPolicy decides which channels are meaningful enough to show.
type FilterPolicy struct {
	// IgnorePatterns drop any channel whose name contains one of them.
	IgnorePatterns []string
	// ExcludeDefault drops the server's default (lobby) channel.
	ExcludeDefault bool
}

// DefaultIgnorePatterns cover spacer channels and the query group.
var DefaultIgnorePatterns = []string{"spacer", "Server Query"}

func (p FilterPolicy) excluded(ch domain.Channel) bool {
	if p.ExcludeDefault && ch.IsDefault {
		return true
	}
	for _, pat := range p.IgnorePatterns {
		if pat != "" && strings.Contains(ch.Name, pat) {
			return true
		}
	}
	return false
}

// fetchOccupancy lists channels and clients concurrently.
func fetchOccupancy(ctx context.Context, sess core.VoiceSession) ([]domain.Channel, []domain.Client, error) {
	if sess == nil {
		return nil, nil, domain.ErrSourceUnavailable
	}
	var (
		channels []domain.Channel
		clients  []domain.Client
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		channels, err = sess.ChannelList(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		clients, err = sess.ClientList(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", domain.ErrSourceUnavailable, err)
	}
	return channels, clients, nil
}

// ReadSnapshot queries the session and builds a filtered snapshot.
// A nil session or a failed query yields domain.ErrSourceUnavailable.
func ReadSnapshot(ctx context.Context, sess core.VoiceSession, policy FilterPolicy) (domain.OccupancySnapshot, error) {
	channels, clients, err := fetchOccupancy(ctx, sess)
	if err != nil {
		return domain.OccupancySnapshot{}, err
	}
	return BuildSnapshot(channels, clients, policy), nil
}

// BuildSnapshot assigns clients to their channels. Occupied groups are
// ordered by channel id; empty channel names keep listing order.
func BuildSnapshot(channels []domain.Channel, clients []domain.Client, policy FilterPolicy) domain.OccupancySnapshot {
	byChannel := make(map[domain.ChannelID][]string, len(channels))
	for _, cl := range clients {
		byChannel[cl.ChannelID] = append(byChannel[cl.ChannelID], cl.Nickname)
	}

	snap := domain.OccupancySnapshot{
		Groups:          []domain.Group{},
		EmptyGroupNames: []string{},
	}
	for _, ch := range channels {
		if policy.excluded(ch) {
			continue
		}
		members := byChannel[ch.ID]
		if len(members) == 0 {
			snap.EmptyGroupNames = append(snap.EmptyGroupNames, ch.Name)
			continue
		}
		snap.Groups = append(snap.Groups, domain.Group{ID: ch.ID, Name: ch.Name, Members: members})
	}
	sort.SliceStable(snap.Groups, func(i, j int) bool { return snap.Groups[i].ID < snap.Groups[j].ID })
	return snap
}

// CountOccupants counts connected users, optionally leaving out whoever
// sits in the default channel. Only the default channel is excluded here;
// the snapshot's name patterns are a display concern.
func CountOccupants(channels []domain.Channel, clients []domain.Client, excludeDefault bool) int {
	if !excludeDefault {
		return len(clients)
	}
	var defaultID domain.ChannelID
	found := false
	for _, ch := range channels {
		if ch.IsDefault {
			defaultID, found = ch.ID, true
			break
		}
	}
	if !found {
		return len(clients)
	}
	n := 0
	for _, cl := range clients {
		if cl.ChannelID != defaultID {
			n++
		}
	}
	return n
}
