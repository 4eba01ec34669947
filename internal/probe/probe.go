// Package probe discovers the members-only "marker" video used to test
// whether a viewer holds paid-membership access to a creator's channel.
package probe

import (
	"context"

	"go.uber.org/zap"

	"github.com/streamwatch/crawler/internal/metrics"
	"github.com/streamwatch/crawler/internal/watch"
)

// Outcome classifies one probe pass for a channel. Verified, NoContent and
// Inconclusive are absorbing; Exhausted retries on the next maintenance pass.
type Outcome string

// Probe pass outcomes.
const (
	OutcomeVerified     Outcome = "verified"
	OutcomeNoContent    Outcome = "no_content"
	OutcomeInconclusive Outcome = "inconclusive"
	OutcomeExhausted    Outcome = "exhausted"
)

// Prober runs the bounded randomized marker search. The RNG is injected so
// tests can drive the sampling sequence deterministically.
type Prober struct {
	api    watch.MembersContentAPI
	store  watch.ProbeStore
	rng    watch.Rand
	clock  watch.Clock
	logger *zap.Logger

	// NotifyNoContent informs the owning collaborator that a channel cannot
	// be probed until the creator publishes member-only content. Optional.
	NotifyNoContent func(ctx context.Context, channelID string)
}

// New constructs a Prober.
func New(api watch.MembersContentAPI, store watch.ProbeStore, rng watch.Rand, clock watch.Clock, logger *zap.Logger) *Prober {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prober{api: api, store: store, rng: rng, clock: clock, logger: logger}
}

// RunPass probes every channel still lacking a verified marker. Called from
// the maintenance loop; individual channel failures never abort the pass.
func (p *Prober) RunPass(ctx context.Context) {
	channels, err := p.store.ProbeChannels(ctx)
	if err != nil {
		p.logger.Error("list probe channels failed", zap.Error(err))
		return
	}
	for _, st := range channels {
		if ctx.Err() != nil {
			return
		}
		outcome := p.ProbeChannel(ctx, st)
		metrics.ObserveProbeOutcome(string(outcome))
		p.logger.Info("membership probe pass finished",
			zap.String("channel_id", st.ChannelID),
			zap.String("outcome", string(outcome)),
		)
	}
}

// ProbeChannel runs one pass of the marker search for a single channel:
// sample candidates from the members-only playlist without replacement until
// one answers the comment-thread read with an authorization denial. That 403
// is the success signal here, not a failure.
func (p *Prober) ProbeChannel(ctx context.Context, st watch.MembershipProbeState) Outcome {
	defer p.refreshTitle(ctx, st)

	candidates, err := p.api.MembersOnlyVideos(ctx, st.ChannelID)
	if err != nil {
		if watch.IsPlaylistMissing(err) {
			return p.dropNoContent(ctx, st.ChannelID)
		}
		p.logger.Warn("members-only playlist fetch failed",
			zap.String("channel_id", st.ChannelID), zap.Error(err))
		return OutcomeInconclusive
	}

	for len(candidates) > 0 {
		idx := p.rng.Intn(len(candidates))
		candidate := candidates[idx]
		candidates = append(candidates[:idx], candidates[idx+1:]...)

		err := p.api.ProbeCommentThread(ctx, candidate)
		switch {
		case watch.IsAuthDenied(err):
			st.CandidateVideoID = candidate
			st.VerifiedMarkerVideoID = candidate
			st.LastCheckedAt = p.clock.Now()
			if saveErr := p.store.SaveProbeState(ctx, st); saveErr != nil {
				p.logger.Error("save verified marker failed",
					zap.String("channel_id", st.ChannelID), zap.Error(saveErr))
				return OutcomeInconclusive
			}
			return OutcomeVerified
		case watch.IsCommentsDisabled(err):
			continue
		case err == nil:
			// Readable without membership: the video is not actually gated
			// and cannot serve as a marker.
			continue
		default:
			return p.clearStaleMarker(ctx, st, err)
		}
	}

	// No usable video this pass; the maintenance loop retries later.
	st.CandidateVideoID = ""
	st.LastCheckedAt = p.clock.Now()
	if err := p.store.SaveProbeState(ctx, st); err != nil {
		p.logger.Error("save probe state failed",
			zap.String("channel_id", st.ChannelID), zap.Error(err))
	}
	return OutcomeExhausted
}

func (p *Prober) dropNoContent(ctx context.Context, channelID string) Outcome {
	if err := p.store.DropProbeChannel(ctx, channelID); err != nil {
		p.logger.Error("drop probe channel failed",
			zap.String("channel_id", channelID), zap.Error(err))
		return OutcomeInconclusive
	}
	if p.NotifyNoContent != nil {
		p.NotifyNoContent(ctx, channelID)
	}
	return OutcomeNoContent
}

func (p *Prober) clearStaleMarker(ctx context.Context, st watch.MembershipProbeState, cause error) Outcome {
	p.logger.Warn("marker probe inconclusive, clearing stale marker",
		zap.String("channel_id", st.ChannelID), zap.Error(cause))
	st.CandidateVideoID = ""
	st.VerifiedMarkerVideoID = ""
	st.LastCheckedAt = p.clock.Now()
	if err := p.store.SaveProbeState(ctx, st); err != nil {
		p.logger.Error("clear probe state failed",
			zap.String("channel_id", st.ChannelID), zap.Error(err))
	}
	return OutcomeInconclusive
}

// refreshTitle updates the stored display title when the platform reports a
// different one, independent of the probe outcome.
func (p *Prober) refreshTitle(ctx context.Context, st watch.MembershipProbeState) {
	title, err := p.api.ChannelTitle(ctx, st.ChannelID)
	if err != nil || title == "" || title == st.DisplayTitle {
		return
	}
	if err := p.store.UpdateChannelTitle(ctx, st.ChannelID, title); err != nil {
		p.logger.Warn("channel title refresh failed",
			zap.String("channel_id", st.ChannelID), zap.Error(err))
	}
}
