package sfu

import (
	"context"
	"maps"
	"sync"

	"github.com/dkeye/Rooms/internal/domain"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"
)

// PacketReader pulls the next RTP packet from a published stream.
type PacketReader func() (*rtp.Packet, error)

type Relay struct {
	read PacketReader

	mu        sync.RWMutex
	outTracks map[domain.ParticipantID]*OutTrack

	cancel context.CancelFunc
	onFail func()
}

func NewRelay(read PacketReader, cancel context.CancelFunc, onFail func()) *Relay {
	return &Relay{
		read:      read,
		outTracks: make(map[domain.ParticipantID]*OutTrack),
		cancel:    cancel,
		onFail:    onFail,
	}
}

// loop reads RTP packets from the source and forwards them to all OutTracks.
// A read error after start reports the stream as failed; cancellation does not.
func (r *Relay) loop(ctx context.Context, logger *zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("relay ctx done, marking all out tracks for delete")
			r.markAllDelete()
			return
		default:
		}
		pkt, err := r.read()
		if err != nil {
			r.markAllDelete()
			if ctx.Err() != nil {
				logger.Info().Msg("relay stopped")
				return
			}
			logger.Error().Err(err).Msg("relay read RTP error, stopping")
			if r.onFail != nil {
				r.onFail()
			}
			return
		}
		r.forward(pkt, logger)
	}
}

func (r *Relay) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	r.mu.RLock()
	snapshot := make(map[domain.ParticipantID]*OutTrack, len(r.outTracks))
	maps.Copy(snapshot, r.outTracks)
	r.mu.RUnlock()

	dirty := make([]domain.ParticipantID, 0, len(snapshot))
	for dst, ot := range snapshot {
		switch ot.GetState() {
		case TrackStateDelete:
			dirty = append(dirty, dst)
		case TrackStateMuted:
		case TrackStateOk:
			if err := ot.Track.WriteRTP(pkt); err != nil {
				logger.Error().
					Err(err).
					Str("dst", string(dst)).
					Msg("relay write RTP error, marking outtrack as delete")
				ot.MarkDelete()
				dirty = append(dirty, dst)
			}
		}
	}

	// Cleanup is done outside the RLock.
	if len(dirty) > 0 {
		r.cleanupDeleted(dirty)
	}
}

func (r *Relay) cleanupDeleted(dirty []domain.ParticipantID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, dst := range dirty {
		if ot, ok := r.outTracks[dst]; ok && ot.GetState() == TrackStateDelete {
			delete(r.outTracks, dst)
		}
	}
}

func (r *Relay) markAllDelete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ot := range r.outTracks {
		ot.MarkDelete()
	}
}

func (r *Relay) AddOutTrack(dst domain.ParticipantID, ot *OutTrack) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.outTracks[dst]; ok {
		old.MarkDelete()
	}
	r.outTracks[dst] = ot
}

func (r *Relay) outTrack(dst domain.ParticipantID) (*OutTrack, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ot, ok := r.outTracks[dst]
	return ot, ok
}

// Live counts out tracks not yet marked for delete.
func (r *Relay) Live() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, ot := range r.outTracks {
		if ot.GetState() != TrackStateDelete {
			n++
		}
	}
	return n
}
