package signal

import (
	"context"
	"encoding/json"

	"github.com/dkeye/Rooms/internal/adapters/rtc"
	"github.com/dkeye/Rooms/internal/core"
	"github.com/dkeye/Rooms/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) sendCandidate(c core.SignalConnection, ci webrtc.ICECandidateInit) {
	resp := struct {
		Type          string `json:"type"`
		Candidate     string `json:"candidate"`
		SDPMid        string `json:"sdpMid,omitempty"`
		SDPMLineIndex uint16 `json:"sdpMLineIndex,omitempty"`
	}{
		Type:      "candidate",
		Candidate: ci.Candidate,
	}
	if ci.SDPMid != nil {
		resp.SDPMid = *ci.SDPMid
	}
	if ci.SDPMLineIndex != nil {
		resp.SDPMLineIndex = *ci.SDPMLineIndex
	}
	ctl.sendJSON(c, resp)
}

type sdpPayload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// handleOffer answers a client offer. The first offer creates the peer
// connection; later ones renegotiate it.
func (ctl *SignalWSController) handleOffer(
	ctx context.Context,
	sid core.SessionID,
	conn *WsSignalConn,
	data []byte,
) {
	if ctl.Engine == nil {
		ctl.sendError(conn, "offer", errNoMedia)
		return
	}
	var p sdpPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad offer payload")
		ctl.sendError(conn, "offer", errBadPayload)
		return
	}
	sess, ok := ctl.Registry.GetSession(sid)
	if !ok {
		return
	}
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: p.SDP}

	if mc := sess.Media(); mc != nil && !mc.IsClosed() {
		answer, err := mc.ApplyOfferAndCreateAnswer(offer)
		if err != nil {
			log.Error().Err(err).Str("module", "signal").Msg("webrtc renegotiate")
			ctl.sendError(conn, "offer", err)
			return
		}
		ctl.sendJSON(conn, map[string]string{"type": "answer", "sdp": answer.SDP})
		return
	}

	wc, err := rtc.NewWebRTCConnection(ctl.opts.ICE, sid)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("webrtc new pc")
		ctl.sendError(conn, "offer", err)
		return
	}
	wc.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		ctl.sendCandidate(conn, ci)
	})
	wc.OnTrack(func(_ context.Context, track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		room, pid, ok := ctl.Registry.RoomOf(sid)
		if !ok {
			log.Warn().Str("module", "signal").Str("sid", string(sid)).Msg("track without room")
			return
		}
		ctl.Engine.HandleTrack(room, pid, track)
	})
	wc.OnClosed(func() {
		if room, pid, ok := ctl.Registry.RoomOf(sid); ok {
			ctl.Engine.UnregisterPeer(room, pid)
		}
	})

	if err = wc.Start(ctx); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("webrtc start")
		wc.Close()
		return
	}

	sess.UpdateMedia(wc)
	if room, pid, ok := ctl.Registry.RoomOf(sid); ok {
		ctl.Engine.RegisterPeer(room, pid, wc)
	}

	answer, err := wc.ApplyOfferAndCreateAnswer(offer)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("webrtc apply offer")
		ctl.sendError(conn, "offer", err)
		wc.Close()
		return
	}

	ctl.sendJSON(conn, map[string]string{
		"type": "answer",
		"sdp":  answer.SDP,
	})
}

func (ctl *SignalWSController) handleAnswer(
	sid core.SessionID,
	conn *WsSignalConn,
	data []byte,
) {
	var p sdpPayload
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(conn, "answer", errBadPayload)
		return
	}
	sess, ok := ctl.Registry.GetSession(sid)
	if !ok || sess.Media() == nil {
		ctl.sendError(conn, "answer", errNoMedia)
		return
	}
	if err := sess.Media().ApplyAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: p.SDP}); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("webrtc apply answer")
		ctl.sendError(conn, "answer", err)
	}
}

// renegotiate sends a server offer after subscriptions added local tracks.
func (ctl *SignalWSController) renegotiate(room domain.RoomID, pid domain.ParticipantID) {
	sess, ok := ctl.Registry.SessionOf(room, pid)
	if !ok || sess.Media() == nil || sess.Signal() == nil {
		return
	}
	offer, err := sess.Media().CreateAndSetOffer()
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("participant", string(pid)).Msg("webrtc create offer")
		return
	}
	ctl.sendJSON(sess.Signal(), map[string]string{"type": "offer", "sdp": offer.SDP})
}

func (ctl *SignalWSController) handleCandidate(
	sid core.SessionID,
	_ *WsSignalConn,
	data []byte,
) {
	type candidatePayload struct {
		Type          string `json:"type"`
		Candidate     string `json:"candidate"`
		SDPMid        string `json:"sdpMid"`
		SDPMLineIndex uint16 `json:"sdpMLineIndex"`
	}
	var p candidatePayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad candidate payload")
		return
	}

	cand := webrtc.ICECandidateInit{
		Candidate: p.Candidate,
	}
	if p.SDPMid != "" {
		cand.SDPMid = &p.SDPMid
	}
	cand.SDPMLineIndex = &p.SDPMLineIndex

	sess, ok := ctl.Registry.GetSession(sid)
	if !ok {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Msg("candidate: no session for")
		return
	}
	mc := sess.Media()
	if mc == nil {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Msg("candidate: no media connection for")
		return
	}
	if err := mc.AddICECandidate(cand); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("add ice candidate")
	}
}
