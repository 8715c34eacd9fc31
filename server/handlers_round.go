package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Ashenafi-pixel/gamecrafter-round-engine/clock"
	"github.com/Ashenafi-pixel/gamecrafter-round-engine/games"
	"github.com/Ashenafi-pixel/gamecrafter-round-engine/ledger"
	"github.com/Ashenafi-pixel/gamecrafter-round-engine/round"
	"github.com/Ashenafi-pixel/gamecrafter-round-engine/viewer"
)

const (
	defaultResults = 10
	maxResults     = 100
	maxWagerPage   = 200
)

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "rgs"})
}

func participant(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(ParticipantHeader)); id != "" {
		return id
	}
	// EventSource cannot set headers
	return strings.TrimSpace(r.URL.Query().Get("participant"))
}

func queryInt(r *http.Request, key string, def, max int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v <= 0 {
		return def
	}
	return min(v, max)
}

// game resolves the {game} path parameter, writing a 404 when unknown.
func (s *Server) game(w http.ResponseWriter, r *http.Request) (games.Variant, bool) {
	v, err := s.games.Lookup(chi.URLParam(r, "game"))
	if err != nil {
		s.writeErr(w, r, err, time.Time{})
		return nil, false
	}
	return v, true
}

func (s *Server) getBalance(w http.ResponseWriter, r *http.Request) {
	id := participant(r)
	if id == "" {
		writeError(w, http.StatusUnauthorized, "participant required", "unauthorized")
		return
	}
	if s.balances == nil {
		writeError(w, http.StatusNotImplemented, "wallet does not report balances", "unsupported")
		return
	}
	bal, err := s.balances.Balance(r.Context(), id)
	if err != nil {
		s.writeErr(w, r, err, time.Time{})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"participantId": id, "balance": bal})
}

type gameInfo struct {
	ID      string             `json:"id"`
	Name    string             `json:"name"`
	Keys    []string           `json:"keys"`
	Payouts map[string]float64 `json:"payouts,omitempty"`
}

func (s *Server) listGames(w http.ResponseWriter, r *http.Request) {
	list := []gameInfo{}
	for _, v := range s.games.List() {
		g := gameInfo{ID: v.ID(), Name: v.Name(), Keys: v.Keys()}
		if t, ok := v.(interface{ Payouts() map[string]float64 }); ok {
			g.Payouts = t.Payouts()
		}
		list = append(list, g)
	}
	writeJSON(w, http.StatusOK, map[string]any{"games": list})
}

type clockResponse struct {
	clock.Info
	GameID      string `json:"gameId"`
	SecondsLeft int    `json:"secondsLeft"`
}

func (s *Server) getClock(w http.ResponseWriter, r *http.Request) {
	v, ok := s.game(w, r)
	if !ok {
		return
	}
	info := s.clock.At(s.now())
	writeJSON(w, http.StatusOK, clockResponse{Info: info, GameID: v.ID(), SecondsLeft: info.SecondsLeft()})
}

// listResults returns the most recent revealed rounds, newest first. Rounds no
// one has materialized yet are reported as pending rather than created.
func (s *Server) listResults(w http.ResponseWriter, r *http.Request) {
	v, ok := s.game(w, r)
	if !ok {
		return
	}
	n := queryInt(r, "n", defaultResults, maxResults)
	info := s.clock.At(s.now())
	ids, err := s.clock.Previous(info.RevealRoundID, n)
	if err != nil {
		s.writeErr(w, r, err, time.Time{})
		return
	}
	rows, err := s.oracle.Recent(r.Context(), v.ID(), ids)
	if err != nil {
		s.writeErr(w, r, err, time.Time{})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"gameId": v.ID(), "results": rows})
}

func (s *Server) getResult(w http.ResponseWriter, r *http.Request) {
	v, ok := s.game(w, r)
	if !ok {
		return
	}
	roundID := chi.URLParam(r, "round")
	revealed, err := s.clock.Revealed(roundID, s.now())
	if err != nil {
		s.writeErr(w, r, err, time.Time{})
		return
	}
	if !revealed {
		s.writeErr(w, r, fmt.Errorf("%s not revealed yet: %w", roundID, round.ErrWrongPhase), time.Time{})
		return
	}
	res, err := s.oracle.Get(r.Context(), v.ID(), roundID, true)
	if err != nil {
		s.writeErr(w, r, err, time.Time{})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) listWagers(w http.ResponseWriter, r *http.Request) {
	v, ok := s.game(w, r)
	if !ok {
		return
	}
	roundID := chi.URLParam(r, "round")
	if _, _, err := clock.ParseRoundID(roundID); err != nil {
		s.writeErr(w, r, err, time.Time{})
		return
	}
	ws, err := s.ledger.Wagers(r.Context(), v.ID(), roundID, queryInt(r, "limit", s.cfg.Viewer.PageSize, maxWagerPage))
	if err != nil {
		s.writeErr(w, r, err, time.Time{})
		return
	}
	if ws == nil {
		ws = []*round.Wager{}
	}
	snap := viewer.Snapshot{GameID: v.ID(), RoundID: roundID, Wagers: ws, At: s.now()}
	writeJSON(w, http.StatusOK, map[string]any{
		"gameId":  v.ID(),
		"roundId": roundID,
		"wagers":  ws,
		"board":   viewer.Board(snap),
	})
}

type placeWagerRequest struct {
	RoundID          string           `json:"roundId"`
	Name             string           `json:"name"`
	Amounts          map[string]int64 `json:"amounts"`
	DiscountEligible bool             `json:"discountEligible"`
}

func (s *Server) placeWager(w http.ResponseWriter, r *http.Request) {
	v, ok := s.game(w, r)
	if !ok {
		return
	}
	id := participant(r)
	if id == "" {
		writeError(w, http.StatusUnauthorized, "participant required", "unauthorized")
		return
	}
	var req placeWagerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body", "invalid")
		return
	}
	rec, err := s.ledger.Place(r.Context(), ledger.PlaceRequest{
		GameID:           v.ID(),
		ParticipantID:    id,
		Name:             req.Name,
		RoundID:          req.RoundID,
		Amounts:          req.Amounts,
		DiscountEligible: req.DiscountEligible,
	})
	if err != nil {
		s.writeErr(w, r, err, time.Time{})
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) settle(w http.ResponseWriter, r *http.Request) {
	v, ok := s.game(w, r)
	if !ok {
		return
	}
	id := participant(r)
	if id == "" {
		writeError(w, http.StatusUnauthorized, "participant required", "unauthorized")
		return
	}
	roundID := chi.URLParam(r, "round")

	lim := s.limiter(id)
	var wager *round.Wager
	err := lim.Do(r.Context(), func(ctx context.Context) error {
		var err error
		wager, err = s.engine.Settle(ctx, v.ID(), id, roundID)
		return err
	})
	if err != nil {
		s.writeErr(w, r, err, lim.BlockedUntil())
		return
	}
	if wager == nil {
		writeError(w, http.StatusNotFound, "no wager on this round", "not_found")
		return
	}
	writeJSON(w, http.StatusOK, wager)
}

// live streams the participant's session as server-sent events until the
// client disconnects. The session settles the participant's own wagers as rounds reveal.
func (s *Server) live(w http.ResponseWriter, r *http.Request) {
	v, ok := s.game(w, r)
	if !ok {
		return
	}
	id := participant(r)
	if id == "" {
		writeError(w, http.StatusUnauthorized, "participant required", "unauthorized")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported", "unexpected")
		return
	}

	sess, err := s.newSession(v.ID(), id, r.URL.Query().Get("name"))
	if err != nil {
		s.writeErr(w, r, err, time.Time{})
		return
	}
	if err := sess.Start(r.Context()); err != nil {
		s.writeErr(w, r, err, time.Time{})
		return
	}
	defer sess.Stop()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-sess.Events():
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.log.Warn("encode live event", "kind", ev.Kind, "err", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data); err != nil {
				if !errors.Is(err, context.Canceled) {
					s.log.Debug("live stream closed", "participant", id, "err", err)
				}
				return
			}
			flusher.Flush()
		}
	}
}
