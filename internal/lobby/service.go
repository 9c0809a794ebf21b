package lobby

import (
	"context"
	"expvar"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"level-rush/internal/session"
	"level-rush/internal/store"
)

var (
	metricSessionsCreated   = expvar.NewInt("lobby_sessions_created_total")
	metricSessionsScavenged = expvar.NewInt("lobby_sessions_scavenged_total")
	metricJoinsTotal        = expvar.NewInt("lobby_joins_total")
	metricInvitesSent       = expvar.NewInt("lobby_invitations_sent_total")
)

// Identity is the caller's stable (userID, username) pair, supplied by the
// identity provider on every request rather than read from a process-wide
// singleton.
type Identity struct {
	UserID   string
	Username string
}

type CreateRequest struct {
	LobbyName  string
	IsPublic   bool
	MaxPlayers int
	Mode       session.Mode
	// Invited maps userID -> username for private lobbies; each entry also
	// gets an invitation record.
	Invited map[string]string
}

// Service owns session and invitation CRUD against the shared store. It is
// stateless: every operation reads the current document, so any number of
// service instances can run concurrently against the same backend.
type Service struct {
	store store.Store
	now   func() time.Time
}

func NewService(st store.Store) *Service {
	return &Service{store: st, now: time.Now}
}

// WithClock overrides the timestamp source. Test hook.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Create provisions a new session with the caller as host in slot player_1.
// The name-uniqueness check is check-then-create over the listing and is
// racy against a concurrent creator; last writer wins and both sessions
// survive under the same name. Accepted gap, same as the listing UI had.
func (s *Service) Create(ctx context.Context, id Identity, req CreateRequest) (session.Session, error) {
	name := strings.TrimSpace(req.LobbyName)
	if name == "" || id.UserID == "" {
		return session.Session{}, ErrInvalidRequest
	}
	if req.MaxPlayers < 1 {
		req.MaxPlayers = session.DefaultMaxPlayers
	}
	if req.Mode == "" {
		req.Mode = session.ModeConcurrent
	}

	taken, err := s.nameTaken(ctx, name)
	if err != nil {
		return session.Session{}, err
	}
	if taken {
		return session.Session{}, session.ErrNameConflict
	}

	nowMS := session.NowMS(s.now())
	hostSlot := session.SlotID(1)
	sess := session.Session{
		SessionID:    store.NewID(),
		LobbyName:    name,
		HostPlayerID: hostSlot,
		HostName:     id.Username,
		Status:       session.StatusWaiting,
		Mode:         req.Mode,
		IsPublic:     req.IsPublic,
		MaxPlayers:   req.MaxPlayers,
		CurrentLevel: 1,
		CreatedAtMS:  nowMS,
		Players: map[string]session.PlayerRecord{
			hostSlot: {
				PlayerID:        hostSlot,
				UserID:          id.UserID,
				Name:            id.Username,
				Online:          true,
				LastHeartbeatMS: nowMS,
			},
		},
	}
	for userID := range req.Invited {
		sess.InvitedUserIDs = append(sess.InvitedUserIDs, userID)
	}

	if err := s.store.Put(ctx, store.SessionKey(sess.SessionID), sess.Encode()); err != nil {
		return session.Session{}, err
	}
	metricSessionsCreated.Add(1)
	log.Info().Str("session_id", sess.SessionID).Str("lobby", name).Bool("public", req.IsPublic).Msg("session created")

	if !req.IsPublic {
		for userID, username := range req.Invited {
			if err := s.sendInvitation(ctx, sess, id, userID, username); err != nil {
				log.Warn().Err(err).Str("to_user", userID).Msg("invitation send failed")
			}
		}
	}
	return sess, nil
}

// Join seats the caller in the lowest free slot. Two racing joins can pick
// the same slot and the later field write wins; the loser rejoins on the
// next snapshot mismatch. Documented gap, not resolved atomically.
func (s *Service) Join(ctx context.Context, sessionID string, id Identity) (session.Session, string, error) {
	sess, err := s.fetch(ctx, sessionID)
	if err != nil {
		return session.Session{}, "", err
	}
	if len(sess.Players) >= sess.MaxPlayers {
		return session.Session{}, "", session.ErrSessionFull
	}
	if !sess.IsPublic && !sess.Invited(id.UserID) && !s.hostedBy(sess, id.UserID) {
		return session.Session{}, "", session.ErrPrivateSession
	}

	slot := sess.LowestFreeSlot()
	rec := session.PlayerRecord{
		PlayerID:        slot,
		UserID:          id.UserID,
		Name:            id.Username,
		Online:          true,
		LastHeartbeatMS: session.NowMS(s.now()),
	}
	fields := map[string]any{"players/" + slot: rec.Encode()}
	if err := s.store.Update(ctx, store.SessionKey(sessionID), fields); err != nil {
		return session.Session{}, "", err
	}
	sess.Players[slot] = rec
	metricJoinsTotal.Add(1)
	log.Info().Str("session_id", sessionID).Str("player_id", slot).Str("user_id", id.UserID).Msg("player joined")
	return sess, slot, nil
}

// JoinByName resolves an active waiting lobby by its name, then joins it.
func (s *Service) JoinByName(ctx context.Context, lobbyName string, id Identity) (session.Session, string, error) {
	name := strings.TrimSpace(lobbyName)
	if name == "" {
		return session.Session{}, "", ErrInvalidRequest
	}
	docs, err := s.store.List(ctx, store.SessionPrefix)
	if err != nil {
		return session.Session{}, "", err
	}
	for _, doc := range docs {
		sess, err := session.Decode(doc)
		if err != nil {
			continue
		}
		if sess.LobbyName == name && sess.Status == session.StatusWaiting {
			return s.Join(ctx, sess.SessionID, id)
		}
	}
	return session.Session{}, "", session.ErrNotFound
}

// Leave removes the player and converges with a racing kick: both end at
// "player absent", so a missing session or slot is success, not an error.
// The departing client also performs host reassignment and empty-session
// cleanup while it still has a snapshot to act on.
func (s *Service) Leave(ctx context.Context, sessionID, playerID string) error {
	sess, err := s.fetch(ctx, sessionID)
	if err != nil {
		if err == session.ErrNotFound {
			return nil
		}
		return err
	}
	if _, ok := sess.Players[playerID]; !ok {
		return nil
	}
	return s.remove(ctx, sess, playerID)
}

// Kick is the host-only removal path. It shares the removal logic with
// Leave so the two converge when they race.
func (s *Service) Kick(ctx context.Context, sessionID, hostPlayerID, targetPlayerID string) error {
	sess, err := s.fetch(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.HostPlayerID != hostPlayerID {
		return session.ErrNotHost
	}
	if _, ok := sess.Players[targetPlayerID]; !ok {
		return nil
	}
	log.Info().Str("session_id", sessionID).Str("player_id", targetPlayerID).Msg("player kicked")
	return s.remove(ctx, sess, targetPlayerID)
}

func (s *Service) remove(ctx context.Context, sess session.Session, playerID string) error {
	key := store.SessionKey(sess.SessionID)
	delete(sess.Players, playerID)

	if len(sess.Players) == 0 {
		if err := s.store.Delete(ctx, key); err != nil {
			return err
		}
		return s.cascadeInvitations(ctx, sess.SessionID)
	}

	fields := map[string]any{"players/" + playerID: nil}
	if sess.HostPlayerID == playerID {
		if next, ok := sess.NextHost(); ok {
			fields["hostPlayerId"] = next
			log.Info().Str("session_id", sess.SessionID).Str("host", next).Msg("host reassigned")
		}
	}
	return s.store.Update(ctx, key, fields)
}

// List returns lobbies visible to the caller: public waiting sessions plus
// private ones the caller hosts or is invited to. The scan doubles as the
// scavenger pass: an empty session has no owner left to contest deletion,
// so any lister may garbage-collect it.
func (s *Service) List(ctx context.Context, id Identity) ([]session.Session, error) {
	docs, err := s.store.List(ctx, store.SessionPrefix)
	if err != nil {
		return nil, err
	}
	var out []session.Session
	for _, doc := range docs {
		sess, err := session.Decode(doc)
		if err != nil {
			continue
		}
		if len(sess.Players) == 0 {
			s.scavenge(ctx, sess.SessionID)
			continue
		}
		if sess.Status != session.StatusWaiting {
			continue
		}
		if sess.IsPublic || sess.Invited(id.UserID) || s.hostedBy(sess, id.UserID) {
			out = append(out, sess)
		}
	}
	return out, nil
}

// Get fetches one session by ID.
func (s *Service) Get(ctx context.Context, sessionID string) (session.Session, error) {
	return s.fetch(ctx, sessionID)
}

func (s *Service) scavenge(ctx context.Context, sessionID string) {
	if err := s.store.Delete(ctx, store.SessionKey(sessionID)); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("scavenge delete failed")
		return
	}
	if err := s.cascadeInvitations(ctx, sessionID); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("scavenge invitation cleanup failed")
	}
	metricSessionsScavenged.Add(1)
	log.Info().Str("session_id", sessionID).Msg("empty session scavenged")
}

func (s *Service) fetch(ctx context.Context, sessionID string) (session.Session, error) {
	doc, err := s.store.Get(ctx, store.SessionKey(sessionID))
	if err != nil {
		if err == store.ErrNotFound {
			return session.Session{}, session.ErrNotFound
		}
		return session.Session{}, err
	}
	return session.Decode(doc)
}

func (s *Service) hostedBy(sess session.Session, userID string) bool {
	host, ok := sess.Players[sess.HostPlayerID]
	return ok && host.UserID == userID
}

func (s *Service) nameTaken(ctx context.Context, name string) (bool, error) {
	docs, err := s.store.List(ctx, store.SessionPrefix)
	if err != nil {
		return false, err
	}
	for _, doc := range docs {
		sess, err := session.Decode(doc)
		if err != nil {
			continue
		}
		if sess.Status == session.StatusWaiting && sess.LobbyName == name && len(sess.Players) > 0 {
			return true, nil
		}
	}
	return false, nil
}

// SendInvitation invites a user into an existing private session.
func (s *Service) SendInvitation(ctx context.Context, sessionID string, from Identity, toUserID, toUsername string) error {
	sess, err := s.fetch(ctx, sessionID)
	if err != nil {
		return err
	}
	if !s.hostedBy(sess, from.UserID) {
		return session.ErrNotHost
	}
	if !sess.Invited(toUserID) {
		// The invite list on the session is what actually grants entry; the
		// invitation record is the notification.
		ids := append(append([]string(nil), sess.InvitedUserIDs...), toUserID)
		if err := s.store.Update(ctx, store.SessionKey(sess.SessionID), map[string]any{"invitedUserIds": ids}); err != nil {
			return err
		}
	}
	return s.sendInvitation(ctx, sess, from, toUserID, toUsername)
}

func (s *Service) sendInvitation(ctx context.Context, sess session.Session, from Identity, toUserID, toUsername string) error {
	inv := session.Invitation{
		InvitationID: store.NewID(),
		SessionID:    sess.SessionID,
		LobbyName:    sess.LobbyName,
		FromUserID:   from.UserID,
		FromUsername: from.Username,
		ToUserID:     toUserID,
		ToUsername:   toUsername,
		Status:       session.InvitePending,
		CreatedAtMS:  session.NowMS(s.now()),
	}
	if err := s.store.Put(ctx, store.InvitationKey(inv.InvitationID), inv.Encode()); err != nil {
		return err
	}
	metricInvitesSent.Add(1)
	return nil
}

// Invitations lists pending invitations addressed to the user.
func (s *Service) Invitations(ctx context.Context, userID string) ([]session.Invitation, error) {
	docs, err := s.store.List(ctx, store.InvitationPrefix)
	if err != nil {
		return nil, err
	}
	var out []session.Invitation
	for _, doc := range docs {
		inv, err := session.DecodeInvitation(doc)
		if err != nil {
			continue
		}
		if inv.ToUserID == userID && inv.Status == session.InvitePending {
			out = append(out, inv)
		}
	}
	return out, nil
}

// AcceptInvitation performs an ordinary join and, once seated, marks the
// invitation accepted; acceptance grants nothing beyond what the
// invitedUserIds entry on the session already does. A failed join leaves
// the invitation pending.
func (s *Service) AcceptInvitation(ctx context.Context, invitationID string, id Identity) (session.Session, string, error) {
	inv, err := s.fetchInvitation(ctx, invitationID)
	if err != nil {
		return session.Session{}, "", err
	}
	if inv.ToUserID != id.UserID {
		return session.Session{}, "", ErrNotInvited
	}
	sess, playerID, err := s.Join(ctx, inv.SessionID, id)
	if err != nil {
		// The join failed (full session, deleted session): leave the
		// invitation pending so the user can retry or decline it.
		return session.Session{}, "", err
	}
	if err := s.store.Update(ctx, store.InvitationKey(invitationID), map[string]any{"status": string(session.InviteAccepted)}); err != nil {
		return session.Session{}, "", err
	}
	return sess, playerID, nil
}

func (s *Service) DeclineInvitation(ctx context.Context, invitationID string, id Identity) error {
	inv, err := s.fetchInvitation(ctx, invitationID)
	if err != nil {
		return err
	}
	if inv.ToUserID != id.UserID {
		return ErrNotInvited
	}
	return s.store.Update(ctx, store.InvitationKey(invitationID), map[string]any{"status": string(session.InviteDeclined)})
}

func (s *Service) fetchInvitation(ctx context.Context, invitationID string) (session.Invitation, error) {
	doc, err := s.store.Get(ctx, store.InvitationKey(invitationID))
	if err != nil {
		if err == store.ErrNotFound {
			return session.Invitation{}, session.ErrNotFound
		}
		return session.Invitation{}, err
	}
	return session.DecodeInvitation(doc)
}

func (s *Service) cascadeInvitations(ctx context.Context, sessionID string) error {
	docs, err := s.store.List(ctx, store.InvitationPrefix)
	if err != nil {
		return err
	}
	var firstErr error
	for key, doc := range docs {
		inv, err := session.DecodeInvitation(doc)
		if err != nil || inv.SessionID != sessionID {
			continue
		}
		if err := s.store.Delete(ctx, key); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("delete %s: %w", key, err)
		}
	}
	return firstErr
}
