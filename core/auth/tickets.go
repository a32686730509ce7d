package auth

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"
	"golang.org/x/crypto/bcrypt"

	"tracktally/config"
	"tracktally/core/store"
	"tracktally/core/utils"
)

var (
	ErrTicketInvalid = errors.New("auth ticket invalid")
	ErrTicketExpired = errors.New("auth ticket expired")
)

const transferTokenLen = 43

// TicketService drives the mobile cross-device sign-in handoff. A ticket
// moves through created → session attached → consumed; every transition
// requires the previous one and expired or consumed tickets are dead.
type TicketService struct {
	tickets store.TicketsStore
	cfg     *config.AppConfig
	logger  *utils.Logger
}

func NewTicketService(tickets store.TicketsStore, cfg *config.AppConfig, logger *utils.Logger) *TicketService {
	return &TicketService{tickets: tickets, cfg: cfg, logger: logger}
}

// Start opens a ticket and returns its public correlation state.
func (s *TicketService) Start(ctx context.Context, redirectPath string) (string, error) {
	state := uuid.Must(uuid.NewV4()).String()
	now := utils.NowUTC()
	t := &store.AuthTicket{
		State:        state,
		RedirectPath: redirectPath,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.cfg.Auth.TicketTTL),
	}
	if err := s.tickets.Create(ctx, t); err != nil {
		return "", err
	}
	return state, nil
}

// Finish binds the browser-side session to the ticket and issues the
// single-use transfer token. Only the token's bcrypt hash is stored.
func (s *TicketService) Finish(ctx context.Context, state, sessionID string) (token, redirectPath string, err error) {
	t, err := s.tickets.Get(ctx, state)
	if err != nil {
		return "", "", err
	}
	if t == nil || t.Consumed() || t.SessionID != "" {
		return "", "", ErrTicketInvalid
	}
	if t.Expired(utils.NowUTC()) {
		return "", "", ErrTicketExpired
	}
	token, err = utils.RandString(transferTokenLen)
	if err != nil {
		return "", "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", "", err
	}
	if err := s.tickets.AttachSession(ctx, state, sessionID, string(hash)); err != nil {
		return "", "", ErrTicketInvalid
	}
	return token, t.RedirectPath, nil
}

// Claim trades the transfer token for the session id, exactly once.
func (s *TicketService) Claim(ctx context.Context, state, transferToken string) (sessionID, redirectPath string, err error) {
	t, err := s.tickets.Get(ctx, state)
	if err != nil {
		return "", "", err
	}
	if t == nil || t.Consumed() || t.SessionID == "" || t.TransferTokenHash == "" {
		return "", "", ErrTicketInvalid
	}
	if t.Expired(utils.NowUTC()) {
		return "", "", ErrTicketExpired
	}
	if bcrypt.CompareHashAndPassword([]byte(t.TransferTokenHash), []byte(transferToken)) != nil {
		return "", "", ErrTicketInvalid
	}
	if err := s.tickets.MarkConsumed(ctx, state, utils.NowUTC()); err != nil {
		return "", "", ErrTicketInvalid
	}
	return t.SessionID, t.RedirectPath, nil
}

// Prune drops expired and consumed tickets; called from the scheduler.
func (s *TicketService) Prune(ctx context.Context) {
	n, err := s.tickets.DeleteExpired(ctx, utils.NowUTC())
	if err != nil {
		if s.logger != nil {
			s.logger.Errorf("auth ticket prune: %v", err)
		}
		return
	}
	if n > 0 && s.logger != nil {
		s.logger.Printf("auth tickets pruned n=%d", n)
	}
}
