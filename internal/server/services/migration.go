package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/gophmove/internal/common"
	"github.com/dmitrijs2005/gophmove/internal/dbx"
	"github.com/dmitrijs2005/gophmove/internal/logging"
	"github.com/dmitrijs2005/gophmove/internal/server/backup"
	"github.com/dmitrijs2005/gophmove/internal/server/config"
	"github.com/dmitrijs2005/gophmove/internal/server/identity"
	"github.com/dmitrijs2005/gophmove/internal/server/models"
	"github.com/dmitrijs2005/gophmove/internal/server/notify"
	"github.com/dmitrijs2005/gophmove/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/gophmove/internal/server/transfer"
	"github.com/google/uuid"
	"github.com/im7mortal/kmutex"
	"github.com/juju/clock"
)

// TokenBytes is the number of random bytes in a migration token.
const TokenBytes = 32

const (
	msgInterrupted = "interrupted by server restart"
	msgExpired     = "migration token expired"

	// maxReasonLen bounds the failure text sent to the source.
	maxReasonLen = 1024
)

// RemotePeer is another instance as seen by this one.
type RemotePeer interface {
	transfer.Source
	Complete(ctx context.Context, username, token, userID string) error
	Fail(ctx context.Context, username, token, reason string) error
	Announce(ctx context.Context, ann models.Announcement) (string, error)
}

// PeerDialer returns the peer serving domain.
type PeerDialer func(domain string) RemotePeer

type Fetcher interface {
	Fetch(ctx context.Context, src transfer.Source, username, token string) (string, error)
}

type Restorer interface {
	Restore(ctx context.Context, tx dbx.DBTX, userID, path string, contents *backup.Contents) (*backup.Result, error)
	Discard(ctx context.Context, keys []string)
}

type Rebinder interface {
	CreateAccount(ctx context.Context, tx dbx.DBTX, acc identity.NewAccount) (*models.User, error)
}

// MigrationDeps are the collaborators of MigrationService.
type MigrationDeps struct {
	DB       *sql.DB
	Repos    repomanager.RepositoryManager
	Fetcher  Fetcher
	Restorer Restorer
	Rebinder Rebinder
	Notifier notify.Notifier
	Peers    PeerDialer
	Clock    clock.Clock
	Logger   logging.Logger
}

// MigrationService runs the migration state machine for both roles: as a
// target it registers, approves and pulls incoming accounts, as a source it
// initiates outgoing migrations and authorizes the federation calls made
// against them.
type MigrationService struct {
	db       *sql.DB
	repos    repomanager.RepositoryManager
	fetcher  Fetcher
	restorer Restorer
	rebinder Rebinder
	notifier notify.Notifier
	peers    PeerDialer
	clock    clock.Clock
	logger   logging.Logger
	locks    *kmutex.Kmutex

	publicDomain string
	tokenTTL     time.Duration
}

func NewMigrationService(cfg *config.Config, d MigrationDeps) *MigrationService {
	if d.Clock == nil {
		d.Clock = clock.WallClock
	}
	return &MigrationService{
		db:           d.DB,
		repos:        d.Repos,
		fetcher:      d.Fetcher,
		restorer:     d.Restorer,
		rebinder:     d.Rebinder,
		notifier:     d.Notifier,
		peers:        d.Peers,
		clock:        d.Clock,
		logger:       d.Logger.With("module", "migration"),
		locks:        kmutex.New(),
		publicDomain: cfg.PublicDomain,
		tokenTTL:     cfg.TokenTTL,
	}
}

func (s *MigrationService) now() time.Time { return s.clock.Now().UTC() }

func (s *MigrationService) lock(id string) func() {
	s.locks.Lock(id)
	return func() { s.locks.Unlock(id) }
}

func (s *MigrationService) transition(ctx context.Context, req *models.MigrationRequest, upd models.StatusUpdate) error {
	upd.ID = req.ID
	upd.From = req.Status
	upd.UpdatedAt = s.now()
	if err := s.repos.Requests(s.db).UpdateStatus(ctx, upd); err != nil {
		return err
	}
	req.Status = upd.To
	req.UpdatedAt = upd.UpdatedAt
	if upd.AcceptedBy != "" {
		req.AcceptedBy = upd.AcceptedBy
	}
	if upd.RejectionReason != "" {
		req.RejectionReason = upd.RejectionReason
	}
	if upd.ErrorMessage != "" {
		req.ErrorMessage = upd.ErrorMessage
	}
	if upd.CompletedAt != nil {
		req.CompletedAt = upd.CompletedAt
	}
	s.logger.Info(ctx, "migration status changed", "request_id", req.ID, "direction", req.Direction,
		"from", upd.From, "to", upd.To)
	return nil
}

// fail moves a non-terminal request to failed, recording message. The
// update is not bound to ctx so a cancelled caller still leaves a record.
func (s *MigrationService) fail(ctx context.Context, req *models.MigrationRequest, message string) {
	if req.Status.IsTerminal() {
		return
	}
	err := s.transition(context.WithoutCancel(ctx), req, models.StatusUpdate{
		To:           models.StatusFailed,
		ErrorMessage: message,
	})
	if err != nil {
		s.logger.Error(ctx, "failed to record migration failure", "request_id", req.ID, "error", err)
	}
}

func (s *MigrationService) Get(ctx context.Context, id string) (*models.MigrationRequest, error) {
	return s.repos.Requests(s.db).GetByID(ctx, id)
}

func (s *MigrationService) List(ctx context.Context, filter models.RequestFilter) ([]*models.MigrationRequest, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", common.ErrValidation, filter.Status)
	}
	if filter.Direction != "" && !filter.Direction.Valid() {
		return nil, fmt.Errorf("%w: unknown direction %q", common.ErrValidation, filter.Direction)
	}
	return s.repos.Requests(s.db).List(ctx, filter)
}

// RegisterIncoming records a migration announced by a source instance as a
// pending incoming request.
func (s *MigrationService) RegisterIncoming(ctx context.Context, ann models.Announcement) (*models.MigrationRequest, error) {
	now := s.now()
	if !ann.TokenExpiresAt.After(now) {
		return nil, fmt.Errorf("%w: token already expired", common.ErrValidation)
	}
	if strings.EqualFold(ann.SourceDomain, s.publicDomain) {
		return nil, fmt.Errorf("%w: source domain is this instance", common.ErrValidation)
	}

	users := s.repos.Users(s.db)
	if _, err := users.GetUserByLogin(ctx, ann.UserName); err == nil {
		return nil, fmt.Errorf("%w: username %s is taken", common.ErrAlreadyExists, ann.UserName)
	} else if !errors.Is(err, common.ErrorNotFound) {
		return nil, err
	}
	if _, err := users.GetByID(ctx, ann.UserID); err == nil {
		return nil, fmt.Errorf("%w: account %s exists", common.ErrAlreadyExists, ann.UserID)
	} else if !errors.Is(err, common.ErrorNotFound) {
		return nil, err
	}

	req := &models.MigrationRequest{
		ID:             uuid.NewString(),
		Direction:      models.DirectionIncoming,
		SourceDomain:   ann.SourceDomain,
		UserName:       ann.UserName,
		Email:          ann.Email,
		UserID:         ann.UserID,
		Token:          ann.Token,
		TokenExpiresAt: ann.TokenExpiresAt.UTC(),
		Status:         models.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repos.Requests(s.db).Create(ctx, req); err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "incoming migration registered", "request_id", req.ID, "source", req.SourceDomain,
		"username", req.UserName)
	return req, nil
}

// Accept approves a pending incoming request. Accepting an outgoing request
// is a precondition violation that fails the request.
func (s *MigrationService) Accept(ctx context.Context, id, operator string) (*models.MigrationRequest, error) {
	defer s.lock(id)()

	req, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Direction != models.DirectionIncoming {
		s.fail(ctx, req, "accept attempted on an outgoing request")
		return nil, fmt.Errorf("%w: request %s is %s", common.ErrInvalidState, id, req.Direction)
	}
	if req.Status != models.StatusPending {
		return nil, fmt.Errorf("%w: request %s is %s", common.ErrInvalidState, id, req.Status)
	}

	if err := s.transition(ctx, req, models.StatusUpdate{To: models.StatusAccepted, AcceptedBy: operator}); err != nil {
		return nil, err
	}
	return req, nil
}

// Reject closes a pending request.
func (s *MigrationService) Reject(ctx context.Context, id, operator, reason string) (*models.MigrationRequest, error) {
	defer s.lock(id)()

	req, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status != models.StatusPending {
		return nil, fmt.Errorf("%w: request %s is %s", common.ErrInvalidState, id, req.Status)
	}

	if err := s.transition(ctx, req, models.StatusUpdate{To: models.StatusRejected, RejectionReason: reason}); err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "migration rejected", "request_id", id, "operator", operator)
	return req, nil
}

// Transfer pulls the account of an accepted incoming request from its
// source and recreates it here. Any failure leaves the request failed with
// the error text; the returned request reflects the final state.
func (s *MigrationService) Transfer(ctx context.Context, id string) (*models.MigrationRequest, error) {
	defer s.lock(id)()

	req, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Direction != models.DirectionIncoming || req.Status != models.StatusAccepted {
		return nil, fmt.Errorf("%w: request %s is %s %s", common.ErrInvalidState, id, req.Direction, req.Status)
	}

	if err := s.transition(ctx, req, models.StatusUpdate{To: models.StatusTransferring}); err != nil {
		return nil, err
	}

	peer := s.peers(req.SourceDomain)
	account, err := s.pull(ctx, peer, req)
	if err != nil {
		s.fail(ctx, req, err.Error())
		s.logger.Error(ctx, "migration failed", "request_id", id, "error", err)
		s.abandon(ctx, peer, req, err)
		return req, err
	}

	completed := s.now()
	if err := s.transition(context.WithoutCancel(ctx), req, models.StatusUpdate{
		To:          models.StatusCompleted,
		CompletedAt: &completed,
	}); err != nil {
		s.logger.Error(ctx, "account restored but completion was not recorded", "request_id", id,
			"user_id", account.ID, "error", err)
		return req, err
	}

	s.finish(ctx, peer, req, account)
	return req, nil
}

// pull downloads, restores and rebinds the account. The database side runs
// in one transaction, so no account is left behind on failure.
func (s *MigrationService) pull(ctx context.Context, peer RemotePeer, req *models.MigrationRequest) (*models.User, error) {
	path, err := s.fetcher.Fetch(ctx, peer, req.UserName, req.Token)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := backup.Remove(path); err != nil {
			s.logger.Warn(ctx, "failed to remove archive", "request_id", req.ID, "error", err)
		}
	}()

	contents, err := backup.Inspect(path)
	if err != nil {
		return nil, err
	}

	acc := identity.NewAccount{ID: req.UserID, UserName: req.UserName, Email: req.Email}
	if meta := contents.Metadata; meta != nil {
		if meta.HasPassword() {
			acc.Password = meta.Password
		}
		if acc.Email == "" {
			acc.Email = meta.Email
		}
	} else {
		s.logger.Warn(ctx, "archive has no metadata, account gets a random password", "request_id", req.ID)
	}

	var (
		account *models.User
		result  *backup.Result
	)
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		if account, err = s.rebinder.CreateAccount(ctx, tx, acc); err != nil {
			return fmt.Errorf("%w: %v", common.ErrRestoreFailed, err)
		}
		result, err = s.restorer.Restore(ctx, tx, account.ID, path, contents)
		return err
	})
	if err != nil {
		if result != nil {
			s.restorer.Discard(ctx, result.UploadedKeys)
		}
		return nil, err
	}
	return account, nil
}

// abandon tells the source the migration failed here so it can spend the
// token. Best-effort: the source expires the request on its own otherwise.
func (s *MigrationService) abandon(ctx context.Context, peer RemotePeer, req *models.MigrationRequest, cause error) {
	reason := cause.Error()
	if len(reason) > maxReasonLen {
		reason = reason[:maxReasonLen]
	}
	if err := peer.Fail(context.WithoutCancel(ctx), req.UserName, req.Token, reason); err != nil {
		s.logger.Warn(ctx, "source was not told about the failure", "request_id", req.ID, "error", err)
	}
}

// finish runs the best-effort steps after a completed migration.
func (s *MigrationService) finish(ctx context.Context, peer RemotePeer, req *models.MigrationRequest, account *models.User) {
	ctx = context.WithoutCancel(ctx)
	if err := peer.Complete(ctx, req.UserName, req.Token, req.UserID); err != nil {
		s.logger.Warn(ctx, "source was not told about completion", "request_id", req.ID, "error", err)
	}

	results, err := s.notifier.NotifyAll(ctx, account, req.SourceDomain, s.publicDomain)
	if err != nil {
		s.logger.Warn(ctx, "contact notification failed", "request_id", req.ID, "error", err)
		return
	}
	for _, r := range results {
		if r.Err != nil {
			s.logger.Warn(ctx, "contact notification failed", "request_id", req.ID, "contact", r.Contact, "error", r.Err)
		}
	}
	s.logger.Info(ctx, "migration completed", "request_id", req.ID, "user_id", account.ID)
}

// Initiate starts moving the local account username to targetDomain: it
// mints a token, records an outgoing request and announces it to the
// target.
func (s *MigrationService) Initiate(ctx context.Context, username, targetDomain string) (*models.MigrationRequest, error) {
	targetDomain = strings.TrimSpace(targetDomain)
	if targetDomain == "" || strings.EqualFold(targetDomain, s.publicDomain) {
		return nil, fmt.Errorf("%w: bad target domain %q", common.ErrValidation, targetDomain)
	}

	user, err := s.repos.Users(s.db).GetUserByLogin(ctx, username)
	if err != nil {
		return nil, err
	}
	if user.MigratedTo != "" {
		return nil, fmt.Errorf("%w: account already moved to %s", common.ErrInvalidState, user.MigratedTo)
	}

	open, err := s.repos.Requests(s.db).List(ctx, models.RequestFilter{Direction: models.DirectionOutgoing})
	if err != nil {
		return nil, err
	}
	for _, r := range open {
		if r.UserID == user.ID && !r.Status.IsTerminal() {
			return nil, fmt.Errorf("%w: migration %s is in progress", common.ErrAlreadyExists, r.ID)
		}
	}

	token, err := common.MakeRandHexString(TokenBytes)
	if err != nil {
		return nil, fmt.Errorf("mint token: %w", err)
	}

	now := s.now()
	req := &models.MigrationRequest{
		ID:             uuid.NewString(),
		Direction:      models.DirectionOutgoing,
		SourceDomain:   s.publicDomain,
		TargetDomain:   targetDomain,
		UserName:       user.UserName,
		Email:          user.Email,
		UserID:         user.ID,
		Token:          token,
		TokenExpiresAt: now.Add(s.tokenTTL),
		Status:         models.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	defer s.lock(req.ID)()
	if err := s.repos.Requests(s.db).Create(ctx, req); err != nil {
		return nil, err
	}

	_, err = s.peers(targetDomain).Announce(ctx, models.Announcement{
		Token:          token,
		SourceDomain:   s.publicDomain,
		UserName:       user.UserName,
		Email:          user.Email,
		UserID:         user.ID,
		TokenExpiresAt: req.TokenExpiresAt,
	})
	if err != nil {
		s.fail(ctx, req, err.Error())
		return req, err
	}

	s.logger.Info(ctx, "outgoing migration announced", "request_id", req.ID, "target", targetDomain)
	return req, nil
}

// ValidateToken returns the outgoing request token authorizes for username.
// Unknown, expired and spent tokens all yield common.ErrInvalidToken.
func (s *MigrationService) ValidateToken(ctx context.Context, username, token string) (*models.MigrationRequest, error) {
	if token == "" {
		return nil, common.ErrInvalidToken
	}
	req, err := s.repos.Requests(s.db).FindByToken(ctx, models.DirectionOutgoing, token)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, common.ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}
	if req.UserName != username || !req.TokenUsable(s.now()) {
		return nil, common.ErrInvalidToken
	}
	return req, nil
}

// BeginOutgoing moves an outgoing request to transferring when the target
// first asks for the archive. A request already transferring is left as is.
func (s *MigrationService) BeginOutgoing(ctx context.Context, req *models.MigrationRequest) error {
	defer s.lock(req.ID)()

	cur, err := s.Get(ctx, req.ID)
	if err != nil {
		return err
	}

	switch cur.Status {
	case models.StatusTransferring:
		return nil
	case models.StatusPending:
		if err := s.transition(ctx, cur, models.StatusUpdate{
			To:         models.StatusAccepted,
			AcceptedBy: "federation:" + cur.TargetDomain,
		}); err != nil {
			return err
		}
		fallthrough
	case models.StatusAccepted:
		if err := s.transition(ctx, cur, models.StatusUpdate{To: models.StatusTransferring}); err != nil {
			return err
		}
		*req = *cur
		return nil
	}
	return common.ErrInvalidToken
}

// CompleteOutgoing finalizes an outgoing request once the target confirmed
// the account arrived. The token is spent afterwards.
func (s *MigrationService) CompleteOutgoing(ctx context.Context, username, token, userID string) error {
	req, err := s.ValidateToken(ctx, username, token)
	if err != nil {
		return err
	}

	defer s.lock(req.ID)()
	req, err = s.Get(ctx, req.ID)
	if err != nil {
		return err
	}
	if req.UserID != userID {
		return fmt.Errorf("%w: user id does not match the request", common.ErrValidation)
	}
	if req.Status != models.StatusTransferring {
		return fmt.Errorf("%w: request %s is %s", common.ErrInvalidState, req.ID, req.Status)
	}

	now := s.now()
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		err := s.repos.Requests(tx).UpdateStatus(ctx, models.StatusUpdate{
			ID:          req.ID,
			From:        models.StatusTransferring,
			To:          models.StatusCompleted,
			CompletedAt: &now,
			UpdatedAt:   now,
		})
		if err != nil {
			return err
		}
		return s.repos.Users(tx).SetMigratedTo(ctx, req.UserID, req.TargetDomain)
	})
	if err != nil {
		return err
	}

	s.logger.Info(ctx, "outgoing migration completed", "request_id", req.ID, "target", req.TargetDomain)
	return nil
}

// FailOutgoing records that the target gave up on an outgoing migration.
// The request is failed, which spends the token, so the account can be
// migrated again right away.
func (s *MigrationService) FailOutgoing(ctx context.Context, username, token, reason string) error {
	req, err := s.ValidateToken(ctx, username, token)
	if err != nil {
		return err
	}

	defer s.lock(req.ID)()
	req, err = s.Get(ctx, req.ID)
	if err != nil {
		return err
	}
	if req.Status.IsTerminal() {
		return common.ErrInvalidToken
	}

	msg := "failed on target " + req.TargetDomain
	if reason = strings.TrimSpace(reason); reason != "" {
		msg += ": " + reason
	}
	if err := s.transition(context.WithoutCancel(ctx), req, models.StatusUpdate{
		To:           models.StatusFailed,
		ErrorMessage: msg,
	}); err != nil {
		return err
	}

	s.logger.Warn(ctx, "outgoing migration failed on target", "request_id", req.ID, "target", req.TargetDomain,
		"reason", reason)
	return nil
}

// RecoverInterrupted fails incoming transfers a previous process left
// behind. Transfers do not resume; the operator has to start over.
func (s *MigrationService) RecoverInterrupted(ctx context.Context) (int, error) {
	ids, err := s.repos.Requests(s.db).FailInterrupted(ctx, s.now(), msgInterrupted)
	if err != nil {
		return 0, fmt.Errorf("recover interrupted transfers: %w", err)
	}
	for _, id := range ids {
		s.logger.Warn(ctx, "interrupted transfer marked failed", "request_id", id)
	}
	return len(ids), nil
}

// ExpireStale fails every open request whose token ran out.
func (s *MigrationService) ExpireStale(ctx context.Context) (int, error) {
	ids, err := s.repos.Requests(s.db).FailExpired(ctx, s.now(), msgExpired)
	if err != nil {
		return 0, fmt.Errorf("expire requests: %w", err)
	}
	for _, id := range ids {
		s.logger.Info(ctx, "expired migration marked failed", "request_id", id)
	}
	return len(ids), nil
}
