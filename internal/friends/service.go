package friends

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/realbeatz/backend/internal/logging"
	"github.com/realbeatz/backend/internal/models"
)

// MaxMessageLength bounds the optional note attached to a friend request.
const MaxMessageLength = 100

const (
	opListFriends    = "list_friends"
	opListByUsername = "list_friends_by_username"
	opAddFriend      = "add_friend"
	opRemoveFriend   = "remove_friend"
	opCreateRequest  = "create_request"
	opConfirmRequest = "confirm_request"
	opRefuseRequest  = "refuse_request"
	opWithdrawSent   = "withdraw_request"
	opListReceived   = "list_received_requests"
	opListSent       = "list_sent_requests"
)

// Service is the single writer of the friendship graph and friend requests.
// Every public method runs its reads and writes in one store transaction.
type Service struct {
	store    Store
	cache    FriendListCache
	recorder Recorder
	now      func() time.Time
	newID    func() string
}

// Option customises a Service.
type Option func(*Service)

// WithCache enables caching of friend lists.
func WithCache(cache FriendListCache) Option {
	return func(s *Service) { s.cache = cache }
}

// WithRecorder reports operation outcomes to r.
func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator overrides how request identifiers are generated.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

// NewService constructs a Service over store.
func NewService(store Store, opts ...Option) *Service {
	if store == nil {
		panic("friends: store must not be nil")
	}
	s := &Service{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListFriends returns every user with an edge from userID.
func (s *Service) ListFriends(ctx context.Context, userID string) (friends []models.User, err error) {
	ctx, done := s.begin(ctx, opListFriends, slog.String("user_id", userID))
	defer func() { done(err) }()

	return s.listFriends(ctx, userID)
}

// ListFriendsByUsername resolves username and returns that user's friends.
func (s *Service) ListFriendsByUsername(ctx context.Context, username string) (friends []models.User, err error) {
	ctx, done := s.begin(ctx, opListByUsername, slog.String("username", username))
	defer func() { done(err) }()

	var userID string
	err = s.store.InTx(ctx, func(tx Tx) error {
		user, ok, err := tx.FindUserByUsername(ctx, username)
		if err != nil {
			return storeErr(err)
		}
		if !ok {
			return fmt.Errorf("%w: username %q", ErrUserNotFound, username)
		}
		userID = user.ID
		return nil
	})
	if err != nil {
		return nil, storeErr(err)
	}
	return s.listFriends(ctx, userID)
}

// listFriends reads the cache generation before opening the transaction so
// the list it stores can only be older than an invalidation that also
// advanced the generation.
func (s *Service) listFriends(ctx context.Context, userID string) (friends []models.User, err error) {
	var (
		cached     []models.User
		generation uint64
		hit        bool
	)
	if s.cache != nil {
		cached, generation, hit = s.cache.Get(ctx, userID)
	}

	err = s.store.InTx(ctx, func(tx Tx) error {
		if _, err := s.resolve(ctx, tx, userID); err != nil {
			return err
		}
		if hit {
			friends = cached
			return nil
		}
		list, err := tx.ListFriends(ctx, userID)
		if err != nil {
			return storeErr(err)
		}
		friends = list
		return nil
	})
	if err != nil {
		return nil, storeErr(err)
	}
	if s.cache != nil && !hit {
		s.cache.Set(ctx, userID, generation, friends)
	}
	return friends, nil
}

// AddFriendDirect befriends userID and friendID without a request.
func (s *Service) AddFriendDirect(ctx context.Context, userID, friendID string) (err error) {
	ctx, done := s.begin(ctx, opAddFriend, slog.String("user_id", userID), slog.String("friend_id", friendID))
	defer func() { done(err) }()

	if userID == friendID {
		return fmt.Errorf("%w: user %s cannot add themself as a friend", ErrSelfReference, userID)
	}

	err = s.store.InTx(ctx, func(tx Tx) error {
		if err := s.resolvePair(ctx, tx, userID, friendID); err != nil {
			return err
		}
		forward, reverse, err := edges(ctx, tx, userID, friendID)
		if err != nil {
			return err
		}
		if forward {
			return fmt.Errorf("%w: user %s is already friends with %s", ErrDuplicateFriendship, userID, friendID)
		}
		if reverse {
			return fmt.Errorf("%w: user %s is already friends with %s", ErrDuplicateFriendship, friendID, userID)
		}
		return storeErr(tx.SetSymmetricEdge(ctx, userID, friendID, s.now()))
	})
	if err == nil {
		s.invalidate(ctx, userID, friendID)
	}
	return storeErr(err)
}

// RemoveFriend deletes the friendship between userID and friendID.
func (s *Service) RemoveFriend(ctx context.Context, userID, friendID string) (err error) {
	ctx, done := s.begin(ctx, opRemoveFriend, slog.String("user_id", userID), slog.String("friend_id", friendID))
	defer func() { done(err) }()

	if userID == friendID {
		return fmt.Errorf("%w: user %s cannot remove themself as a friend", ErrSelfReference, userID)
	}

	err = s.store.InTx(ctx, func(tx Tx) error {
		if err := s.resolvePair(ctx, tx, userID, friendID); err != nil {
			return err
		}
		forward, reverse, err := edges(ctx, tx, userID, friendID)
		if err != nil {
			return err
		}
		switch {
		case !forward && !reverse:
			return fmt.Errorf("%w: user %s doesn't have a friend with id %s", ErrFriendshipNotFound, userID, friendID)
		case forward != reverse:
			logging.FromContext(ctx).Error("asymmetric friendship detected", "forward", forward, "reverse", reverse)
			return fmt.Errorf("%w: friendship between %s and %s is asymmetric (forward=%t reverse=%t)",
				ErrFriendshipNotFound, userID, friendID, forward, reverse)
		}
		return storeErr(tx.ClearSymmetricEdge(ctx, userID, friendID))
	})
	if err == nil {
		s.invalidate(ctx, userID, friendID)
	}
	return storeErr(err)
}

// CreateFriendRequest records a SENT request from requesterID to newFriendID.
func (s *Service) CreateFriendRequest(ctx context.Context, requesterID, newFriendID string, message *string) (err error) {
	ctx, done := s.begin(ctx, opCreateRequest, slog.String("requester_id", requesterID), slog.String("new_friend_id", newFriendID))
	defer func() { done(err) }()

	if requesterID == newFriendID {
		return fmt.Errorf("%w: user %s cannot send a friend request to themself", ErrSelfReference, requesterID)
	}

	text := ""
	if message != nil {
		text = *message
	}
	if n := utf8.RuneCountInString(text); n > MaxMessageLength {
		return fmt.Errorf("%w: %d characters exceeds limit of %d", ErrInvalidMessage, n, MaxMessageLength)
	}

	err = s.store.InTx(ctx, func(tx Tx) error {
		if err := s.resolvePair(ctx, tx, requesterID, newFriendID); err != nil {
			return err
		}
		forward, reverse, err := edges(ctx, tx, requesterID, newFriendID)
		if err != nil {
			return err
		}
		if forward || reverse {
			return fmt.Errorf("%w: user %s already has %s as a friend", ErrAlreadyFriends, requesterID, newFriendID)
		}

		existing, err := tx.FindRequests(ctx, requesterID, newFriendID)
		if err != nil {
			return storeErr(err)
		}
		if _, ok := firstUnresolved(existing); ok {
			return fmt.Errorf("%w: request from %s to %s already exists", ErrDuplicateRequest, requesterID, newFriendID)
		}

		return storeErr(tx.InsertRequest(ctx, models.FriendRequest{
			ID:        s.newID(),
			Requester: requesterID,
			NewFriend: newFriendID,
			Message:   text,
			Status:    models.FriendRequestSent,
			CreatedAt: s.now(),
		}))
	})
	return storeErr(err)
}

// ConfirmFriendRequest accepts the unresolved request from requesterID to
// userID and establishes the friendship. A pending request in the opposite
// direction is confirmed as well.
func (s *Service) ConfirmFriendRequest(ctx context.Context, userID, requesterID string) (err error) {
	ctx, done := s.begin(ctx, opConfirmRequest, slog.String("user_id", userID), slog.String("requester_id", requesterID))
	defer func() { done(err) }()

	err = s.store.InTx(ctx, func(tx Tx) error {
		if err := s.resolvePair(ctx, tx, userID, requesterID); err != nil {
			return err
		}
		received, err := unresolvedRequest(ctx, tx, requesterID, userID)
		if err != nil {
			return err
		}

		now := s.now()
		if err := tx.UpdateRequestStatus(ctx, received.ID, models.FriendRequestConfirmed, now); err != nil {
			return storeErr(err)
		}

		sent, err := tx.FindRequests(ctx, userID, requesterID)
		if err != nil {
			return storeErr(err)
		}
		if reverse, ok := firstUnresolved(sent); ok {
			if err := tx.UpdateRequestStatus(ctx, reverse.ID, models.FriendRequestConfirmed, now); err != nil {
				return storeErr(err)
			}
		}

		return storeErr(tx.SetSymmetricEdge(ctx, userID, requesterID, now))
	})
	if err == nil {
		s.invalidate(ctx, userID, requesterID)
	}
	return storeErr(err)
}

// RefuseFriendRequest rejects the unresolved request from requesterID to
// userID. A pending request in the opposite direction is deleted.
func (s *Service) RefuseFriendRequest(ctx context.Context, userID, requesterID string) (err error) {
	ctx, done := s.begin(ctx, opRefuseRequest, slog.String("user_id", userID), slog.String("requester_id", requesterID))
	defer func() { done(err) }()

	err = s.store.InTx(ctx, func(tx Tx) error {
		if err := s.resolvePair(ctx, tx, userID, requesterID); err != nil {
			return err
		}
		received, err := unresolvedRequest(ctx, tx, requesterID, userID)
		if err != nil {
			return err
		}

		sent, err := tx.FindRequests(ctx, userID, requesterID)
		if err != nil {
			return storeErr(err)
		}
		if reverse, ok := firstUnresolved(sent); ok {
			if err := tx.DeleteRequest(ctx, reverse.ID); err != nil {
				return storeErr(err)
			}
		}

		return storeErr(tx.UpdateRequestStatus(ctx, received.ID, models.FriendRequestRefused, s.now()))
	})
	return storeErr(err)
}

// DeleteFriendRequestSent withdraws the unresolved request userID sent to newFriendID.
func (s *Service) DeleteFriendRequestSent(ctx context.Context, userID, newFriendID string) (err error) {
	ctx, done := s.begin(ctx, opWithdrawSent, slog.String("user_id", userID), slog.String("new_friend_id", newFriendID))
	defer func() { done(err) }()

	err = s.store.InTx(ctx, func(tx Tx) error {
		if _, err := s.resolve(ctx, tx, userID); err != nil {
			return err
		}
		if newFriendID != userID {
			if err := tx.LockUsers(ctx, userID, newFriendID); err != nil {
				return storeErr(err)
			}
		}
		sent, err := unresolvedRequest(ctx, tx, userID, newFriendID)
		if err != nil {
			return err
		}
		return storeErr(tx.DeleteRequest(ctx, sent.ID))
	})
	return storeErr(err)
}

// ListReceivedRequests returns every request addressed to userID, any status.
func (s *Service) ListReceivedRequests(ctx context.Context, userID string) (requests []models.FriendRequest, err error) {
	ctx, done := s.begin(ctx, opListReceived, slog.String("user_id", userID))
	defer func() { done(err) }()

	err = s.store.InTx(ctx, func(tx Tx) error {
		if _, err := s.resolve(ctx, tx, userID); err != nil {
			return err
		}
		list, err := tx.ListReceivedRequests(ctx, userID)
		requests = list
		return storeErr(err)
	})
	return requests, storeErr(err)
}

// ListSentRequests returns every request userID has sent, any status.
func (s *Service) ListSentRequests(ctx context.Context, userID string) (requests []models.FriendRequest, err error) {
	ctx, done := s.begin(ctx, opListSent, slog.String("user_id", userID))
	defer func() { done(err) }()

	err = s.store.InTx(ctx, func(tx Tx) error {
		if _, err := s.resolve(ctx, tx, userID); err != nil {
			return err
		}
		list, err := tx.ListSentRequests(ctx, userID)
		requests = list
		return storeErr(err)
	})
	return requests, storeErr(err)
}

// begin opens a logging span for op and returns a completion func that logs
// the outcome and reports it to the recorder.
func (s *Service) begin(ctx context.Context, op string, attrs ...slog.Attr) (context.Context, func(error)) {
	ctx, span := logging.StartSpan(ctx, "friends."+op)
	start := time.Now()
	logger := logging.FromContext(ctx)

	return ctx, func(err error) {
		kind := Kind(err)
		args := make([]any, 0, len(attrs)+3)
		for _, a := range attrs {
			args = append(args, a)
		}
		args = append(args, slog.String("op", op), slog.String("kind", kind))

		switch {
		case err == nil:
			logger.Info("friend operation succeeded", args...)
		case kind == "store_error" || kind == "unknown":
			logger.Error("friend operation failed", append(args, slog.Any("error", err))...)
		default:
			logger.Warn("friend operation rejected", append(args, slog.String("reason", err.Error()))...)
		}

		if s.recorder != nil {
			s.recorder.Observe(op, kind, time.Since(start))
		}
		span.End()
	}
}

func (s *Service) resolve(ctx context.Context, tx Tx, userID string) (models.User, error) {
	user, ok, err := tx.FindUser(ctx, userID)
	if err != nil {
		return models.User{}, storeErr(err)
	}
	if !ok {
		return models.User{}, fmt.Errorf("%w: id %s", ErrUserNotFound, userID)
	}
	return user, nil
}

// resolvePair locks both users for the rest of the transaction and checks
// that they exist.
func (s *Service) resolvePair(ctx context.Context, tx Tx, a, b string) error {
	if err := tx.LockUsers(ctx, a, b); err != nil {
		return storeErr(err)
	}
	if _, err := s.resolve(ctx, tx, a); err != nil {
		return err
	}
	_, err := s.resolve(ctx, tx, b)
	return err
}

func (s *Service) invalidate(ctx context.Context, userIDs ...string) {
	if s.cache == nil {
		return
	}
	s.cache.Invalidate(ctx, userIDs...)
}

func edges(ctx context.Context, tx Tx, a, b string) (forward, reverse bool, err error) {
	if forward, err = tx.HasEdge(ctx, a, b); err != nil {
		return false, false, storeErr(err)
	}
	if reverse, err = tx.HasEdge(ctx, b, a); err != nil {
		return false, false, storeErr(err)
	}
	return forward, reverse, nil
}

// unresolvedRequest finds the SENT request from requester to newFriend,
// distinguishing a missing request from one already processed.
func unresolvedRequest(ctx context.Context, tx Tx, requester, newFriend string) (models.FriendRequest, error) {
	requests, err := tx.FindRequests(ctx, requester, newFriend)
	if err != nil {
		return models.FriendRequest{}, storeErr(err)
	}
	if len(requests) == 0 {
		return models.FriendRequest{}, fmt.Errorf("%w: request from %s to %s doesn't exist", ErrRequestNotFound, requester, newFriend)
	}
	request, ok := firstUnresolved(requests)
	if !ok {
		return models.FriendRequest{}, fmt.Errorf("%w: request from %s to %s has already been processed", ErrRequestNotFound, requester, newFriend)
	}
	return request, nil
}

func firstUnresolved(requests []models.FriendRequest) (models.FriendRequest, bool) {
	for _, r := range requests {
		if r.Status.Unresolved() {
			return r, true
		}
	}
	return models.FriendRequest{}, false
}

// storeErr tags an error coming back from the store. Domain errors that a
// store chose to return are passed through.
func storeErr(err error) error {
	if err == nil || Kind(err) != "unknown" {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStore, err)
}
