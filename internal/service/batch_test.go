package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"book_finder/internal/config"
	"book_finder/internal/domain"
	"book_finder/internal/service/mocks"
)

type BatchServiceTestSuite struct {
	suite.Suite
	ctrl *gomock.Controller

	searcher      *mocks.MockSearcher
	users         *mocks.MockUserStore
	books         *mocks.MockBookStore
	notifications *mocks.MockNotificationStore
	quota         *mocks.MockQuotaPurger
	txManager     *mocks.MockTransactionManager
	publisher     *mocks.MockPublisher

	service *BatchService
	cfg     config.BatchConfig
	now     time.Time
	logger  *slog.Logger
}

func (s *BatchServiceTestSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())

	s.searcher = mocks.NewMockSearcher(s.ctrl)
	s.users = mocks.NewMockUserStore(s.ctrl)
	s.books = mocks.NewMockBookStore(s.ctrl)
	s.notifications = mocks.NewMockNotificationStore(s.ctrl)
	s.quota = mocks.NewMockQuotaPurger(s.ctrl)
	s.txManager = mocks.NewMockTransactionManager(s.ctrl)
	s.publisher = mocks.NewMockPublisher(s.ctrl)

	s.cfg = config.BatchConfig{
		MinSearchInterval: 6 * time.Hour,
		RetentionDays:     30,
	}
	s.now = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	s.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	s.service = NewBatchService(
		s.searcher,
		s.users,
		s.books,
		s.notifications,
		s.quota,
		s.txManager,
		s.publisher,
		s.logger,
		s.cfg,
	)
	s.service.now = func() time.Time { return s.now }
}

func (s *BatchServiceTestSuite) TearDownTest() {
	s.ctrl.Finish()
}

func TestBatchServiceTestSuite(t *testing.T) {
	suite.Run(t, new(BatchServiceTestSuite))
}

func (s *BatchServiceTestSuite) passThroughTx() {
	s.txManager.EXPECT().WithTransaction(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, fn func(context.Context) error) error {
			return fn(ctx)
		},
	).AnyTimes()
}

func strPtr(v string) *string {
	return &v
}

func (s *BatchServiceTestSuite) TestRun_SearchesStoresAndPublishes() {
	ctx := context.Background()
	user := domain.User{ID: "u1", Email: "u1@example.com", DisplayName: "Reader", Notifications: true}
	book := domain.Book{ID: "b1", UserID: "u1", Title: "Dune", Author: strPtr("Frank Herbert")}

	used := domain.NewListing("Dune pb", "$5", "eBay", "https://ebay.test/1")
	used.Condition = "Used"
	listings := []domain.Listing{used, domain.NewListing("Dune hc", "$9", "Amazon", "https://amazon.test/1")}

	s.passThroughTx()
	s.users.EXPECT().ListNotifiable(ctx).Return([]domain.User{user}, nil)
	s.books.EXPECT().ListByUser(ctx, "u1").Return([]domain.Book{book}, nil)
	s.searcher.EXPECT().SearchAllPlatforms(ctx, domain.Query{BookTitle: "Dune", Author: "Frank Herbert"}).Return(listings, nil)

	s.notifications.EXPECT().InsertBatch(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, got []domain.Notification) error {
			s.Require().Len(got, 2)
			s.Equal("u1", got[0].UserID)
			s.Equal("b1", got[0].BookID)
			s.Equal("Dune", got[0].BookTitle)
			s.Equal("https://ebay.test/1", got[0].Link)
			s.Require().NotNil(got[0].Condition)
			s.Equal("Used", *got[0].Condition)
			s.Nil(got[1].Condition)
			s.Equal(s.now, got[1].CreatedAt)
			return nil
		},
	)
	s.books.EXPECT().MarkSearched(ctx, "b1", s.now).Return(nil)
	s.publisher.EXPECT().Publish(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, msg *domain.ListingMessage) error {
			s.Equal("u1@example.com", msg.Email)
			s.Equal("b1", msg.BookID)
			s.Len(msg.Listings, 2)
			return nil
		},
	)

	stats, err := s.service.Run(ctx)

	s.NoError(err)
	s.Equal(1, stats.Users)
	s.Equal(1, stats.Books)
	s.Equal(1, stats.Searched)
	s.Equal(2, stats.Listings)
	s.Equal(2, stats.Notifications)
	s.Equal(1, stats.Published)
	s.Equal(0, stats.Errors)
}

func (s *BatchServiceTestSuite) TestRun_SkipsRecentlySearchedBooks() {
	ctx := context.Background()
	recent := s.now.Add(-2 * time.Hour)
	stale := s.now.Add(-7 * time.Hour)

	s.passThroughTx()
	s.users.EXPECT().ListNotifiable(ctx).Return([]domain.User{{ID: "u1"}}, nil)
	s.books.EXPECT().ListByUser(ctx, "u1").Return([]domain.Book{
		{ID: "b1", Title: "Dune", LastSearched: &recent},
		{ID: "b2", Title: "Emma", LastSearched: &stale},
	}, nil)
	s.searcher.EXPECT().SearchAllPlatforms(ctx, domain.Query{BookTitle: "Emma"}).Return(nil, nil)
	s.books.EXPECT().MarkSearched(ctx, "b2", s.now).Return(nil)

	stats, err := s.service.Run(ctx)

	s.NoError(err)
	s.Equal(2, stats.Books)
	s.Equal(1, stats.Skipped)
	s.Equal(1, stats.Searched)
	s.Equal(0, stats.Published)
}

func (s *BatchServiceTestSuite) TestRun_NoResultsStillMarksSearched() {
	ctx := context.Background()

	s.passThroughTx()
	s.users.EXPECT().ListNotifiable(ctx).Return([]domain.User{{ID: "u1"}}, nil)
	s.books.EXPECT().ListByUser(ctx, "u1").Return([]domain.Book{{ID: "b1", Title: "Obscure"}}, nil)
	s.searcher.EXPECT().SearchAllPlatforms(ctx, gomock.Any()).Return([]domain.Listing{}, nil)
	s.books.EXPECT().MarkSearched(ctx, "b1", s.now).Return(nil)

	stats, err := s.service.Run(ctx)

	s.NoError(err)
	s.Equal(1, stats.Searched)
	s.Equal(0, stats.Notifications)
	s.Equal(0, stats.Published)
}

func (s *BatchServiceTestSuite) TestRun_BookFailureDoesNotStopBatch() {
	ctx := context.Background()

	s.passThroughTx()
	s.users.EXPECT().ListNotifiable(ctx).Return([]domain.User{{ID: "u1"}, {ID: "u2"}}, nil)
	s.books.EXPECT().ListByUser(ctx, "u1").Return(nil, errors.New("db timeout"))
	s.books.EXPECT().ListByUser(ctx, "u2").Return([]domain.Book{
		{ID: "b1", Title: "Dune"},
		{ID: "b2", Title: "Emma"},
	}, nil)

	s.searcher.EXPECT().SearchAllPlatforms(ctx, domain.Query{BookTitle: "Dune"}).Return(
		[]domain.Listing{domain.NewListing("Dune", "$5", "eBay", "https://ebay.test/1")}, nil,
	)
	s.notifications.EXPECT().InsertBatch(ctx, gomock.Any()).Return(errors.New("constraint violation"))

	s.searcher.EXPECT().SearchAllPlatforms(ctx, domain.Query{BookTitle: "Emma"}).Return(
		[]domain.Listing{domain.NewListing("Emma", "$3", "eBay", "https://ebay.test/2")}, nil,
	)
	s.notifications.EXPECT().InsertBatch(ctx, gomock.Any()).Return(nil)
	s.books.EXPECT().MarkSearched(ctx, "b2", s.now).Return(nil)
	s.publisher.EXPECT().Publish(ctx, gomock.Any()).Return(nil)

	stats, err := s.service.Run(ctx)

	s.NoError(err)
	s.Equal(2, stats.Errors)
	s.Equal(2, stats.Searched)
	s.Equal(1, stats.Notifications)
	s.Equal(1, stats.Published)
}

func (s *BatchServiceTestSuite) TestRun_PublishFailureCounted() {
	ctx := context.Background()

	s.passThroughTx()
	s.users.EXPECT().ListNotifiable(ctx).Return([]domain.User{{ID: "u1"}}, nil)
	s.books.EXPECT().ListByUser(ctx, "u1").Return([]domain.Book{{ID: "b1", Title: "Dune"}}, nil)
	s.searcher.EXPECT().SearchAllPlatforms(ctx, gomock.Any()).Return(
		[]domain.Listing{domain.NewListing("Dune", "$5", "eBay", "https://ebay.test/1")}, nil,
	)
	s.notifications.EXPECT().InsertBatch(ctx, gomock.Any()).Return(nil)
	s.books.EXPECT().MarkSearched(ctx, "b1", s.now).Return(nil)
	s.publisher.EXPECT().Publish(ctx, gomock.Any()).Return(errors.New("channel closed"))

	stats, err := s.service.Run(ctx)

	s.NoError(err)
	s.Equal(1, stats.Notifications)
	s.Equal(0, stats.Published)
	s.Equal(1, stats.Errors)
}

func (s *BatchServiceTestSuite) TestRun_ListUsersError() {
	ctx := context.Background()
	s.users.EXPECT().ListNotifiable(ctx).Return(nil, errors.New("connection refused"))

	stats, err := s.service.Run(ctx)

	s.Error(err)
	s.Nil(stats)
}

func (s *BatchServiceTestSuite) TestRun_CancelledBetweenUsers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.service.config.UserDelay = time.Hour

	s.users.EXPECT().ListNotifiable(ctx).Return([]domain.User{{ID: "u1"}, {ID: "u2"}}, nil)
	s.books.EXPECT().ListByUser(ctx, "u1").DoAndReturn(
		func(context.Context, string) ([]domain.Book, error) {
			cancel()
			return nil, nil
		},
	)

	stats, err := s.service.Run(ctx)

	s.ErrorIs(err, context.Canceled)
	s.Require().NotNil(stats)
	s.Equal(2, stats.Users)
	s.Equal(0, stats.Searched)
}

func (s *BatchServiceTestSuite) TestCleanup_PurgesNotificationsAndQuota() {
	ctx := context.Background()

	s.notifications.EXPECT().DeleteBefore(ctx, s.now.AddDate(0, 0, -30)).Return(int64(4), nil)
	s.quota.EXPECT().Purge(ctx, 30).Return(int64(2), nil)

	s.NoError(s.service.Cleanup(ctx))
}

func (s *BatchServiceTestSuite) TestCleanup_JoinsErrors() {
	ctx := context.Background()
	notifErr := errors.New("notifications locked")
	quotaErr := errors.New("quota locked")

	s.notifications.EXPECT().DeleteBefore(ctx, gomock.Any()).Return(int64(0), notifErr)
	s.quota.EXPECT().Purge(ctx, 30).Return(int64(0), quotaErr)

	err := s.service.Cleanup(ctx)

	s.ErrorIs(err, notifErr)
	s.ErrorIs(err, quotaErr)
}
