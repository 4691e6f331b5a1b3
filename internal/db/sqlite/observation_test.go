package sqlite

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/thebtf/claude-mem-bridge/pkg/models"
)

// ObservationStoreSuite is a test suite for ObservationStore operations.
type ObservationStoreSuite struct {
	suite.Suite
	obsStore *ObservationStore
	store    *Store
	cleanup  func()
}

func (s *ObservationStoreSuite) SetupTest() {
	s.store, _, s.cleanup = testStore(s.T())
	s.obsStore = NewObservationStore(s.store)
}

func (s *ObservationStoreSuite) TearDownTest() {
	if s.cleanup != nil {
		s.cleanup()
	}
}

func TestObservationStoreSuite(t *testing.T) {
	suite.Run(t, new(ObservationStoreSuite))
}

func (s *ObservationStoreSuite) TestStoreObservation_RoundTrip() {
	ctx := context.Background()

	obs := models.NewObservation("sess-1", "proj", models.ObsTypeFeature, "Added search")
	obs.Narrative = models.NullString("wired fts5")
	obs.Facts = models.JSONStringArray{"fact one", "fact two"}
	obs.Concepts = models.JSONStringArray{"how-it-works"}
	obs.FilesRead = models.JSONStringArray{"a.go"}

	id, err := s.obsStore.StoreObservation(ctx, obs)
	s.Require().NoError(err)
	s.Equal(id, obs.ID)

	got, err := s.obsStore.GetObservationByID(ctx, id)
	s.Require().NoError(err)
	s.Require().NotNil(got)
	s.Equal("sess-1", got.SDKSessionID)
	s.Equal("proj", got.Project.String)
	s.Equal("feature", got.Type.String)
	s.Equal("Added search", got.Title.String)
	s.False(got.Subtitle.Valid)
	s.Equal(models.JSONStringArray{"fact one", "fact two"}, got.Facts)
	s.Equal(models.JSONStringArray{"a.go"}, got.FilesRead)
	s.Nil(got.FilesModified)
	s.Equal(obs.CreatedAtEpoch, got.CreatedAtEpoch)
}

func (s *ObservationStoreSuite) TestStoreObservation_FillsTimestamps() {
	ctx := context.Background()

	obs := &models.Observation{SDKSessionID: "s", Title: models.NullString("t")}
	_, err := s.obsStore.StoreObservation(ctx, obs)
	s.Require().NoError(err)

	s.NotEmpty(obs.CreatedAt)
	s.True(obs.CreatedAtEpoch.Valid)
}

func (s *ObservationStoreSuite) TestGetObservationByID_NotFound() {
	got, err := s.obsStore.GetObservationByID(context.Background(), 424242)
	s.NoError(err)
	s.Nil(got)
}

func (s *ObservationStoreSuite) TestUpdateObservation_Missing() {
	err := s.obsStore.UpdateObservation(context.Background(), &models.Observation{ID: 999})
	s.ErrorIs(err, sql.ErrNoRows)
}

func (s *ObservationStoreSuite) TestGetObservationsByIDs_Order() {
	ctx := context.Background()
	ids := seed(s.T(), s.store,
		seedObservation{project: "p", title: "one", epoch: 100},
		seedObservation{project: "p", title: "two", epoch: 300},
		seedObservation{project: "p", title: "three", epoch: 200},
	)

	tests := []struct {
		name    string
		orderBy string
		limit   int
		want    []int64
	}{
		{"newest first by default", "", 0, []int64{ids[1], ids[2], ids[0]}},
		{"oldest first", "date_asc", 0, []int64{ids[0], ids[2], ids[1]}},
		{"limit", "date_desc", 2, []int64{ids[1], ids[2]}},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			got, err := s.obsStore.GetObservationsByIDs(ctx, ids, tt.orderBy, tt.limit)
			s.Require().NoError(err)
			gotIDs := make([]int64, 0, len(got))
			for _, o := range got {
				gotIDs = append(gotIDs, o.ID)
			}
			s.Equal(tt.want, gotIDs)
		})
	}

	none, err := s.obsStore.GetObservationsByIDs(ctx, nil, "", 0)
	s.NoError(err)
	s.Nil(none)
}

func (s *ObservationStoreSuite) TestRecentAndCount() {
	ctx := context.Background()
	seed(s.T(), s.store,
		seedObservation{project: "a", title: "1", epoch: 1},
		seedObservation{project: "b", title: "2", epoch: 2},
		seedObservation{project: "a", title: "3", epoch: 3},
	)

	recent, err := s.obsStore.GetRecentObservations(ctx, "a", 10)
	s.Require().NoError(err)
	s.Require().Len(recent, 2)
	s.Equal("3", recent[0].Title.String)

	all, err := s.obsStore.GetRecentObservations(ctx, "", 10)
	s.Require().NoError(err)
	s.Len(all, 3)

	count, err := s.obsStore.GetObservationCount(ctx, "b")
	s.Require().NoError(err)
	s.Equal(1, count)
}

func (s *ObservationStoreSuite) TestCleanupOldObservations() {
	ctx := context.Background()
	ids := seed(s.T(), s.store,
		seedObservation{project: "a", title: "old", epoch: 1},
		seedObservation{project: "a", title: "mid", epoch: 2},
		seedObservation{project: "a", title: "new", epoch: 3},
		seedObservation{project: "b", title: "other", epoch: 0},
	)

	deleted, err := s.obsStore.CleanupOldObservations(ctx, "a", 2)
	s.Require().NoError(err)
	s.Equal([]int64{ids[0]}, deleted)

	count, err := s.obsStore.GetObservationCount(ctx, "")
	s.Require().NoError(err)
	s.Equal(3, count)

	deleted, err = s.obsStore.CleanupOldObservations(ctx, "a", 2)
	s.Require().NoError(err)
	s.Nil(deleted)
}

func (s *ObservationStoreSuite) TestDeleteObservations_Empty() {
	n, err := s.obsStore.DeleteObservations(context.Background(), nil)
	s.NoError(err)
	s.Zero(n)
}
