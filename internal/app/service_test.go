package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/okian/glucoscore/internal/adapters/repository"
	service "github.com/okian/glucoscore/internal/app"
	"github.com/okian/glucoscore/internal/domain/dedupe"
	"github.com/okian/glucoscore/internal/domain/model"
	"github.com/okian/glucoscore/internal/domain/prediction"
	"github.com/okian/glucoscore/internal/domain/validate"
	"github.com/okian/glucoscore/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	// Initialize logging for tests
	err := logger.Init()
	if err != nil {
		panic(err)
	}
}

func entry(avg, sd, diff, score float64) map[string]any {
	return map[string]any{
		"avg_glucose": avg,
		"glucose_sd":  sd,
		"difficulty":  diff,
		"score":       score,
	}
}

func conditions(avg, sd, diff float64) map[string]any {
	return map[string]any{
		"avg_glucose": avg,
		"glucose_sd":  sd,
		"difficulty":  diff,
	}
}

func startedService(opts ...service.Option) *service.Service {
	svc := service.New(opts...)
	So(svc.Start(context.Background()), ShouldBeNil)
	return svc
}

func TestService_New(t *testing.T) {
	Convey("Given a new service with default options", t, func() {
		svc := service.New()

		Convey("Then it should have sensible defaults", func() {
			So(svc, ShouldNotBeNil)
			stats := svc.GetStats()
			So(stats["started"], ShouldEqual, false)
			So(stats["dedupeSize"], ShouldEqual, 10000)
			So(stats["maxTrainingRows"], ShouldEqual, 0)
		})
	})

	Convey("Given a new service with custom options", t, func() {
		svc := service.New(
			service.WithDedupeSize(25),
			service.WithMaxTrainingRows(100),
			service.WithLogger(logger.Get()),
		)

		Convey("Then the options should be applied", func() {
			stats := svc.GetStats()
			So(stats["dedupeSize"], ShouldEqual, 25)
			So(stats["maxTrainingRows"], ShouldEqual, 100)
		})
	})
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a new service", t, func() {
		svc := service.New()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		Convey("When it is used before Start", func() {
			_, _, recErr := svc.Record(ctx, entry(100, 10, 5, 70), "")
			_, predErr := svc.Predict(ctx, conditions(100, 10, 5))
			_, listErr := svc.Observations(ctx)

			Convey("Then every operation should fail with ErrNotStarted", func() {
				So(errors.Is(recErr, service.ErrNotStarted), ShouldBeTrue)
				So(errors.Is(predErr, service.ErrNotStarted), ShouldBeTrue)
				So(errors.Is(listErr, service.ErrNotStarted), ShouldBeTrue)
			})
		})

		Convey("When starting and stopping the service", func() {
			So(svc.Start(ctx), ShouldBeNil)
			So(svc.Start(ctx), ShouldBeNil)
			So(svc.GetStats()["started"], ShouldEqual, true)
			So(svc.GetStats()["observations"], ShouldEqual, 0)

			svc.Stop()
			svc.Stop()

			Convey("Then it should be marked as stopped", func() {
				So(svc.GetStats()["started"], ShouldEqual, false)
			})
		})

		Convey("When an injected store is used", func() {
			store := repository.NewMemoryStore()
			svc := service.New(service.WithStore(store))
			So(svc.Start(ctx), ShouldBeNil)
			svc.Stop()

			Convey("Then Stop should leave it open", func() {
				_, err := store.Count(ctx)
				So(err, ShouldBeNil)
			})
		})
	})
}

func TestService_Record(t *testing.T) {
	Convey("Given a started service", t, func() {
		svc := startedService()
		defer svc.Stop()
		ctx := context.Background()

		Convey("When recording a valid observation", func() {
			o, dup, err := svc.Record(ctx, entry(110, 12, 6, 78), "")

			Convey("Then it should be stored", func() {
				So(err, ShouldBeNil)
				So(dup, ShouldBeFalse)
				So(o.ID, ShouldBeGreaterThan, 0)
				So(o.Score, ShouldEqual, 78)

				rows, err := svc.Observations(ctx)
				So(err, ShouldBeNil)
				So(rows, ShouldHaveLength, 1)
				So(rows[0].ID, ShouldEqual, o.ID)
			})
		})

		Convey("When recording numeric strings", func() {
			o, _, err := svc.Record(ctx, map[string]any{
				"avg_glucose": "120.5",
				"glucose_sd":  "0",
				"difficulty":  "10",
				"score":       "100",
			}, "")

			Convey("Then they should be parsed", func() {
				So(err, ShouldBeNil)
				So(o.AvgGlucose, ShouldEqual, 120.5)
				So(o.Difficulty, ShouldEqual, 10)
			})
		})

		Convey("When recording an invalid observation", func() {
			_, _, err := svc.Record(ctx, map[string]any{
				"avg_glucose": 0,
				"glucose_sd":  -1,
				"difficulty":  5,
			}, "")

			Convey("Then every violated field should be reported", func() {
				var verrs validate.Errors
				So(errors.As(err, &verrs), ShouldBeTrue)
				So(verrs, ShouldContainKey, "avg_glucose")
				So(verrs, ShouldContainKey, "glucose_sd")
				So(verrs, ShouldContainKey, "score")
				So(verrs, ShouldNotContainKey, "difficulty")
			})

			Convey("And nothing should be stored", func() {
				rows, _ := svc.Observations(ctx)
				So(rows, ShouldBeEmpty)
			})
		})

		Convey("When the same idempotency key is replayed", func() {
			first, dup1, err1 := svc.Record(ctx, entry(100, 10, 5, 70), "key-1")
			second, dup2, err2 := svc.Record(ctx, entry(100, 10, 5, 70), "key-1")

			Convey("Then the first observation should be returned", func() {
				So(err1, ShouldBeNil)
				So(err2, ShouldBeNil)
				So(dup1, ShouldBeFalse)
				So(dup2, ShouldBeTrue)
				So(second.ID, ShouldEqual, first.ID)

				rows, _ := svc.Observations(ctx)
				So(rows, ShouldHaveLength, 1)
				So(svc.GetStats()["idempotencyKeys"], ShouldEqual, int64(1))
			})
		})
	})
}

// failingStore fails every write and read.
type failingStore struct {
	repository.Store
	err error
}

func (f failingStore) Append(context.Context, model.Observation) (model.Observation, error) {
	return model.Observation{}, f.err
}

func (f failingStore) Snapshot(context.Context) ([]model.Observation, error) {
	return nil, f.err
}

func (f failingStore) Count(context.Context) (int, error) { return 0, f.err }

func (f failingStore) Close() error { return nil }

func TestService_StoreFailures(t *testing.T) {
	Convey("Given a service over a failing store", t, func() {
		boom := errors.New("disk on fire")
		svc := startedService(service.WithStore(failingStore{err: boom}))
		defer svc.Stop()
		ctx := context.Background()

		Convey("When recording", func() {
			_, _, err := svc.Record(ctx, entry(100, 10, 5, 70), "retry-me")

			Convey("Then the store error should propagate", func() {
				So(errors.Is(err, boom), ShouldBeTrue)
			})

			Convey("And the idempotency key should be released", func() {
				_, _, err := svc.Record(ctx, entry(100, 10, 5, 70), "retry-me")
				So(errors.Is(err, boom), ShouldBeTrue)
				So(errors.Is(err, dedupe.ErrInFlight), ShouldBeFalse)
			})
		})

		Convey("When predicting", func() {
			_, err := svc.Predict(ctx, conditions(100, 10, 5))

			Convey("Then the store error should propagate", func() {
				So(errors.Is(err, boom), ShouldBeTrue)
			})
		})
	})
}

// blockingStore holds Append until release is closed.
type blockingStore struct {
	*repository.MemoryStore
	entered chan struct{}
	release chan struct{}
}

func (b *blockingStore) Append(ctx context.Context, o model.Observation) (model.Observation, error) {
	close(b.entered)
	<-b.release
	return b.MemoryStore.Append(ctx, o)
}

func TestService_InFlight(t *testing.T) {
	Convey("Given a write blocked inside the store", t, func() {
		store := &blockingStore{
			MemoryStore: repository.NewMemoryStore(),
			entered:     make(chan struct{}),
			release:     make(chan struct{}),
		}
		svc := startedService(service.WithStore(store))
		defer svc.Stop()
		ctx := context.Background()

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = svc.Record(ctx, entry(100, 10, 5, 70), "slow")
		}()
		<-store.entered

		Convey("When the same key arrives", func() {
			_, _, err := svc.Record(ctx, entry(100, 10, 5, 70), "slow")
			close(store.release)
			wg.Wait()

			Convey("Then it should be rejected as in flight", func() {
				So(errors.Is(err, dedupe.ErrInFlight), ShouldBeTrue)
			})
		})
	})
}

type constantPredictor struct{ score float64 }

func (c constantPredictor) Predict(_ model.Conditions, history []model.Observation) prediction.Result {
	return prediction.Result{
		PredictedScore: c.score,
		Model:          prediction.Model{Type: "constant", NTrainingRows: len(history)},
		Notes:          []string{},
	}
}

func TestService_Predict(t *testing.T) {
	Convey("Given a started service", t, func() {
		ctx := context.Background()

		Convey("When predicting with invalid conditions", func() {
			svc := startedService()
			defer svc.Stop()
			_, err := svc.Predict(ctx, map[string]any{"avg_glucose": "abc", "glucose_sd": 1, "difficulty": 11})

			Convey("Then field errors should be returned", func() {
				var verrs validate.Errors
				So(errors.As(err, &verrs), ShouldBeTrue)
				So(verrs["avg_glucose"], ShouldEqual, "Average glucose must be a number.")
				So(verrs["difficulty"], ShouldEqual, "Difficulty must be between 1 and 10.")
				So(verrs, ShouldHaveLength, 2)
			})
		})

		Convey("When a rolling window is configured", func() {
			svc := startedService(service.WithMaxTrainingRows(3))
			defer svc.Stop()
			for _, score := range []float64{10, 20, 30, 40, 50} {
				_, _, err := svc.Record(ctx, entry(100, 10, 5, score), "")
				So(err, ShouldBeNil)
			}

			res, err := svc.Predict(ctx, conditions(100, 10, 5))

			Convey("Then only the most recent rows should be used", func() {
				So(err, ShouldBeNil)
				So(res.Model.NTrainingRows, ShouldEqual, 3)
				// Identical predictors: the min-norm fit predicts the window mean.
				So(res.PredictedScore, ShouldAlmostEqual, 40, 0.01)
			})
		})

		Convey("When a custom predictor is injected", func() {
			svc := startedService(service.WithPredictor(constantPredictor{score: 42}))
			defer svc.Stop()
			res, err := svc.Predict(ctx, conditions(100, 10, 5))

			Convey("Then it should be used", func() {
				So(err, ShouldBeNil)
				So(res.PredictedScore, ShouldEqual, 42)
				So(res.Model.Type, ShouldEqual, "constant")
			})
		})
	})
}
