package model_test

import (
	"testing"

	"github.com/okian/glucoscore/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestObservationFrom(t *testing.T) {
	Convey("Given validated field values", t, func() {
		values := map[string]float64{
			model.FieldAvgGlucose: 110,
			model.FieldGlucoseSD:  12.5,
			model.FieldDifficulty: 4,
			model.FieldScore:      81,
		}

		Convey("When building an observation", func() {
			o := model.ObservationFrom(values)

			Convey("Then every field should be copied and identity left unset", func() {
				So(o.ID, ShouldEqual, 0)
				So(o.CreatedAt.IsZero(), ShouldBeTrue)
				So(o.AvgGlucose, ShouldEqual, 110)
				So(o.GlucoseSD, ShouldEqual, 12.5)
				So(o.Difficulty, ShouldEqual, 4)
				So(o.Score, ShouldEqual, 81)
			})

			Convey("And its conditions should match ConditionsFrom", func() {
				So(o.Conditions(), ShouldResemble, model.ConditionsFrom(values))
			})
		})
	})
}
