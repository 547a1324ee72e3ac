package validate_test

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/okian/glucoscore/internal/domain/validate"
	. "github.com/smartystreets/goconvey/convey"
)

func TestObservationSchema(t *testing.T) {
	Convey("Given the observation schema", t, func() {
		Convey("When every field is in range", func() {
			parsed, errs := validate.Observation.Validate(map[string]any{
				"avg_glucose": 100.0,
				"glucose_sd":  0.0,
				"difficulty":  10.0,
				"score":       "0",
			})

			Convey("Then there should be no errors and all values parsed", func() {
				So(errs, ShouldBeNil)
				So(parsed, ShouldResemble, map[string]float64{
					"avg_glucose": 100,
					"glucose_sd":  0,
					"difficulty":  10,
					"score":       0,
				})
			})
		})

		Convey("When the body is empty", func() {
			parsed, errs := validate.Observation.Validate(map[string]any{})

			Convey("Then every field should report that it must be a number", func() {
				So(parsed, ShouldBeEmpty)
				So(errs, ShouldResemble, validate.Errors{
					"avg_glucose": "Average glucose must be a number.",
					"glucose_sd":  "Glucose SD must be a number.",
					"difficulty":  "Difficulty must be a number.",
					"score":       "Score must be a number.",
				})
			})
		})

		Convey("When every field is out of range", func() {
			_, errs := validate.Observation.Validate(map[string]any{
				"avg_glucose": 0.0,
				"glucose_sd":  -0.1,
				"difficulty":  11.0,
				"score":       100.5,
			})

			Convey("Then the range messages should be reported per field", func() {
				So(errs, ShouldResemble, validate.Errors{
					"avg_glucose": "Average glucose must be > 0.",
					"glucose_sd":  "Glucose SD must be >= 0.",
					"difficulty":  "Difficulty must be between 1 and 10.",
					"score":       "Score must be between 0 and 100.",
				})
			})
		})

		Convey("When only one field is wrong", func() {
			parsed, errs := validate.Observation.Validate(map[string]any{
				"avg_glucose": 120.0,
				"glucose_sd":  15.0,
				"difficulty":  0.5,
				"score":       77.0,
			})

			Convey("Then only that field should be reported and the rest parsed", func() {
				So(len(errs), ShouldEqual, 1)
				So(errs["difficulty"], ShouldEqual, "Difficulty must be between 1 and 10.")
				So(parsed, ShouldContainKey, "avg_glucose")
				So(parsed, ShouldNotContainKey, "difficulty")
			})
		})

		Convey("When values have unusual types", func() {
			_, errs := validate.Observation.Validate(map[string]any{
				"avg_glucose": true,
				"glucose_sd":  "abc",
				"difficulty":  json.Number("5"),
				"score":       math.NaN(),
			})

			Convey("Then booleans, garbage strings and NaN should be rejected", func() {
				So(errs["avg_glucose"], ShouldEqual, "Average glucose must be a number.")
				So(errs["glucose_sd"], ShouldEqual, "Glucose SD must be a number.")
				So(errs, ShouldNotContainKey, "difficulty")
				So(errs["score"], ShouldEqual, "Score must be a number.")
			})
		})

		Convey("When formatting the error", func() {
			_, errs := validate.Observation.Validate(map[string]any{"avg_glucose": 1.0, "glucose_sd": 1.0})

			Convey("Then fields should appear in sorted order", func() {
				So(errs.Error(), ShouldEqual,
					"validation failed: difficulty: Difficulty must be a number.; score: Score must be a number.")
			})
		})
	})
}

func TestConditionsSchema(t *testing.T) {
	Convey("Given the conditions schema", t, func() {
		Convey("When a score is supplied as well", func() {
			parsed, errs := validate.Conditions.Validate(map[string]any{
				"avg_glucose": 130.0,
				"glucose_sd":  20.0,
				"difficulty":  6.0,
				"score":       "not even a number",
			})

			Convey("Then the score should be ignored", func() {
				So(errs, ShouldBeNil)
				So(len(parsed), ShouldEqual, 3)
				So(parsed, ShouldNotContainKey, "score")
			})
		})

		Convey("When inspecting the table", func() {
			Convey("Then it should list three fields in order", func() {
				fields := validate.Conditions.Fields()
				So(validate.Conditions.Name(), ShouldEqual, "conditions")
				So(len(fields), ShouldEqual, 3)
				So(fields[0].Name, ShouldEqual, "avg_glucose")
				So(fields[2].Name, ShouldEqual, "difficulty")
			})
		})
	})
}

func TestCustomSchema(t *testing.T) {
	Convey("Given a schema with mixed exclusive bounds", t, func() {
		s := validate.NewSchema("custom", validate.Field{
			Name:  "ratio",
			Label: "Ratio",
			Min:   validate.Exclusive(0),
			Max:   validate.Inclusive(1),
		}, validate.Field{
			Name:  "cap",
			Label: "Cap",
			Max:   validate.Exclusive(5),
		})

		Convey("When values sit on the bounds", func() {
			_, errs := s.Validate(map[string]any{"ratio": 0.0, "cap": 5.0})

			Convey("Then the messages should describe the operators", func() {
				So(errs["ratio"], ShouldEqual, "Ratio must be > 0 and <= 1.")
				So(errs["cap"], ShouldEqual, "Cap must be < 5.")
			})
		})

		Convey("When values are inside", func() {
			parsed, errs := s.Validate(map[string]any{"ratio": 1.0, "cap": 4.99})

			Convey("Then they should pass", func() {
				So(errs, ShouldBeNil)
				So(parsed["ratio"], ShouldEqual, 1.0)
			})
		})
	})
}
