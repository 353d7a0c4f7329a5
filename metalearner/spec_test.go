package metalearner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcastOrMap(t *testing.T) {
	names := []string{"a", "b", "c"}

	t.Run("broadcast only", func(t *testing.T) {
		got := broadcastOrMap(7, nil, names)
		assert.Equal(t, map[string]int{"a": 7, "b": 7, "c": 7}, got)
	})

	t.Run("partial map overrides", func(t *testing.T) {
		got := broadcastOrMap(7, map[string]int{"b": 3}, names)
		assert.Equal(t, map[string]int{"a": 7, "b": 3, "c": 7}, got)
	})

	t.Run("entries outside the slot names are ignored", func(t *testing.T) {
		got := broadcastOrMap(1, map[string]int{"z": 9}, names)
		assert.Equal(t, map[string]int{"a": 1, "b": 1, "c": 1}, got)
	})
}

func TestSlotSeed(t *testing.T) {
	assert.Equal(t, slotSeed(42, "outcome_model", 0), slotSeed(42, "outcome_model", 0))
	assert.NotEqual(t, slotSeed(42, "outcome_model", 0), slotSeed(42, "propensity_model", 0))
	assert.NotEqual(t, slotSeed(42, "outcome_model", 0), slotSeed(42, "outcome_model", 1))
	assert.NotEqual(t, slotSeed(42, "outcome_model", 0), slotSeed(43, "outcome_model", 0))
}

func TestParamsSampleWeight(t *testing.T) {
	t.Run("absent", func(t *testing.T) {
		p := Params{"max_depth": 3}
		w, rest, err := p.sampleWeight()
		require.NoError(t, err)
		assert.Nil(t, w)
		assert.Equal(t, p, rest)
	})

	t.Run("split off", func(t *testing.T) {
		p := Params{SampleWeightKey: []float64{1, 2}, "max_depth": 3}
		w, rest, err := p.sampleWeight()
		require.NoError(t, err)
		assert.Equal(t, []float64{1, 2}, w)
		assert.Equal(t, Params{"max_depth": 3}, rest)
	})

	t.Run("wrong type", func(t *testing.T) {
		p := Params{SampleWeightKey: "not a slice"}
		_, _, err := p.sampleWeight()
		assert.Error(t, err)
	})
}

func TestFitParamsQualified(t *testing.T) {
	slots := RLearnerSlots()

	t.Run("nil receiver broadcasts nil", func(t *testing.T) {
		var fp *FitParams
		nuisance, treatment := fp.qualified(slots)
		assert.Len(t, nuisance, 2)
		assert.Len(t, treatment, 1)
		assert.Nil(t, nuisance[PropensityModel])
		assert.Nil(t, nuisance[OutcomeModel])
		assert.Nil(t, treatment[TreatmentModel])
	})

	t.Run("flat broadcasts to every slot", func(t *testing.T) {
		flat := Params{"n_estimators": 50}
		nuisance, treatment := (&FitParams{Flat: flat}).qualified(slots)
		assert.Equal(t, flat, nuisance[PropensityModel])
		assert.Equal(t, flat, nuisance[OutcomeModel])
		assert.Equal(t, flat, treatment[TreatmentModel])
	})

	t.Run("nested addresses slots by name", func(t *testing.T) {
		fp := &FitParams{
			Nuisance:  map[string]Params{OutcomeModel: {"a": 1}},
			Treatment: map[string]Params{TreatmentModel: {"b": 2}},
		}
		nuisance, treatment := fp.qualified(slots)
		assert.Equal(t, Params{"a": 1}, nuisance[OutcomeModel])
		assert.Nil(t, nuisance[PropensityModel], "unmentioned slots get no params")
		assert.Equal(t, Params{"b": 2}, treatment[TreatmentModel])
	})

	t.Run("nested form ignores flat", func(t *testing.T) {
		fp := &FitParams{
			Flat:     Params{"ignored": true},
			Nuisance: map[string]Params{},
		}
		nuisance, _ := fp.qualified(slots)
		assert.Nil(t, nuisance[OutcomeModel])
	})
}
