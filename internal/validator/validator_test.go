package validator

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// nestedPayload builds a complete nested-form submission with every vector
// at the given score and a shared rationale.
func nestedPayload(t *testing.T, score float64, rationale string) []byte {
	t.Helper()
	payload := map[string]map[string]map[string]any{}
	for tierKey, members := range tierMembers {
		payload[tierKey] = map[string]map[string]any{}
		for _, name := range members {
			payload[tierKey][name] = map[string]any{"score": score, "rationale": rationale}
		}
	}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return raw
}

func flatPayload(t *testing.T, score float64, rationale string) []byte {
	t.Helper()
	payload := map[string]any{"rationale": rationale}
	for _, members := range tierMembers {
		for _, name := range members {
			payload[name] = score
		}
	}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return raw
}

func TestParseNested(t *testing.T) {
	got, verr := ParseNested(nestedPayload(t, 0.7, "initial read of the codebase"))
	require.Nil(t, verr)
	assert.InDelta(t, 0.7, got.Vectors.Know, 1e-12)
	assert.InDelta(t, 0.7, got.Vectors.Uncertainty, 1e-12)
	assert.Equal(t, "initial read of the codebase", got.Rationale["know"])
	assert.Empty(t, got.Warnings)
}

func TestParseNestedMissingVector(t *testing.T) {
	payload := nestedPayload(t, 0.5, "r")
	var m map[string]map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(payload, &m))
	delete(m["foundation"], "know")
	raw, _ := json.Marshal(m)

	_, verr := ParseNested(raw)
	require.NotNil(t, verr)
	assert.Contains(t, verr.Error(), "know")
}

func TestParseNestedMissingTier(t *testing.T) {
	payload := nestedPayload(t, 0.5, "r")
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(payload, &m))
	delete(m, "uncertainty")
	raw, _ := json.Marshal(m)

	_, verr := ParseNested(raw)
	require.NotNil(t, verr)
	assert.Equal(t, "uncertainty", verr.Field)
}

func TestParseRejectsOutOfRange(t *testing.T) {
	_, verr := ParseNested(nestedPayload(t, 1.0000001, "r"))
	require.NotNil(t, verr)
	assert.Contains(t, verr.Reason, "out of range")

	_, verr = ParseNested(nestedPayload(t, -0.0000001, "r"))
	require.NotNil(t, verr)
}

func TestParseAcceptsExactBoundaries(t *testing.T) {
	for _, score := range []float64{0.0, 1.0} {
		_, verr := ParseNested(nestedPayload(t, score, "boundary"))
		assert.Nil(t, verr, fmt.Sprintf("score %v must be accepted", score))
	}
}

func TestParseRejectsEmptyRationale(t *testing.T) {
	_, verr := ParseNested(nestedPayload(t, 0.5, ""))
	require.NotNil(t, verr)
	assert.Contains(t, verr.Reason, "rationale")

	_, verr = ParseLegacyFlat(flatPayload(t, 0.5, ""))
	require.NotNil(t, verr)
	assert.Contains(t, verr.Reason, "rationale")
}

func TestLegacyFlatWarnsButNormalisesIdentically(t *testing.T) {
	nested, verr := ParseNested(nestedPayload(t, 0.42, "same rationale"))
	require.Nil(t, verr)
	flat, verr := ParseLegacyFlat(flatPayload(t, 0.42, "same rationale"))
	require.Nil(t, verr)

	assert.Equal(t, *nested.Vectors, *flat.Vectors, "both wire forms produce identical stored vectors")
	assert.Equal(t, nested.Rationale, flat.Rationale)
	assert.NotEmpty(t, flat.Warnings, "legacy form carries a deprecation warning")
}

func TestParseDispatch(t *testing.T) {
	got, verr := Parse(nestedPayload(t, 0.6, "nested"))
	require.Nil(t, verr)
	assert.Empty(t, got.Warnings)

	got, verr = Parse(flatPayload(t, 0.6, "flat"))
	require.Nil(t, verr)
	assert.NotEmpty(t, got.Warnings)

	_, verr = Parse([]byte(`not json`))
	require.NotNil(t, verr)
}

func TestLegacyFlatMissingVector(t *testing.T) {
	payload := map[string]any{"rationale": "r", "know": 0.5}
	raw, _ := json.Marshal(payload)
	_, verr := ParseLegacyFlat(raw)
	require.NotNil(t, verr)
	assert.Contains(t, verr.Reason, "missing required vector")
}
