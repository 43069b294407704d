package normalize

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimplifyPhoneNumber(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"dashes", "555-0100", "5550100"},
		{"international", "+1 (210) 379-2244", "+12103792244"},
		{"dots and slashes", "06.12/34:56", "06123456"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SimplifyPhoneNumber(tt.input).String())
		})
	}
}

func TestSimplifyPhoneNumber_FormattingVariantsCompareEqual(t *testing.T) {
	a := SimplifyPhoneNumber("555-0100")
	b := SimplifyPhoneNumber("555 01 00")
	assert.Equal(t, a.String(), b.String())
}

func TestSimplifyPhoneNumber_MapPosition(t *testing.T) {
	res := SimplifyPhoneNumber("(12) 3")
	require.Equal(t, "123", res.String())
	assert.Equal(t, 1, res.MapPosition(0))
	assert.Equal(t, 2, res.MapPosition(1))
	assert.Equal(t, 5, res.MapPosition(2))
	assert.Equal(t, 6, res.MapPosition(3))
	assert.Equal(t, 0, res.MapPosition(-1))
}

func TestNormalizeWithResult(t *testing.T) {
	assert.Equal(t, "elodie", NormalizeWithResult("Élodie", true).String())
	assert.Equal(t, "Elodie", NormalizeWithResult("Élodie", false).String())
	assert.Equal(t, "francois@example.org", NormalizeWithResult("François@Example.org", true).String())
}

func TestNormalizeWithResult_PositionsPointAtOriginalRunes(t *testing.T) {
	res := NormalizeWithResult("aé b", true)
	require.Equal(t, 4, res.Len())
	for i := 0; i < res.Len(); i++ {
		assert.Equal(t, i, res.MapPosition(i))
	}
	assert.Equal(t, []rune("ae b"), res.Codepoints())
}

func TestResult_MarshalJSON(t *testing.T) {
	data, err := json.Marshal(map[string]Result{"phone": SimplifyPhoneNumber("555-0100")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"phone":"5550100"}`, string(data))
}

func TestResult_UnmarshalJSON(t *testing.T) {
	var decoded map[string]Result
	require.NoError(t, json.Unmarshal([]byte(`{"phone":"5550100"}`), &decoded))

	res := decoded["phone"]
	assert.Equal(t, "5550100", res.String())
	assert.Equal(t, 7, res.Len())
	assert.Equal(t, 3, res.MapPosition(3))
	assert.Equal(t, 7, res.MapPosition(7))
}
