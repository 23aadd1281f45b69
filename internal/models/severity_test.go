package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeverityRank(t *testing.T) {
	assert.Equal(t, 0, SeverityCritical.Rank())
	assert.Equal(t, 1, SeverityHigh.Rank())
	assert.Equal(t, 2, SeverityMedium.Rank())
	assert.Equal(t, 3, SeverityLow.Rank())
	assert.Equal(t, 99, Severity("info").Rank())
}

func TestParseSeverity(t *testing.T) {
	tests := []struct {
		in      string
		want    Severity
		wantErr bool
	}{
		{"critical", SeverityCritical, false},
		{"HIGH", SeverityHigh, false},
		{" Medium ", SeverityMedium, false},
		{"low", SeverityLow, false},
		{"info", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSeverity(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, IsValidationError(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCategory(t *testing.T) {
	for _, c := range Categories() {
		got, err := ParseCategory(string(c))
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}
	_, err := ParseCategory("performance")
	assert.Error(t, err)
}

func TestEnumJSONRoundTrip(t *testing.T) {
	type pair struct {
		Severity Severity `json:"severity"`
		Category Category `json:"category"`
	}
	for _, s := range Severities() {
		for _, c := range Categories() {
			data, err := json.Marshal(pair{s, c})
			require.NoError(t, err)
			assert.JSONEq(t, `{"severity":"`+string(s)+`","category":"`+string(c)+`"}`, string(data))

			var back pair
			require.NoError(t, json.Unmarshal(data, &back))
			assert.Equal(t, pair{s, c}, back)
		}
	}
}

func TestSignalKeyIgnoresSeverity(t *testing.T) {
	a := Signal{Category: CategoryReliability, Severity: SeverityHigh, Resource: "pod/ns/a", Message: "m"}
	b := a
	b.Severity = SeverityLow
	assert.Equal(t, a.Key(), b.Key())
}
