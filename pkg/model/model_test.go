package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVolume_Equal(t *testing.T) {
	tests := []struct {
		name string
		a, b Volume
		want bool
	}{
		{"same number", "30", "30", true},
		{"numeric forms", "30", "30.0", true},
		{"different numbers", "30", "31", false},
		{"text", "loud", "loud", true},
		{"text vs number", "loud", "30", false},
		{"NaN equals itself", "NaN", "NaN", true},
		{"Inf equals itself", "Inf", "Inf", true},
		{"leading zero is text", "05", "5", false},
		{"leading zero repeated", "05", "05", true},
		{"exponent", "3e1", "30", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Equal(tt.b))
		})
	}
}

func TestVolume_JSON(t *testing.T) {
	b, err := json.Marshal(Profile{Volume: VolumeInt(50), Mute: MuteOff})
	require.NoError(t, err)
	assert.JSONEq(t, `{"vol":50,"mute":"Off"}`, string(b))

	b, err = json.Marshal(Profile{Volume: "max", Mute: MuteOn})
	require.NoError(t, err)
	assert.JSONEq(t, `{"vol":"max","mute":"On"}`, string(b))

	var m Memory
	require.NoError(t, json.Unmarshal([]byte(`{"currentDev":"X","battery":"80","profiles":{"X":{"vol":"42","mute":"On"},"Y":{"vol":7,"mute":"Off"}}}`), &m))
	assert.Equal(t, Volume("42"), m.Profiles["X"].Volume)
	assert.Equal(t, Volume("7"), m.Profiles["Y"].Volume)
}

func TestVolume_MarshalOnlyValidNumbers(t *testing.T) {
	tests := []struct {
		in   Volume
		want string
	}{
		{"50", `50`},
		{"-1", `-1`},
		{"0.5", `0.5`},
		{"1e2", `1e2`},
		{"05", `"05"`},
		{".5", `".5"`},
		{"NaN", `"NaN"`},
		{"Inf", `"Inf"`},
		{"1_0", `"1_0"`},
		{"0x1p-2", `"0x1p-2"`},
		{" 5", `" 5"`},
		{"", `""`},
	}

	for _, tt := range tests {
		t.Run(string(tt.in), func(t *testing.T) {
			b, err := json.Marshal(State{Volume: tt.in})
			require.NoError(t, err)
			assert.True(t, json.Valid(b))

			var got struct {
				Vol json.RawMessage `json:"vol"`
			}
			require.NoError(t, json.Unmarshal(b, &got))
			assert.Equal(t, tt.want, string(got.Vol))
		})
	}
}
