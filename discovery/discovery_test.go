package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	relayA = "/ip4/10.0.0.1/tcp/4001/p2p/12D3KooWRF2bz3KDRPvBs1FASRDRk7BfdYc1RUcfwKsz7UBEu7mL"
	relayB = "/ip4/10.0.0.2/udp/4001/quic-v1"
)

func lookupFrom(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		input string
		want  Mode
	}{
		{"", Shuttle()},
		{"full", Full()},
		{"FULL", Full()},
		{"shuttle", Shuttle()},
		{"disable", Disabled()},
		{"disabled", Disabled()},
		{"fixed:" + relayB, FixedPoint(relayB)},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseMode(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseMode("gossip")
	assert.ErrorIs(t, err, ErrUnknownMode)

	_, err = ParseMode("fixed:")
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestModeTextRoundTrip(t *testing.T) {
	for _, m := range []Mode{Full(), Shuttle(), Disabled(), FixedPoint(relayB)} {
		text, err := m.MarshalText()
		require.NoError(t, err)

		var decoded Mode
		require.NoError(t, decoded.UnmarshalText(text))
		assert.Equal(t, m, decoded)
	}
}

func TestResolveFull(t *testing.T) {
	cfg, err := Resolve(Full(), nil)
	require.NoError(t, err)
	assert.Equal(t, KindDHT, cfg.Kind)
	assert.Empty(t, cfg.Addresses)
}

func TestResolveDisabled(t *testing.T) {
	cfg, err := Resolve(Disabled(), lookupFrom(map[string]string{ShuttleOverrideEnv: relayA}))
	require.NoError(t, err)
	assert.Equal(t, KindNone, cfg.Kind)
	assert.Empty(t, cfg.Addresses)
}

func TestResolveFixedPoint(t *testing.T) {
	cfg, err := Resolve(FixedPoint(relayB), nil)
	require.NoError(t, err)
	assert.Equal(t, KindRendezvous, cfg.Kind)
	assert.Equal(t, []string{relayB}, cfg.AddressStrings())

	_, err = Resolve(FixedPoint("not-a-multiaddr"), nil)
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestResolveShuttle(t *testing.T) {
	tests := []struct {
		name   string
		lookup LookupFunc
		want   []string
	}{
		{"no lookup", nil, DefaultShuttleAddresses},
		{"variable unset", lookupFrom(nil), DefaultShuttleAddresses},
		{"variable empty", lookupFrom(map[string]string{ShuttleOverrideEnv: ""}), DefaultShuttleAddresses},
		{"single override", lookupFrom(map[string]string{ShuttleOverrideEnv: relayA}), []string{relayA}},
		{
			"multiple overrides with whitespace",
			lookupFrom(map[string]string{ShuttleOverrideEnv: relayA + " , " + relayB}),
			[]string{relayA, relayB},
		},
		{
			"invalid entries dropped",
			lookupFrom(map[string]string{ShuttleOverrideEnv: "garbage," + relayB + ",,/nope"}),
			[]string{relayB},
		},
		{
			"all invalid falls back",
			lookupFrom(map[string]string{ShuttleOverrideEnv: "garbage,/nope"}),
			DefaultShuttleAddresses,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Resolve(Shuttle(), tt.lookup)
			require.NoError(t, err)
			assert.Equal(t, KindShuttle, cfg.Kind)
			assert.Equal(t, tt.want, cfg.AddressStrings())
		})
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	lookup := lookupFrom(map[string]string{ShuttleOverrideEnv: relayA + "," + relayB})
	first, err := Resolve(Shuttle(), lookup)
	require.NoError(t, err)
	second, err := Resolve(Shuttle(), lookup)
	require.NoError(t, err)
	assert.Equal(t, first.AddressStrings(), second.AddressStrings())
}

func TestResolveUnknownKind(t *testing.T) {
	_, err := Resolve(Mode{Kind: ModeKind(42)}, nil)
	assert.ErrorIs(t, err, ErrUnknownMode)
}
