package main

import (
	"bytes"
	"math/rand"
	"os"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type wireScenario struct {
	Name     string `yaml:"name"`
	Geometry struct {
		Top    int `yaml:"top"`
		Right  int `yaml:"right"`
		Bottom int `yaml:"bottom"`
		Left   int `yaml:"left"`
	} `yaml:"geometry"`
	Fill  string `yaml:"fill"`
	First string `yaml:"first"`
	Wire  string `yaml:"wire"`
}

func loadScenarios(t *testing.T) []wireScenario {
	t.Helper()
	data, err := os.ReadFile("testdata/scenarios.yaml")
	require.NoError(t, err)
	var out []wireScenario
	require.NoError(t, yaml.Unmarshal(data, &out))
	require.NotEmpty(t, out)
	return out
}

func parseHexColor(t *testing.T, s string) RGB {
	t.Helper()
	require.Len(t, s, 7)
	v, err := strconv.ParseUint(s[1:], 16, 32)
	require.NoError(t, err)
	return RGB{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v)}
}

func TestEncode_Scenarios(t *testing.T) {
	for _, sc := range loadScenarios(t) {
		t.Run(sc.Name, func(t *testing.T) {
			g := Geometry{Top: sc.Geometry.Top, Right: sc.Geometry.Right, Bottom: sc.Geometry.Bottom, Left: sc.Geometry.Left}
			w, h, r := g.SampleSize(StrategyDownsample, 0, 0)
			zm, err := BuildZoneMap(g, w, h, r)
			require.NoError(t, err)

			frame := gradientFrame(w, h)
			if sc.Fill != "gradient" {
				frame = solidFrame(w, h, parseHexColor(t, sc.Fill))
			}
			colors, err := Sample(frame, zm)
			require.NoError(t, err)

			enc, err := NewEncoder(g, defaultWiring, OrderGRB)
			require.NoError(t, err)
			msg, cf, err := enc.Encode(colors)
			require.NoError(t, err)

			assert.Equal(t, sc.Wire+"\n", string(msg))
			assert.Len(t, msg, g.Total()*6+1)
			assert.Equal(t, sc.First, enc.TransmissionOrder()[0].String())
			assert.Equal(t, colors[enc.TransmissionOrder()[0]], cf[0])
		})
	}
}

func TestBuildWireMessage_ChannelOrder(t *testing.T) {
	frame := ColorFrame{{R: 0x12, G: 0x34, B: 0x56}, {R: 0, G: 0, B: 0x0f}}

	assert.Equal(t, "34125600000f\n", string(BuildWireMessage(frame, OrderGRB)))
	assert.Equal(t, "12345600000f\n", string(BuildWireMessage(frame, ChannelOrder{'R', 'G', 'B'})))
	assert.Equal(t, "\n", string(BuildWireMessage(nil, OrderGRB)))
}

func TestEncoder_TransmissionOrder(t *testing.T) {
	g := Geometry{Top: 2, Right: 1, Bottom: 2, Left: 1}

	enc, err := NewEncoder(g, defaultWiring, OrderGRB)
	require.NoError(t, err)
	assert.Equal(t, "t1 t0 r0 b1 b0 l0", joinIDs(enc.TransmissionOrder()))

	// Clockwise sampling order without reversal is the known-wrong wiring;
	// it stays expressible for recalibration.
	enc, err = NewEncoder(g, Wiring{Sides: [4]Side{SideTop, SideRight, SideBottom, SideLeft}}, OrderGRB)
	require.NoError(t, err)
	assert.Equal(t, "t0 t1 r0 b0 b1 l0", joinIDs(enc.TransmissionOrder()))
}

func joinIDs(ids []ZoneID) string {
	var b bytes.Buffer
	for i, id := range ids {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(id.String())
	}
	return b.String()
}

func TestNewEncoder_InvalidWiring(t *testing.T) {
	_, err := NewEncoder(defaultGeometry, Wiring{Sides: [4]Side{SideTop, SideTop, SideBottom, SideLeft}}, OrderGRB)
	assert.Error(t, err)

	_, err = NewEncoder(Geometry{Top: 1}, defaultWiring, OrderGRB)
	assert.ErrorIs(t, err, ErrInvalidGeometry)
}

func TestEncode_MissingZone(t *testing.T) {
	enc, err := NewEncoder(Geometry{Top: 1, Right: 1, Bottom: 1, Left: 1}, defaultWiring, OrderGRB)
	require.NoError(t, err)

	_, _, err = enc.Encode(ZoneColors{{SideTop, 0}: {}})
	assert.Error(t, err)
}

func TestEncode_Deterministic(t *testing.T) {
	zm, err := BuildZoneMap(defaultGeometry, 12, 11, 0)
	require.NoError(t, err)
	enc, err := NewEncoder(defaultGeometry, defaultWiring, OrderGRB)
	require.NoError(t, err)
	frame := gradientFrame(12, 11)

	var first []byte
	for i := 0; i < 10; i++ {
		colors, err := Sample(frame, zm)
		require.NoError(t, err)
		msg, _, err := enc.Encode(colors)
		require.NoError(t, err)
		if first == nil {
			first = msg
			continue
		}
		require.Equal(t, first, msg)
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	wirings := []Wiring{
		defaultWiring,
		{Sides: [4]Side{SideTop, SideRight, SideBottom, SideLeft}},
		{Sides: [4]Side{SideBottom, SideLeft, SideTop, SideRight}, Reverse: true},
	}
	orders := []ChannelOrder{OrderGRB, {'R', 'G', 'B'}, {'B', 'R', 'G'}}

	for n := 0; n < 300; n++ {
		g := Geometry{
			Top:    1 + rng.Intn(60),
			Right:  1 + rng.Intn(40),
			Bottom: 1 + rng.Intn(60),
			Left:   1 + rng.Intn(40),
		}
		colors := make(ZoneColors, g.Total())
		for s := SideTop; s <= SideLeft; s++ {
			for _, id := range g.Zones(s) {
				colors[id] = RGB{R: uint8(rng.Intn(256)), G: uint8(rng.Intn(256)), B: uint8(rng.Intn(256))}
			}
		}

		enc, err := NewEncoder(g, wirings[n%len(wirings)], orders[n%len(orders)])
		require.NoError(t, err)
		msg, _, err := enc.Encode(colors)
		require.NoError(t, err)

		got, err := enc.Decode(msg)
		require.NoError(t, err)
		require.Equal(t, colors, got, "geometry %+v", g)
	}
}

func TestDecode_Malformed(t *testing.T) {
	enc, err := NewEncoder(Geometry{Top: 1, Right: 1, Bottom: 1, Left: 1}, defaultWiring, OrderGRB)
	require.NoError(t, err)

	for _, msg := range []string{
		"",
		"000000000000000000000000",   // no terminator
		"00000000000000000000000\n",  // short
		"00000000000000000000000g\n", // not hex
		"000000000000000000\n",       // too few LEDs
	} {
		_, err := enc.Decode([]byte(msg))
		assert.ErrorIs(t, err, ErrMalformedMessage, "%q", msg)
	}
}
