package options

import (
	"encoding/json"
	"math"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func testConfig() Config {
	return Config{
		Separator: ",",
		Keys: NewKeyMapping(
			KeyPair{"q", "quality"},
			KeyPair{"w", "width"},
			KeyPair{"h", "height"},
			KeyPair{"o", "output"},
		),
		Defaults: Of("output", "auto"),
	}
}

func TestSerializeMergesDefaults(t *testing.T) {
	seg := Serialize(Of("width", 200, "height", 100, "quality", 80), testConfig())

	for _, want := range []string{"w_200", "h_100", "q_80", "o_auto"} {
		if !strings.Contains(seg, want) {
			t.Fatalf("expected segment %q to contain %q", seg, want)
		}
	}
	if seg != "o_auto,w_200,h_100,q_80" {
		t.Fatalf("expected defaults first then caller order, got %q", seg)
	}
}

func TestSerializeCallerWinsAndKeepsDefaultPosition(t *testing.T) {
	cfg := testConfig()
	cfg.Defaults = Of("quality", 90, "output", "auto")

	seg := Serialize(Of("width", 10, "quality", 50), cfg)
	if seg != "q_50,o_auto,w_10" {
		t.Fatalf("expected q_50,o_auto,w_10, got %q", seg)
	}
}

func TestSerializeSkipsNullishKeepsFalsy(t *testing.T) {
	var unsetWidth *int
	seg := Serialize(Of("quality", 0, "output", "", "height", false, "width", unsetWidth), Config{
		Separator: ",",
		Keys:      testConfig().Keys,
	})
	if seg != "q_0,o_,h_false" {
		t.Fatalf("expected q_0,o_,h_false, got %q", seg)
	}

	cfg := testConfig()
	seg = Serialize(Of("output", nil), cfg)
	if seg != "" {
		t.Fatalf("expected nil override to suppress default, got %q", seg)
	}
}

func TestSerializeDropsUnknownNames(t *testing.T) {
	seg := Serialize(Of("future-option", "x", "width", 5), Config{Separator: ",", Keys: testConfig().Keys})
	if seg != "w_5" {
		t.Fatalf("expected w_5, got %q", seg)
	}
}

func TestSerializeEncodesValues(t *testing.T) {
	cfg := Config{Separator: ",", Keys: DefaultKeys()}
	seg := Serialize(Of(
		"text", "hello world, ok",
		"scale", 0.5,
		"crop", map[string]int{"x": 1},
		"extract", []int{1, 2},
	), cfg)

	want := "t_hello%20world%2C%20ok,sc_0.5,c_%7B%22x%22%3A1%7D,e_%5B1%2C2%5D"
	if seg != want {
		t.Fatalf("expected %q, got %q", want, seg)
	}
}

func TestSerializeEmpty(t *testing.T) {
	if seg := Serialize(Options{}, Config{Separator: ",", Keys: DefaultKeys()}); seg != "" {
		t.Fatalf("expected empty segment, got %q", seg)
	}
}

func TestSerializeRoundTripKeys(t *testing.T) {
	cfg := Config{Separator: ",", Keys: DefaultKeys()}
	in := Of("width", 300, "text", "a,b_c", "refresh", true, "gravity", "NorthWest")

	out, err := Parse(Serialize(in, cfg), cfg)
	if err != nil {
		t.Fatalf("parse returned error: %v", err)
	}
	if strings.Join(out.Keys(), "|") != strings.Join(in.Keys(), "|") {
		t.Fatalf("expected keys %v, got %v", in.Keys(), out.Keys())
	}
	if got, _ := out.Get("text"); got != "a,b_c" {
		t.Fatalf("expected text a,b_c, got %v", got)
	}
}

func TestKeyMappingLastWriteWins(t *testing.T) {
	m := NewKeyMapping(KeyPair{"q", "quality"}, KeyPair{"qq", "quality"})
	if short, _ := m.Short("quality"); short != "qq" {
		t.Fatalf("expected qq, got %s", short)
	}

	fromMap := KeyMappingFromMap(map[string]string{"b": "blur", "a": "blur"})
	if short, _ := fromMap.Short("blur"); short != "b" {
		t.Fatalf("expected b, got %s", short)
	}

	redefined := NewKeyMapping(KeyPair{"x", "one"}, KeyPair{"x", "two"})
	if _, ok := redefined.Short("one"); ok {
		t.Fatal("expected stale long name to be removed")
	}
	if redefined.Len() != 1 {
		t.Fatalf("expected 1 pair, got %d", redefined.Len())
	}
}

func TestOptionsJSONKeepsOrder(t *testing.T) {
	var o Options
	if err := json.Unmarshal([]byte(`{"width":200,"output":"png","quality":null}`), &o); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if strings.Join(o.Keys(), ",") != "width,output,quality" {
		t.Fatalf("unexpected key order %v", o.Keys())
	}

	seg := Serialize(o, Config{Separator: ",", Keys: DefaultKeys()})
	if seg != "w_200,o_png" {
		t.Fatalf("expected w_200,o_png, got %q", seg)
	}

	raw, err := json.Marshal(o)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(raw) != `{"width":200,"output":"png","quality":null}` {
		t.Fatalf("unexpected json %s", raw)
	}
}

func TestOptionsYAMLKeepsOrder(t *testing.T) {
	var doc struct {
		Keys     KeyMapping `yaml:"options_keys"`
		Defaults Options    `yaml:"default_options"`
	}
	src := "options_keys:\n  w: width\n  o: output\ndefault_options:\n  output: auto\n  width: 10\n"
	if err := yaml.Unmarshal([]byte(src), &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	pairs := doc.Keys.Pairs()
	if len(pairs) != 2 || pairs[0].Short != "w" || pairs[1].Long != "output" {
		t.Fatalf("unexpected pairs %+v", pairs)
	}
	if strings.Join(doc.Defaults.Keys(), ",") != "output,width" {
		t.Fatalf("unexpected default order %v", doc.Defaults.Keys())
	}
}

func TestEscape(t *testing.T) {
	if got := EscapeComponent("a b/c?d=é!"); got != "a%20b%2Fc%3Fd%3D%C3%A9!" {
		t.Fatalf("unexpected component escape %q", got)
	}
	if got := EscapeURI("https://x.com/a b.jpg?v=1"); got != "https://x.com/a%20b.jpg?v=1" {
		t.Fatalf("unexpected uri escape %q", got)
	}
}

func TestSerializeFormatsFloatsLikeJavaScript(t *testing.T) {
	cases := []struct {
		value any
		want  string
	}{
		{1.5, "q_1.5"},
		{100.0, "q_100"},
		{-0.25, "q_-0.25"},
		{1e21, "q_1e+21"},
		{1.25e22, "q_1.25e+22"},
		{123456789012345680000.0, "q_123456789012345680000"},
		{0.000001, "q_0.000001"},
		{1e-7, "q_1e-7"},
		{float32(0.5), "q_0.5"},
		{math.Inf(1), "q_Infinity"},
		{math.NaN(), "q_NaN"},
	}
	cfg := Config{Separator: ",", Keys: DefaultKeys()}
	for _, tc := range cases {
		if got := Serialize(Of("quality", tc.value), cfg); got != tc.want {
			t.Fatalf("%v: expected %s, got %s", tc.value, tc.want, got)
		}
	}
}
