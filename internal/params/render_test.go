package params

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatexEscape(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"50% done", `50\% done`},
		{"a_b & c#d", `a\_b \& c\#d`},
		{"$100", `\$100`},
		{`\cmd{x}`, `\textbackslash cmd\{x\}`},
		{"a<b>c", `a\textless b\textgreater c`},
		{"x~y^z", `x\textasciitilde y\textasciicircum z`},
		{"a|b", `a\docbooktolatexpipe b`},
		{"plain text", "plain text"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LatexEscape(tt.in), "input %q", tt.in)
	}
}

func TestScriptEscape(t *testing.T) {
	assert.Equal(t, `it\'s 100%%`, ScriptEscape("it's 100%"))
	assert.Equal(t, `a\\b`, ScriptEscape(`a\b`))
}

func TestValueString(t *testing.T) {
	intSpec := &Spec{Name: "n", Kind: KindInteger}
	v, err := intSpec.WithValue(7)
	require.NoError(t, err)
	assert.Equal(t, "7", v.ValueString())

	rangeSpec := &Spec{Name: "band", Kind: KindRange, RangeStart: 0, RangeEnd: 1000}
	v, err = rangeSpec.WithValue("420.5-500")
	require.NoError(t, err)
	assert.Equal(t, "420.5-500", v.ValueString())

	boolSpec := &Spec{Name: "flag", Kind: KindBoolean}
	v, err = boolSpec.WithValue(true)
	require.NoError(t, err)
	assert.Equal(t, "true", v.ValueString())
}

func TestAsText(t *testing.T) {
	spec := &Spec{Name: "wavelength", Kind: KindFloat, Description: "Wavelength", Units: "nm"}
	v, err := spec.WithValue(532.5)
	require.NoError(t, err)
	assert.Equal(t, "Wavelength: 532.5 nm", v.AsText())

	bare := &Spec{Name: "label", Kind: KindString, Description: "Label"}
	v, err = bare.WithValue("run 1")
	require.NoError(t, err)
	assert.Equal(t, "Label: run 1", v.AsText())
}

func TestAsLatex(t *testing.T) {
	spec := &Spec{Name: "pct", Kind: KindString, Description: "Coverage %", Units: "%"}
	v, err := spec.WithValue("50%")
	require.NoError(t, err)
	assert.Equal(t, `Coverage \% & 50\% \%`, v.AsLatex())
}

func TestAsCode(t *testing.T) {
	tests := []struct {
		name string
		spec *Spec
		raw  any
		want string
	}{
		{"integer", &Spec{Name: "n", Kind: KindInteger}, 12, "n=12;"},
		{"float", &Spec{Name: "x", Kind: KindFloat}, 3.25, "x=3.25;"},
		{"string escapes quotes", &Spec{Name: "s", Kind: KindString}, "it's", `s='it\'s';`},
		{"bool true", &Spec{Name: "b", Kind: KindBoolean}, true, "b=1;"},
		{"bool false", &Spec{Name: "b", Kind: KindBoolean}, false, "b=0;"},
		{
			"range expands to vector",
			&Spec{Name: "band", Kind: KindRange, RangeStart: 0, RangeEnd: 1000, RangeStep: 5},
			"420-500",
			"bandStart=420;\nbandEnd=500;\nband=420:5:500;",
		},
		{
			"range without step defaults to one",
			&Spec{Name: "band", Kind: KindRange, RangeStart: 0, RangeEnd: 1000},
			"1-3",
			"bandStart=1;\nbandEnd=3;\nband=1:1:3;",
		},
		{"select", &Spec{Name: "solver", Kind: KindSelect, Options: []string{"rk4"}}, "rk4", "solver='rk4';"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := tt.spec.WithValue(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, v.AsCode())
		})
	}
}

func TestAsHTML(t *testing.T) {
	t.Run("hidden renders hidden input", func(t *testing.T) {
		spec := &Spec{Name: "seed", Kind: KindInteger, Hidden: true}
		v, err := spec.WithValue(42)
		require.NoError(t, err)
		out := v.AsHTML()
		assert.Contains(t, out, "type='hidden'")
		assert.Contains(t, out, "value='42'")
		assert.NotContains(t, out, "<label")
	})

	t.Run("select marks current option", func(t *testing.T) {
		spec := &Spec{Name: "solver", Kind: KindSelect, Description: "Solver", Options: []string{"euler", "rk4"}}
		v, err := spec.WithValue("rk4")
		require.NoError(t, err)
		out := v.AsHTML()
		assert.Contains(t, out, "<select name='solver'>")
		assert.Contains(t, out, "<option value='rk4' selected='selected'>")
		assert.Contains(t, out, "<option value='euler'>")
	})

	t.Run("checked checkbox", func(t *testing.T) {
		spec := &Spec{Name: "normalize", Kind: KindBoolean, Description: "Normalize"}
		v, err := spec.WithValue(true)
		require.NoError(t, err)
		assert.Contains(t, v.AsHTML(), "checked='checked'")
	})

	t.Run("range carries slider attributes", func(t *testing.T) {
		spec := &Spec{Name: "band", Kind: KindRange, Description: "Band", RangeStart: 400, RangeEnd: 700, RangeStep: 10, Units: "nm"}
		v, err := spec.WithValue("420-500")
		require.NoError(t, err)
		out := v.AsHTML()
		assert.Contains(t, out, "data-rangestart='400'")
		assert.Contains(t, out, "data-rangeend='700'")
		assert.Contains(t, out, "data-step='10'")
		assert.Contains(t, out, "value='420-500'")
	})

	t.Run("escapes attribute values", func(t *testing.T) {
		spec := &Spec{Name: "label", Kind: KindString, Description: "Label"}
		v, err := spec.WithValue("a'b<c>")
		require.NoError(t, err)
		out := v.AsHTML()
		assert.False(t, strings.Contains(out, "value='a'b"), "quote must be escaped")
	})
}
