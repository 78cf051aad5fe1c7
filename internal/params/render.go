package params

import (
	"fmt"
	"html"
	"strconv"
	"strings"
)

// latexReplacer escapes parameter text for inclusion in LaTeX source.
// Single-pass replacement so inserted macros are never re-escaped.
var latexReplacer = strings.NewReplacer(
	`\`, `\textbackslash `,
	"<", `\textless `,
	">", `\textgreater `,
	"~", `\textasciitilde `,
	"^", `\textasciicircum `,
	"|", `\docbooktolatexpipe `,
	"&", `\&`,
	"#", `\#`,
	"_", `\_`,
	"$", `\$`,
	"%", `\%`,
	"{", `\{`,
	"}", `\}`,
)

// LatexEscape escapes free text for the generated report body.
func LatexEscape(s string) string {
	return latexReplacer.Replace(s)
}

// scriptReplacer escapes string values injected into interpreter scripts
// as single-quoted literals.
var scriptReplacer = strings.NewReplacer(
	`\`, `\\`,
	"'", `\'`,
	"%", "%%",
)

// ScriptEscape escapes a parameter value for a single-quoted interpreter
// string literal.
func ScriptEscape(s string) string {
	return scriptReplacer.Replace(s)
}

func formatNumber(n float64) string {
	return strconv.FormatFloat(n, 'g', -1, 64)
}

// ValueString renders the value the way it appears in form fields and
// report rows.
func (v Value) ValueString() string {
	switch v.Spec.Kind {
	case KindInteger:
		return strconv.FormatInt(int64(v.Number), 10)
	case KindFloat:
		return formatNumber(v.Number)
	case KindRange:
		return formatNumber(v.Range[0]) + "-" + formatNumber(v.Range[1])
	case KindBoolean:
		return strconv.FormatBool(v.Flag)
	default:
		return v.Text
	}
}

// AsText renders a "description: value units" row for plain-text emails.
func (v Value) AsText() string {
	return strings.TrimSpace(fmt.Sprintf("%s: %s %s", v.Spec.Description, v.ValueString(), v.Spec.Units))
}

// AsLatex renders a two-column table row for the PDF report.
func (v Value) AsLatex() string {
	return strings.TrimSpace(fmt.Sprintf("%s & %s %s",
		LatexEscape(v.Spec.Description), LatexEscape(v.ValueString()), LatexEscape(v.Spec.Units)))
}

// AsCode renders the value as interpreter assignments injected into the
// model script namespace. Ranges expand to start, end and a stepped
// vector.
func (v Value) AsCode() string {
	name := v.Spec.Name
	switch v.Spec.Kind {
	case KindInteger:
		return fmt.Sprintf("%s=%d;", name, int64(v.Number))
	case KindFloat:
		return fmt.Sprintf("%s=%s;", name, formatNumber(v.Number))
	case KindRange:
		step := v.Spec.RangeStep
		if step == 0 {
			step = 1
		}
		start, end := formatNumber(v.Range[0]), formatNumber(v.Range[1])
		return fmt.Sprintf("%sStart=%s;\n%sEnd=%s;\n%s=%s:%s:%s;",
			name, start, name, end, name, start, formatNumber(step), end)
	case KindBoolean:
		if v.Flag {
			return fmt.Sprintf("%s=1;", name)
		}
		return fmt.Sprintf("%s=0;", name)
	default:
		return fmt.Sprintf("%s='%s';", name, ScriptEscape(v.Text))
	}
}

// helpHTML renders the help icon markup when the spec declares help text.
func (s *Spec) helpHTML() string {
	if s.HelpText == "" {
		return ""
	}
	return fmt.Sprintf("<a href='#' class='parameterHelp' data-helptext='%s'><img src='/static/images/question_mark_icon.gif' /></a>",
		html.EscapeString(s.HelpText))
}

// hiddenHTML renders the value as a hidden form field.
func (v Value) hiddenHTML() string {
	return fmt.Sprintf("<tr><td></td><td><input type='hidden' name='%s' value='%s' /></td></tr>",
		html.EscapeString(v.Spec.Name), html.EscapeString(v.ValueString()))
}

// AsHTML renders the parameter as a form table row. Hidden parameters
// become hidden inputs carrying the current value.
func (v Value) AsHTML() string {
	s := v.Spec
	if s.Hidden {
		return v.hiddenHTML()
	}

	name := html.EscapeString(s.Name)
	desc := html.EscapeString(s.Description)
	val := html.EscapeString(v.ValueString())
	units := html.EscapeString(s.Units)

	switch s.Kind {
	case KindSelect:
		var b strings.Builder
		for _, opt := range s.Options {
			escaped := html.EscapeString(opt)
			if opt == v.Text {
				fmt.Fprintf(&b, "<option value='%s' selected='selected'>%s</option>", escaped, escaped)
			} else {
				fmt.Fprintf(&b, "<option value='%s'>%s</option>", escaped, escaped)
			}
		}
		return fmt.Sprintf("<tr><td><label for='%s'>%s</label></td><td><select name='%s'>%s</select> %s</td></tr>",
			name, desc, name, b.String(), s.helpHTML())

	case KindBoolean:
		checked := ""
		if v.Flag {
			checked = "checked='checked' "
		}
		return fmt.Sprintf("<tr><td><label for='%s'>%s</label></td><td><input type='checkbox' name='%s' value='true' %s/> %s</td></tr>",
			name, desc, name, checked, s.helpHTML())

	case KindRange:
		return fmt.Sprintf("<tr class='rangeParameter'><td><label for='%s'>%s</label></td>"+
			"<td><input type='text' class='paramRange' name='%s' value='%s' data-rangestart='%s' data-rangeend='%s' data-step='%s' /> %s %s"+
			"<div class='slider'></div></td></tr>",
			name, desc, name, val,
			formatNumber(s.RangeStart), formatNumber(s.RangeEnd), formatNumber(s.RangeStep),
			units, s.helpHTML())

	case KindInteger, KindFloat:
		class := "paramFloat"
		if s.Kind == KindInteger {
			class = "paramInteger"
		}
		if s.Min != nil && s.Max != nil && s.Step != nil {
			return fmt.Sprintf("<tr class='sliderParameter'><td><label for='%s'>%s</label></td>"+
				"<td><input type='text' class='%sRange' name='%s' value='%s' data-rangestart='%s' data-rangeend='%s' data-step='%s' /> %s %s"+
				"<div class='slider'></div></td></tr>",
				name, desc, class, name, val,
				formatNumber(*s.Min), formatNumber(*s.Max), formatNumber(*s.Step),
				units, s.helpHTML())
		}
		return fmt.Sprintf("<tr><td><label for='%s'>%s</label></td><td><input type='text' class='%s' name='%s' value='%s' /> %s %s</td></tr>",
			name, desc, class, name, val, units, s.helpHTML())

	default:
		return fmt.Sprintf("<tr><td><label for='%s'>%s</label></td><td><input type='text' name='%s' value='%s' /> %s %s</td></tr>",
			name, desc, name, val, units, s.helpHTML())
	}
}
