package worker

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/go-pdf/fpdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/ternarybob/numerus/internal/common"
	"github.com/ternarybob/numerus/internal/mailer"
	"github.com/ternarybob/numerus/internal/params"
	"github.com/ternarybob/numerus/internal/task"
)

// buildReport renders the results PDF for a finished run. With a LaTeX
// engine configured the model's latex body drives the layout; otherwise
// the built-in renderer produces a plain summary page. The PDF is
// validated before it ships.
func buildReport(ctx context.Context, cfg common.LatexConfig, t *task.Task, exe *Execution) (mailer.Attachment, error) {
	var (
		data []byte
		err  error
	)
	if cfg.PdflatexPath != "" {
		data, err = renderLatexPDF(ctx, cfg, exe.dir, latexSource(t, exe.resultsTex()))
	} else {
		data, err = renderBuiltinPDF(t)
	}
	if err != nil {
		return mailer.Attachment{}, err
	}

	if err := api.Validate(bytes.NewReader(data), nil); err != nil {
		return mailer.Attachment{}, fmt.Errorf("generated PDF failed validation: %w", err)
	}

	name := fmt.Sprintf("%s-%s.pdf", t.Definition.ShortName, t.VisibleID)
	return mailer.Attachment{Name: name, Data: data}, nil
}

// latexSource wraps the model's latex body and the optional results
// fragment in the report document, ending with the parameter appendix.
func latexSource(t *task.Task, results string) string {
	var b bytes.Buffer

	fmt.Fprintf(&b, `\documentclass[11pt]{article}
\usepackage[letterpaper,margin=1in]{geometry}
\usepackage{graphicx}
\usepackage{amsmath}
\title{%s}
\author{Run %s}
\date{\today}
\begin{document}
\maketitle
`, params.LatexEscape(t.Definition.Title()), params.LatexEscape(t.VisibleID))

	if t.Definition.LatexBody != "" {
		b.WriteString(t.Definition.LatexBody)
		b.WriteByte('\n')
	}
	if results != "" {
		b.WriteString(results)
		b.WriteByte('\n')
	}

	fmt.Fprintf(&b, `\section*{Parameters}
%s
\end{document}
`, t.LatexParameterTable())

	return b.String()
}

// renderLatexPDF writes report.tex into the working directory and runs
// pdflatex over it the configured number of times. Cross references need
// at least two passes.
func renderLatexPDF(ctx context.Context, cfg common.LatexConfig, dir, source string) ([]byte, error) {
	if err := os.WriteFile(filepath.Join(dir, "report.tex"), []byte(source), 0644); err != nil {
		return nil, fmt.Errorf("failed to write report source: %w", err)
	}

	runs := cfg.NumRuns
	if runs < 1 {
		runs = 1
	}
	for i := 0; i < runs; i++ {
		cmd := exec.CommandContext(ctx, cfg.PdflatexPath,
			"-halt-on-error", "-interaction=nonstopmode", "report.tex")
		cmd.Dir = dir

		var output bytes.Buffer
		cmd.Stdout = &output
		cmd.Stderr = &output
		if err := cmd.Run(); err != nil {
			return nil, fmt.Errorf("pdflatex pass %d failed: %w: %s", i+1, err, tail(output.String(), 2000))
		}
	}

	data, err := os.ReadFile(filepath.Join(dir, "report.pdf"))
	if err != nil {
		return nil, fmt.Errorf("pdflatex produced no report: %w", err)
	}
	return data, nil
}

// renderBuiltinPDF produces the fallback summary report: title, run id
// and the parameter values.
func renderBuiltinPDF(t *task.Task) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.MultiCell(0, 10, t.Definition.Title(), "", "L", false)

	if t.Definition.Subtitle != "" {
		pdf.SetFont("Helvetica", "I", 12)
		pdf.MultiCell(0, 7, t.Definition.Subtitle, "", "L", false)
	}

	pdf.SetFont("Helvetica", "", 11)
	pdf.MultiCell(0, 7, fmt.Sprintf("Run %s", t.VisibleID), "", "L", false)
	pdf.Ln(5)

	pdf.SetFont("Helvetica", "B", 12)
	pdf.MultiCell(0, 8, "Parameters", "", "L", false)
	pdf.SetFont("Helvetica", "", 11)
	for _, v := range t.Parameters {
		pdf.MultiCell(0, 6, v.AsText(), "", "L", false)
	}

	if len(t.Definition.Attachments) > 0 {
		pdf.Ln(5)
		pdf.SetFont("Helvetica", "B", 12)
		pdf.MultiCell(0, 8, "Attached output files", "", "L", false)
		pdf.SetFont("Helvetica", "", 11)
		for _, name := range t.Definition.Attachments {
			pdf.MultiCell(0, 6, name, "", "L", false)
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render report: %w", err)
	}
	return buf.Bytes(), nil
}
