package task

import (
	"fmt"
	"strings"
)

// TextParameterTable renders one "description: value units" line per
// parameter for plain-text email bodies.
func (t *Task) TextParameterTable() string {
	rows := make([]string, 0, len(t.Parameters))
	for _, v := range t.Parameters {
		rows = append(rows, v.AsText())
	}
	return strings.Join(rows, "\n")
}

// LatexParameterTable renders the appendix table embedded in the PDF
// report.
func (t *Task) LatexParameterTable() string {
	rows := make([]string, 0, len(t.Parameters))
	for _, v := range t.Parameters {
		rows = append(rows, v.AsLatex())
	}

	return fmt.Sprintf(`\begin{centering}
\begin{tabular*}{5in}{@{\extracolsep{\fill}} l l}
\textbf{Parameter} & \textbf{Value} \\
\hline
%s
\end{tabular*}
\end{centering}`, strings.Join(rows, " \\\\\n"))
}
