package evaluation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// ErrNoLabels is returned when a dataset has no anomaly column to evaluate against.
var ErrNoLabels = errors.New("dataset has no anomaly labels")

// ConfusionMatrix is laid out as [[TN FP] [FN TP]].
type ConfusionMatrix [2][2]int

func (m ConfusionMatrix) TN() int { return m[0][0] }
func (m ConfusionMatrix) FP() int { return m[0][1] }
func (m ConfusionMatrix) FN() int { return m[1][0] }
func (m ConfusionMatrix) TP() int { return m[1][1] }

// ClassMetrics holds precision, recall and F1 of a single class.
type ClassMetrics struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// Report is a binary classification report over the classes 0 and 1.
// Undefined ratios are reported as 0.
type Report struct {
	Classes     [2]ClassMetrics `json:"classes"`
	Accuracy    float64         `json:"accuracy"`
	MacroAvg    ClassMetrics    `json:"macro_avg"`
	WeightedAvg ClassMetrics    `json:"weighted_avg"`
	Confusion   ConfusionMatrix `json:"confusion"`
}

// F1 returns the F1 score of the anomaly class.
func (r *Report) F1() float64 {
	return r.Classes[1].F1
}

// NewConfusionMatrix counts predictions against ground truth. Labels other
// than 0 and 1 are treated as 1.
func NewConfusionMatrix(yTrue, yPred []int) (ConfusionMatrix, error) {
	var m ConfusionMatrix
	if len(yTrue) != len(yPred) {
		return m, fmt.Errorf("label length mismatch: %d true, %d predicted", len(yTrue), len(yPred))
	}
	for i := range yTrue {
		m[binary(yTrue[i])][binary(yPred[i])]++
	}
	return m, nil
}

func binary(v int) int {
	if v != 0 {
		return 1
	}
	return 0
}

// NewReport builds a classification report for binary labels.
func NewReport(yTrue, yPred []int) (*Report, error) {
	m, err := NewConfusionMatrix(yTrue, yPred)
	if err != nil {
		return nil, err
	}
	if len(yTrue) == 0 {
		return nil, errors.New("no samples to evaluate")
	}

	r := &Report{Confusion: m}
	for class := 0; class < 2; class++ {
		tp := m[class][class]
		predicted := m[0][class] + m[1][class]
		support := m[class][0] + m[class][1]

		cm := ClassMetrics{
			Precision: ratio(tp, predicted),
			Recall:    ratio(tp, support),
			Support:   support,
		}
		if cm.Precision+cm.Recall > 0 {
			cm.F1 = 2 * cm.Precision * cm.Recall / (cm.Precision + cm.Recall)
		}
		r.Classes[class] = cm
	}

	total := len(yTrue)
	r.Accuracy = ratio(m.TN()+m.TP(), total)
	for _, cm := range r.Classes {
		r.MacroAvg.Precision += cm.Precision / 2
		r.MacroAvg.Recall += cm.Recall / 2
		r.MacroAvg.F1 += cm.F1 / 2

		w := float64(cm.Support) / float64(total)
		r.WeightedAvg.Precision += cm.Precision * w
		r.WeightedAvg.Recall += cm.Recall * w
		r.WeightedAvg.F1 += cm.F1 * w
	}
	r.MacroAvg.Support = total
	r.WeightedAvg.Support = total
	return r, nil
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// RenderReport renders the report and the confusion matrix as text tables.
func RenderReport(r *Report, digits int) string {
	f := func(v float64) string {
		return fmt.Sprintf("%.*f", digits, v)
	}

	// headers are printed as given, as in sklearn's report
	style := table.StyleRounded
	style.Format.Header = text.FormatDefault

	tw := table.NewWriter()
	tw.SetStyle(style)
	tw.AppendHeader(table.Row{"", "precision", "recall", "f1-score", "support"})
	for class, cm := range r.Classes {
		tw.AppendRow(table.Row{class, f(cm.Precision), f(cm.Recall), f(cm.F1), cm.Support})
	}
	tw.AppendSeparator()
	tw.AppendRow(table.Row{"accuracy", "", "", f(r.Accuracy), r.MacroAvg.Support})
	tw.AppendRow(table.Row{"macro avg", f(r.MacroAvg.Precision), f(r.MacroAvg.Recall), f(r.MacroAvg.F1), r.MacroAvg.Support})
	tw.AppendRow(table.Row{"weighted avg", f(r.WeightedAvg.Precision), f(r.WeightedAvg.Recall), f(r.WeightedAvg.F1), r.WeightedAvg.Support})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
	})

	cw := table.NewWriter()
	cw.SetStyle(style)
	cw.SetTitle("Confusion Matrix")
	cw.AppendHeader(table.Row{"", "pred 0", "pred 1"})
	cw.AppendRow(table.Row{"true 0", r.Confusion.TN(), r.Confusion.FP()})
	cw.AppendRow(table.Row{"true 1", r.Confusion.FN(), r.Confusion.TP()})

	var b strings.Builder
	b.WriteString(tw.Render())
	b.WriteString("\n")
	b.WriteString(cw.Render())
	b.WriteString("\n")
	return b.String()
}
