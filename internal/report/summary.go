package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// CategoryTotal is the net amount of one category (income positive,
// expense negative).
type CategoryTotal struct {
	Category string
	Net      decimal.Decimal
	Count    int
}

// Summary aggregates ledger entries over a period.
type Summary struct {
	Period     Period
	Income     decimal.Decimal
	Expense    decimal.Decimal
	Net        decimal.Decimal
	Count      int
	Categories []CategoryTotal
}

// Summarize totals the entries inside p in a single pass. Entries of an
// unknown type are skipped.
func Summarize(entries []Entry, p Period) Summary {
	s := Summary{Period: p, Income: decimal.Zero, Expense: decimal.Zero}
	byCat := map[string]*CategoryTotal{}

	for _, e := range entries {
		if !p.Contains(e.At) {
			continue
		}
		amt := e.Amount.Abs()
		var signed decimal.Decimal
		switch e.Type {
		case Income:
			s.Income = s.Income.Add(amt)
			signed = amt
		case Expense:
			s.Expense = s.Expense.Add(amt)
			signed = amt.Neg()
		default:
			continue
		}
		s.Count++

		name := e.CategoryOrUncategorized()
		ct, ok := byCat[name]
		if !ok {
			ct = &CategoryTotal{Category: name, Net: decimal.Zero}
			byCat[name] = ct
		}
		ct.Net = ct.Net.Add(signed)
		ct.Count++
	}
	s.Net = s.Income.Sub(s.Expense)

	s.Categories = make([]CategoryTotal, 0, len(byCat))
	for _, ct := range byCat {
		s.Categories = append(s.Categories, *ct)
	}
	sort.Slice(s.Categories, func(i, j int) bool {
		a, b := s.Categories[i].Net.Abs(), s.Categories[j].Net.Abs()
		if c := a.Cmp(b); c != 0 {
			return c > 0
		}
		return s.Categories[i].Category < s.Categories[j].Category
	})
	return s
}

const dateLayout = "2006-01-02 15:04"

// Render returns the e-mail subject and plain-text body for r.
func Render(r ScheduledReport, s Summary) (subject, body string) {
	subject = strings.TrimSpace(r.Subject)
	if subject == "" {
		subject = fmt.Sprintf("%s (%s)", r.Name, s.Period.To.Format("2006-01-02"))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", r.Name)
	fmt.Fprintf(&b, "Period: %s - %s\n\n", s.Period.From.Format(dateLayout), s.Period.To.Format(dateLayout))
	fmt.Fprintf(&b, "Income:   %s\n", s.Income.StringFixed(2))
	fmt.Fprintf(&b, "Expenses: %s\n", s.Expense.StringFixed(2))
	fmt.Fprintf(&b, "Net:      %s\n", s.Net.StringFixed(2))
	fmt.Fprintf(&b, "Entries:  %d\n", s.Count)

	if len(s.Categories) > 0 {
		b.WriteString("\nBy category:\n")
		for _, c := range s.Categories {
			fmt.Fprintf(&b, "  %-24s %12s (%d)\n", c.Category, c.Net.StringFixed(2), c.Count)
		}
	}
	return subject, b.String()
}
