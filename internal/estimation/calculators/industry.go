package calculators

import (
	"fmt"
	"strings"

	"github.com/riskscan/scan-worker/internal/estimation"
)

const DefaultIndustryMultiplier = 1.0

// IndustryHint maps domain keywords to a multiplier. Hints are checked in order
// and the first one with a matching keyword wins.
type IndustryHint struct {
	Industry   string
	Keywords   []string
	Multiplier float64
}

var DefaultIndustryHints = []IndustryHint{
	{Industry: "healthcare", Keywords: []string{"health", "clinic", "hospital", "medical", "pharma", "dental"}, Multiplier: 1.8},
	{Industry: "finance", Keywords: []string{"bank", "financ", "capital", "invest", "credit", "insur", "wealth"}, Multiplier: 1.6},
	{Industry: "government", Keywords: []string{".gov", "gov.", "government", "municipal", "county"}, Multiplier: 1.4},
	{Industry: "education", Keywords: []string{".edu", "edu.", "school", "university", "college", "academy"}, Multiplier: 1.1},
	{Industry: "retail", Keywords: []string{"shop", "store", "retail", "boutique", "outlet"}, Multiplier: 1.2},
	{Industry: "technology", Keywords: []string{"tech", "software", "cloud", "digital", "cyber", "labs"}, Multiplier: 1.3},
}

var _ estimation.Calculator = (*Industry)(nil)

// Industry guesses the business sector from the domain name. It is a
// heuristic and falls back to a neutral multiplier.
type Industry struct {
	hints []IndustryHint
}

type IndustryOption func(*Industry)

// WithIndustryHints replaces the hint table.
func WithIndustryHints(hints []IndustryHint) IndustryOption {
	return func(i *Industry) {
		i.hints = hints
	}
}

func NewIndustry(opts ...IndustryOption) *Industry {
	res := Industry{hints: DefaultIndustryHints}
	for _, opt := range opts {
		opt(&res)
	}
	return &res
}

func (c *Industry) Name() string { return "industry" }

func (c *Industry) Keys() []string {
	return []string{estimation.ParamDomain}
}

func (c *Industry) Calculate(params map[string]estimation.Param) (estimation.Factor, error) {
	domain := ""
	if p, ok := params[estimation.ParamDomain]; ok {
		d, err := getString(p)
		if err != nil {
			return estimation.Factor{}, err
		}
		domain = strings.ToLower(d)
	}

	for _, hint := range c.hints {
		for _, kw := range hint.Keywords {
			if strings.Contains(domain, kw) {
				return estimation.Factor{
					Value:  hint.Multiplier,
					Reason: fmt.Sprintf("domain %q suggests %s (keyword %q)", domain, hint.Industry, kw),
				}, nil
			}
		}
	}

	return estimation.Factor{
		Value:  DefaultIndustryMultiplier,
		Reason: "no industry hint in domain",
	}, nil
}
