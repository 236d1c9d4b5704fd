// Package catalog declares which derived metrics are computed, from which
// wide-table columns, and which columns get market aggregates.
package catalog

import (
	_ "embed"
	"os"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/bancoinsights/bacen-etl/internal/model"
)

//go:embed default.yaml
var defaultYAML []byte

// Kind is the computation a derived metric performs.
type Kind string

// Derived metric kinds.
const (
	KindTTMSum     Kind = "ttm_sum"
	KindAvgBalance Kind = "avg_balance"
	KindRatio      Kind = "ratio"
	KindGrowthYoY  Kind = "growth_yoy"
)

// Default window lengths, in quarters.
const (
	TTMWindow     = 4
	AverageWindow = 5
	YoYLag        = 4
)

// Definition declares one derived metric.
type Definition struct {
	Name        model.MetricID `yaml:"name"`
	Kind        Kind           `yaml:"kind"`
	Input       string         `yaml:"input,omitempty"`
	Numerator   string         `yaml:"numerator,omitempty"`
	Denominator string         `yaml:"denominator,omitempty"`
	Window      int            `yaml:"window,omitempty"`
	Scale       string         `yaml:"scale,omitempty"`
	Description string         `yaml:"description,omitempty"`

	// PositiveDenominator makes a ratio missing when its denominator is
	// negative, for balances that cannot legitimately be below zero.
	PositiveDenominator bool `yaml:"positive_denominator,omitempty"`

	InputRef       model.MetricRef `yaml:"-"`
	NumeratorRef   model.MetricRef `yaml:"-"`
	DenominatorRef model.MetricRef `yaml:"-"`
	ScaleValue     decimal.Decimal `yaml:"-"`
}

// Refs returns every metric the definition reads.
func (d *Definition) Refs() []model.MetricRef {
	if d.Kind == KindRatio {
		return []model.MetricRef{d.NumeratorRef, d.DenominatorRef}
	}
	return []model.MetricRef{d.InputRef}
}

// Reports holds report-level settings.
type Reports struct {
	Aliases  map[string]model.ReportID           `yaml:"aliases"`
	Required map[model.ReportID][]model.MetricID `yaml:"required"`
}

// Segment is one slice of the credit portfolio, summed over its columns.
type Segment struct {
	Name    string   `yaml:"name"`
	Columns []string `yaml:"columns"`

	Refs []model.MetricRef `yaml:"-"`
}

// SegmentSet breaks the credit portfolio into segments. Shares are taken
// against the sum of the Total columns.
type SegmentSet struct {
	Total    []string  `yaml:"total"`
	Segments []Segment `yaml:"segments"`

	TotalRefs []model.MetricRef `yaml:"-"`
}

// Catalog is the parsed metric catalog.
type Catalog struct {
	Version        string       `yaml:"version"`
	Reports        Reports      `yaml:"reports"`
	Derived        []Definition `yaml:"derived"`
	Market         []string     `yaml:"market"`
	CreditSegments SegmentSet   `yaml:"credit_segments"`

	MarketRefs []model.MetricRef `yaml:"-"`
	byName     map[model.MetricID]int
}

// Default returns the embedded catalog.
func Default() (*Catalog, error) {
	return Parse(defaultYAML)
}

// Load reads a catalog file. An empty path returns the embedded default.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: read %s", path)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: %s", path)
	}
	return c, nil
}

// Parse decodes and validates a YAML catalog.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, eris.Wrap(err, "catalog: parse yaml")
	}
	if err := c.resolve(); err != nil {
		return nil, err
	}
	return &c, nil
}

// resolve parses references, applies defaults and checks that derived
// definitions only reference wide columns or earlier definitions.
func (c *Catalog) resolve() error {
	c.byName = make(map[model.MetricID]int, len(c.Derived))

	for i := range c.Derived {
		d := &c.Derived[i]
		if d.Name == "" {
			return eris.Errorf("catalog: derived[%d]: name is required", i)
		}
		if _, dup := c.byName[d.Name]; dup {
			return eris.Errorf("catalog: duplicate derived metric %q", d.Name)
		}

		var err error
		switch d.Kind {
		case KindTTMSum, KindAvgBalance, KindGrowthYoY:
			if d.InputRef, err = model.ParseMetricRef(d.Input); err != nil {
				return eris.Wrapf(err, "catalog: %s input", d.Name)
			}
		case KindRatio:
			if d.NumeratorRef, err = model.ParseMetricRef(d.Numerator); err != nil {
				return eris.Wrapf(err, "catalog: %s numerator", d.Name)
			}
			if d.DenominatorRef, err = model.ParseMetricRef(d.Denominator); err != nil {
				return eris.Wrapf(err, "catalog: %s denominator", d.Name)
			}
		default:
			return eris.Errorf("catalog: %s: unknown kind %q", d.Name, d.Kind)
		}
		if d.PositiveDenominator && d.Kind != KindRatio {
			return eris.Errorf("catalog: %s: positive_denominator only applies to ratios", d.Name)
		}

		if d.Window == 0 {
			switch d.Kind {
			case KindTTMSum:
				d.Window = TTMWindow
			case KindAvgBalance:
				d.Window = AverageWindow
			case KindGrowthYoY:
				d.Window = YoYLag
			}
		}
		if d.Window < 0 {
			return eris.Errorf("catalog: %s: negative window", d.Name)
		}

		d.ScaleValue = decimal.NewFromInt(1)
		switch {
		case d.Scale != "":
			if d.ScaleValue, err = decimal.NewFromString(d.Scale); err != nil {
				return eris.Wrapf(err, "catalog: %s scale", d.Name)
			}
		case d.Kind == KindRatio || d.Kind == KindGrowthYoY:
			d.ScaleValue = decimal.NewFromInt(100)
		}

		for _, ref := range d.Refs() {
			if !ref.IsDerived() {
				continue
			}
			if _, ok := c.byName[ref.Metric]; !ok {
				return eris.Wrapf(model.ErrUnknownMetric, "catalog: %s references %s before it is defined", d.Name, ref)
			}
		}
		c.byName[d.Name] = i
	}

	c.MarketRefs = make([]model.MetricRef, 0, len(c.Market))
	for _, m := range c.Market {
		ref, err := model.ParseMetricRef(m)
		if err != nil {
			return eris.Wrap(err, "catalog: market")
		}
		if ref.IsDerived() {
			if _, ok := c.byName[ref.Metric]; !ok {
				return eris.Wrapf(model.ErrUnknownMetric, "catalog: market %s", ref)
			}
		}
		c.MarketRefs = append(c.MarketRefs, ref)
	}

	return c.CreditSegments.resolve()
}

func (s *SegmentSet) resolve() error {
	var err error
	if s.TotalRefs, err = wideRefs("credit_segments total", s.Total); err != nil {
		return err
	}
	if len(s.Segments) > 0 && len(s.TotalRefs) == 0 {
		return eris.New("catalog: credit_segments: total is required")
	}
	seen := make(map[string]bool, len(s.Segments))
	for i := range s.Segments {
		seg := &s.Segments[i]
		if seg.Name == "" {
			return eris.Errorf("catalog: credit_segments[%d]: name is required", i)
		}
		if seen[seg.Name] {
			return eris.Errorf("catalog: duplicate credit segment %q", seg.Name)
		}
		seen[seg.Name] = true
		if len(seg.Columns) == 0 {
			return eris.Errorf("catalog: credit segment %s: columns are required", seg.Name)
		}
		if seg.Refs, err = wideRefs("credit segment "+seg.Name, seg.Columns); err != nil {
			return err
		}
	}
	return nil
}

// wideRefs parses references that must address wide-table columns.
func wideRefs(what string, raw []string) ([]model.MetricRef, error) {
	out := make([]model.MetricRef, 0, len(raw))
	for _, r := range raw {
		ref, err := model.ParseMetricRef(r)
		if err != nil {
			return nil, eris.Wrapf(err, "catalog: %s", what)
		}
		if ref.IsDerived() {
			return nil, eris.Errorf("catalog: %s: %s is not a wide column", what, ref)
		}
		out = append(out, ref)
	}
	return out, nil
}

// Definition looks up a derived metric by name.
func (c *Catalog) Definition(name model.MetricID) (*Definition, bool) {
	i, ok := c.byName[name]
	if !ok {
		return nil, false
	}
	return &c.Derived[i], true
}

// DerivedNames returns the derived metric names in evaluation order.
func (c *Catalog) DerivedNames() []model.MetricID {
	names := make([]model.MetricID, len(c.Derived))
	for i, d := range c.Derived {
		names[i] = d.Name
	}
	return names
}

// ReportAliases returns the raw-name aliases for the loader.
func (c *Catalog) ReportAliases() map[string]model.ReportID {
	return c.Reports.Aliases
}

// RequiredMetrics returns the columns a report must carry.
func (c *Catalog) RequiredMetrics(report model.ReportID) []model.MetricID {
	return c.Reports.Required[report]
}
