package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/victoralfred/portfolio-risk/internal/ports"
	"github.com/victoralfred/portfolio-risk/internal/risk"
)

var errReadOnly = errors.New("portfolio file is read-only")

// pointFile is one valuation in a portfolio file. Time accepts RFC 3339 or a
// plain date.
type pointFile struct {
	Time  string  `yaml:"time"`
	Value float64 `yaml:"value"`
}

type limitFile struct {
	Type    string  `yaml:"type"`
	Value   float64 `yaml:"value"`
	Enabled *bool   `yaml:"enabled"`
}

// portfolioFile is the offline input of riskctl. JSON files are read as YAML.
type portfolioFile struct {
	ID        string                 `yaml:"id"`
	Balance   float64                `yaml:"balance"`
	Positions []risk.Position        `yaml:"positions"`
	History   []pointFile            `yaml:"history"`
	Indices   map[string][]pointFile `yaml:"indices"`
	Limits    []limitFile            `yaml:"limits"`
	Scenarios []risk.Scenario        `yaml:"scenarios"`
}

// filePortfolio serves one portfolio file through the service ports
type filePortfolio struct {
	id        string
	snapshot  risk.PortfolioSnapshot
	history   []risk.ValuePoint
	indices   map[string][]risk.ValuePoint
	limits    []risk.RiskLimit
	scenarios []risk.Scenario
}

func loadPortfolioFile(path string) (*filePortfolio, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read portfolio file: %w", err)
	}
	return parsePortfolio(data)
}

func parsePortfolio(data []byte) (*filePortfolio, error) {
	var f portfolioFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse portfolio file: %w", err)
	}

	p := &filePortfolio{
		id:        f.ID,
		snapshot:  risk.PortfolioSnapshot{Positions: f.Positions, Balance: f.Balance},
		indices:   make(map[string][]risk.ValuePoint, len(f.Indices)),
		scenarios: f.Scenarios,
	}
	if p.id == "" {
		p.id = "file"
	}

	history, err := toValuePoints("history", f.History)
	if err != nil {
		return nil, err
	}
	p.history = history
	for id, points := range f.Indices {
		converted, err := toValuePoints("indices."+id, points)
		if err != nil {
			return nil, err
		}
		p.indices[id] = converted
	}

	for i, l := range f.Limits {
		enabled := true
		if l.Enabled != nil {
			enabled = *l.Enabled
		}
		p.limits = append(p.limits, risk.RiskLimit{
			ID:      fmt.Sprintf("limit-%d", i+1),
			OwnerID: p.id,
			Type:    risk.LimitType(strings.ToUpper(l.Type)),
			Value:   l.Value,
			Enabled: enabled,
			Version: 1,
		})
	}
	return p, nil
}

func toValuePoints(field string, points []pointFile) ([]risk.ValuePoint, error) {
	out := make([]risk.ValuePoint, 0, len(points))
	for i, pt := range points {
		ts, err := parseTime(pt.Time)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", field, i, err)
		}
		out = append(out, risk.ValuePoint{Timestamp: ts, TotalValue: pt.Value})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, time.DateTime, time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q", s)
}

// window keeps the points within days of the latest one
func window(points []risk.ValuePoint, days int) []risk.ValuePoint {
	if len(points) == 0 || days <= 0 {
		return points
	}
	cutoff := points[len(points)-1].Timestamp.AddDate(0, 0, -days)
	i := sort.Search(len(points), func(i int) bool { return !points[i].Timestamp.Before(cutoff) })
	return points[i:]
}

func (p *filePortfolio) GetHistory(ctx context.Context, portfolioID string, days int) ([]risk.ValuePoint, error) {
	if portfolioID != p.id {
		return nil, ports.ErrNotFound
	}
	return window(p.history, days), nil
}

func (p *filePortfolio) GetSnapshot(ctx context.Context, portfolioID string) (*risk.PortfolioSnapshot, error) {
	if portfolioID != p.id {
		return nil, ports.ErrNotFound
	}
	snapshot := p.snapshot
	return &snapshot, nil
}

func (p *filePortfolio) GetIndexHistory(ctx context.Context, indexID string, days int) ([]risk.ValuePoint, error) {
	points, ok := p.indices[indexID]
	if !ok {
		return nil, ports.ErrNotFound
	}
	return window(points, days), nil
}

func (p *filePortfolio) ListByOwner(ctx context.Context, ownerID string) ([]risk.RiskLimit, error) {
	if ownerID != p.id {
		return nil, nil
	}
	return p.limits, nil
}

func (p *filePortfolio) Get(ctx context.Context, ownerID, limitID string) (*risk.RiskLimit, error) {
	for _, l := range p.limits {
		if l.OwnerID == ownerID && l.ID == limitID {
			limit := l
			return &limit, nil
		}
	}
	return nil, ports.ErrNotFound
}

func (p *filePortfolio) Create(ctx context.Context, limit *risk.RiskLimit) error {
	return errReadOnly
}

func (p *filePortfolio) Update(ctx context.Context, limit *risk.RiskLimit) error {
	return errReadOnly
}

func (p *filePortfolio) Delete(ctx context.Context, ownerID, limitID string) error {
	return errReadOnly
}
