package domain

import (
	"cmp"
	"slices"

	"github.com/shopspring/decimal"
)

// PositionWeight 单一标的占总敞口的权重
type PositionWeight struct {
	Symbol string  `json:"symbol"`
	Weight float64 `json:"weight"`
}

// ConcentrationRisk 集中度指标
type ConcentrationRisk struct {
	HerfindahlIndex   float64          `json:"herfindahl_index"`
	TopPositionWeight float64          `json:"top_position_weight"`
	Top5Weight        float64          `json:"top5_weight"`
	TopPositions      []PositionWeight `json:"top_positions"`
}

// AnalyzeConcentration 基于持仓总敞口计算 HHI 与前 N 大权重
// 同一标的的多笔持仓按标的合并后再计算
func AnalyzeConcentration(positions []Position) (ConcentrationRisk, error) {
	const op = "concentration"
	if len(positions) == 0 {
		return ConcentrationRisk{}, newError(KindEmptyPortfolio, op, "", "no positions")
	}

	exposure := make(map[string]decimal.Decimal, len(positions))
	gross := decimal.Zero
	for _, p := range positions {
		v := p.MarketValue().Abs()
		exposure[p.Symbol] = exposure[p.Symbol].Add(v)
		gross = gross.Add(v)
	}
	if !gross.IsPositive() {
		return ConcentrationRisk{}, newError(KindEmptyPortfolio, op, "", "zero gross exposure")
	}

	weights := make([]PositionWeight, 0, len(exposure))
	for sym, v := range exposure {
		w, _ := v.Div(gross).Float64()
		weights = append(weights, PositionWeight{Symbol: sym, Weight: w})
	}
	// 权重降序，同权重按标的字典序，保证结果确定
	slices.SortStableFunc(weights, func(a, b PositionWeight) int {
		if c := cmp.Compare(b.Weight, a.Weight); c != 0 {
			return c
		}
		return cmp.Compare(a.Symbol, b.Symbol)
	})

	var hhi, top5 float64
	for i, w := range weights {
		hhi += w.Weight * w.Weight
		if i < 5 {
			top5 += w.Weight
		}
	}

	n := min(5, len(weights))
	return ConcentrationRisk{
		HerfindahlIndex:   hhi,
		TopPositionWeight: weights[0].Weight,
		Top5Weight:        top5,
		TopPositions:      slices.Clone(weights[:n]),
	}, nil
}

// SymbolWeight 返回指定标的在组合总敞口中的权重，组合为空时为 0
func SymbolWeight(positions []Position, symbol string) float64 {
	gross := decimal.Zero
	sym := decimal.Zero
	for _, p := range positions {
		v := p.MarketValue().Abs()
		gross = gross.Add(v)
		if p.Symbol == symbol {
			sym = sym.Add(v)
		}
	}
	if !gross.IsPositive() {
		return 0
	}
	w, _ := sym.Div(gross).Float64()
	return w
}
