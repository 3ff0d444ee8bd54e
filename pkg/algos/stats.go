// Package algos 提供风险计算所需的纯数值原语：均值、标准差、分位数、协方差/相关系数与回撤序列
package algos

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/stat"
)

var (
	// ErrInsufficientData 观测值不足或方差为零，无法得到有意义的统计量
	ErrInsufficientData = errors.New("insufficient data")
	// ErrLengthMismatch 两条序列长度不一致
	ErrLengthMismatch = errors.New("series length mismatch")
)

// Mean 算术平均值，空序列返回错误
func Mean(xs []float64) (float64, error) {
	if len(xs) == 0 {
		return 0, fmt.Errorf("mean of empty series: %w", ErrInsufficientData)
	}
	return stat.Mean(xs, nil), nil
}

// Variance 样本方差 (ddof=1)
func Variance(xs []float64) (float64, error) {
	if len(xs) < 2 {
		return 0, fmt.Errorf("variance needs at least 2 observations, got %d: %w", len(xs), ErrInsufficientData)
	}
	return stat.Variance(xs, nil), nil
}

// StdDev 样本标准差 (ddof=1)，用于波动率
func StdDev(xs []float64) (float64, error) {
	v, err := Variance(xs)
	if err != nil {
		return 0, err
	}
	return math.Sqrt(v), nil
}

// DownsideDeviation 仅对负收益观测计算样本标准差
func DownsideDeviation(xs []float64) (float64, error) {
	neg := make([]float64, 0, len(xs))
	for _, x := range xs {
		if x < 0 {
			neg = append(neg, x)
		}
	}
	return StdDev(neg)
}

// Percentile 经验分位数，p ∈ [0,1]，在相邻次序统计量之间线性插值 (与 numpy "linear" 一致)
// gonum 的 stat.Quantile 只提供 Empirical 与 LinInterp(CDF 插值) 两种定义，二者与此口径不同
func Percentile(xs []float64, p float64) (float64, error) {
	if len(xs) == 0 {
		return 0, fmt.Errorf("percentile of empty series: %w", ErrInsufficientData)
	}
	if p < 0 || p > 1 || math.IsNaN(p) {
		return 0, fmt.Errorf("percentile rank %v out of [0,1]", p)
	}
	sorted := slices.Clone(xs)
	slices.Sort(sorted)
	if len(sorted) == 1 {
		return sorted[0], nil
	}
	pos := p * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo], nil
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo]), nil
}

// Covariance 样本协方差
func Covariance(xs, ys []float64) (float64, error) {
	if len(xs) != len(ys) {
		return 0, fmt.Errorf("covariance of %d vs %d observations: %w", len(xs), len(ys), ErrLengthMismatch)
	}
	if len(xs) < 2 {
		return 0, fmt.Errorf("covariance needs at least 2 observations: %w", ErrInsufficientData)
	}
	return stat.Covariance(xs, ys, nil), nil
}

// Correlation 皮尔逊相关系数，任一序列方差为零时返回 ErrInsufficientData 而非 NaN
func Correlation(xs, ys []float64) (float64, error) {
	cov, err := Covariance(xs, ys)
	if err != nil {
		return 0, err
	}
	vx := stat.Variance(xs, nil)
	vy := stat.Variance(ys, nil)
	if vx < zeroTolerance || vy < zeroTolerance {
		return 0, fmt.Errorf("correlation with zero-variance series: %w", ErrInsufficientData)
	}
	r := cov / math.Sqrt(vx*vy)
	// 浮点误差可能让 |r| 略大于 1
	return math.Max(-1, math.Min(1, r)), nil
}

// CumulativeReturns 将周期收益率复利累积为从 1 开始的净值曲线，返回长度 len(returns)+1
func CumulativeReturns(returns []float64) []float64 {
	curve := make([]float64, len(returns)+1)
	curve[0] = 1
	for i, r := range returns {
		curve[i+1] = curve[i] * (1 + r)
	}
	return curve
}

// DrawdownSeries 每个时点相对历史峰值的回撤 (value/peak - 1)，各元素 ≤ 0
func DrawdownSeries(curve []float64) []float64 {
	dd := make([]float64, len(curve))
	peak := math.Inf(-1)
	for i, v := range curve {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			dd[i] = v/peak - 1
		} else {
			// 净值归零之后不再有可比峰值
			dd[i] = -1
		}
	}
	return dd
}

// MaxDrawdown 回撤序列的最小值 (≤ 0)
func MaxDrawdown(curve []float64) (float64, error) {
	if len(curve) == 0 {
		return 0, fmt.Errorf("drawdown of empty curve: %w", ErrInsufficientData)
	}
	return slices.Min(DrawdownSeries(curve)), nil
}

// Clamp 将 x 截断到 [lo, hi]，NaN 视为 lo
func Clamp(x, lo, hi float64) float64 {
	if math.IsNaN(x) || x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// zeroTolerance 低于该值的分母视为浮点舍入噪声
const zeroTolerance = 1e-18

// SafeDiv 分母为零 (含舍入噪声) 或结果非有限值时返回 ok=false
func SafeDiv(num, den float64) (float64, bool) {
	if math.Abs(den) < zeroTolerance {
		return 0, false
	}
	v := num / den
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
