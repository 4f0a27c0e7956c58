package services

import (
	"fmt"
	"math"

	"restock-api/pkg/models"
)

// 発注ポリシー名
const (
	PolicyIncomingAware   = "incoming_aware"
	PolicyIncomingUnaware = "incoming_unaware"
)

// RestockInput 1バリアント・1集計期間分の補充数計算の入力
type RestockInput struct {
	PerDaySales    float64
	PredictionDays int
	AvailableStock int
	IncomingStock  int
	// 台帳から得た値。入荷予定がない場合は0
	DaysPassedSinceLastChange int
	IncomingQtyOfMostRecentPO int
}

// UrgencyInput 緊急度判定の入力。PerDaySalesは最短の集計期間の値
type UrgencyInput struct {
	PerDaySales    float64
	AvailableStock int
	IncomingStock  int
}

// RestockPolicy 補充数と緊急度の計算方式
type RestockPolicy interface {
	Name() string
	RestockQuantity(in RestockInput) float64
	Urgency(in UrgencyInput) models.UrgencyLevel
}

// IncomingAwarePolicy は入荷予定と直近の発注履歴を考慮する標準の計算方式です。
type IncomingAwarePolicy struct {
	LeadDays       int
	HighBufferDays int
	MediumDays     int
}

// NewIncomingAwarePolicy 既定値（リードタイム15日、High+7日、Medium 30日）でポリシーを作成
func NewIncomingAwarePolicy() *IncomingAwarePolicy {
	return &IncomingAwarePolicy{LeadDays: 15, HighBufferDays: 7, MediumDays: 30}
}

// Name returns the configuration name of the policy
func (p *IncomingAwarePolicy) Name() string { return PolicyIncomingAware }

// RestockQuantity 推奨補充数を計算
func (p *IncomingAwarePolicy) RestockQuantity(in RestockInput) float64 {
	reorder := snapWhole(in.PerDaySales * float64(in.PredictionDays))
	if in.IncomingStock <= 0 {
		return noIncomingRestock(reorder, in.AvailableStock)
	}

	daysRemaining := float64(p.LeadDays - in.DaysPassedSinceLastChange)
	consumption := snapWhole(in.PerDaySales * daysRemaining)
	available := float64(in.AvailableStock)
	poQty := float64(in.IncomingQtyOfMostRecentPO)

	if available >= consumption && poQty >= reorder {
		return 0
	}
	if available >= consumption && available >= reorder {
		return 0
	}
	if poQty >= reorder {
		return 0
	}
	return reorder
}

// Urgency 在庫切れまでの日数から緊急度を判定
func (p *IncomingAwarePolicy) Urgency(in UrgencyInput) models.UrgencyLevel {
	return classifyUrgency(in, p.LeadDays, p.HighBufferDays, p.MediumDays)
}

// IncomingUnawarePolicy は入荷予定を考慮しない旧来の計算方式です。
type IncomingUnawarePolicy struct {
	LeadDays       int
	HighBufferDays int
	MediumDays     int
}

// NewIncomingUnawarePolicy 入荷予定を考慮しないポリシーを作成
func NewIncomingUnawarePolicy() *IncomingUnawarePolicy {
	return &IncomingUnawarePolicy{LeadDays: 15, HighBufferDays: 7, MediumDays: 30}
}

// Name returns the configuration name of the policy
func (p *IncomingUnawarePolicy) Name() string { return PolicyIncomingUnaware }

// RestockQuantity 入荷予定の有無に関係なく在庫数のみで補充数を計算
func (p *IncomingUnawarePolicy) RestockQuantity(in RestockInput) float64 {
	return noIncomingRestock(snapWhole(in.PerDaySales*float64(in.PredictionDays)), in.AvailableStock)
}

// Urgency 在庫切れまでの日数から緊急度を判定（入荷予定は含めない）
func (p *IncomingUnawarePolicy) Urgency(in UrgencyInput) models.UrgencyLevel {
	in.IncomingStock = 0
	return classifyUrgency(in, p.LeadDays, p.HighBufferDays, p.MediumDays)
}

// NewRestockPolicy は設定名からポリシーを作成します。空文字は標準ポリシーです。
func NewRestockPolicy(name string, leadDays, highBufferDays, mediumDays int) (RestockPolicy, error) {
	if leadDays <= 0 {
		leadDays = 15
	}
	if highBufferDays <= 0 {
		highBufferDays = 7
	}
	if mediumDays <= 0 {
		mediumDays = 30
	}
	switch name {
	case "", PolicyIncomingAware:
		return &IncomingAwarePolicy{LeadDays: leadDays, HighBufferDays: highBufferDays, MediumDays: mediumDays}, nil
	case PolicyIncomingUnaware:
		return &IncomingUnawarePolicy{LeadDays: leadDays, HighBufferDays: highBufferDays, MediumDays: mediumDays}, nil
	default:
		return nil, fmt.Errorf("不明な発注ポリシー: %s", name)
	}
}

// RoundRestock rounds a restock quantity up to whole units
func RoundRestock(q float64) int {
	q = snapWhole(q)
	if q <= 0 {
		return 0
	}
	return int(math.Ceil(q))
}

// wholeUnitTolerance は整数とみなす相対誤差です。total/window*days の丸め誤差を吸収します。
const wholeUnitTolerance = 1e-9

// snapWhole は浮動小数点誤差の範囲で整数に等しい値をその整数に揃えます。
func snapWhole(x float64) float64 {
	r := math.Round(x)
	if math.Abs(x-r) <= wholeUnitTolerance*math.Max(1, math.Abs(x)) {
		return r
	}
	return x
}

func noIncomingRestock(reorder float64, availableStock int) float64 {
	available := float64(availableStock)
	if reorder < available+1 {
		return 0
	}
	return reorder + (reorder - available)
}

func classifyUrgency(in UrgencyInput, leadDays, highBufferDays, mediumDays int) models.UrgencyLevel {
	if in.AvailableStock < 0 {
		return models.UrgencyCritical
	}
	if in.PerDaySales == 0 {
		return models.UrgencyLow
	}

	daysLeft := float64(in.AvailableStock+in.IncomingStock) / in.PerDaySales
	switch {
	case daysLeft <= float64(leadDays):
		return models.UrgencyCritical
	case daysLeft <= float64(leadDays+highBufferDays):
		return models.UrgencyHigh
	case daysLeft <= float64(mediumDays):
		return models.UrgencyMedium
	default:
		return models.UrgencyLow
	}
}
