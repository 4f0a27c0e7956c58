package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"restock-api/pkg/commerce"

	"gopkg.in/yaml.v3"
)

// PredictionPolicy はprediction_policy.yamlの構造を定義
type PredictionPolicy struct {
	Policy struct {
		Name           string `yaml:"name"`
		LeadDays       int    `yaml:"lead_days"`
		HighBufferDays int    `yaml:"high_buffer_days"`
		MediumDays     int    `yaml:"medium_days"`
	} `yaml:"policy"`

	Windows               []int `yaml:"windows"`
	DefaultPredictionDays int   `yaml:"default_prediction_days"`

	Retry   commerce.RetryPolicy   `yaml:"retry"`
	Catalog commerce.CatalogConfig `yaml:"catalog"`
	Orders  struct {
		PageDelay time.Duration `yaml:"page_delay"`
	} `yaml:"orders"`
}

// DefaultPredictionPolicy 組み込みの既定値を返す
func DefaultPredictionPolicy() *PredictionPolicy {
	p := &PredictionPolicy{
		Windows:               []int{7, 14, 30},
		DefaultPredictionDays: 30,
		Retry:                 commerce.DefaultRetryPolicy(),
		Catalog:               commerce.DefaultCatalogConfig(),
	}
	p.Policy.Name = "incoming_aware"
	p.Policy.LeadDays = 15
	p.Policy.HighBufferDays = 7
	p.Policy.MediumDays = 30
	p.Orders.PageDelay = 500 * time.Millisecond
	return p
}

// LoadPredictionPolicy はYAMLファイルから予測ポリシーを読み込む。
// ファイルが存在しない場合は既定値を返す。
func LoadPredictionPolicy(path string) (*PredictionPolicy, error) {
	policy := DefaultPredictionPolicy()
	if path == "" {
		return policy, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return policy, nil
	}
	if err != nil {
		return nil, fmt.Errorf("予測ポリシー設定ファイルの読み込みに失敗: %w", err)
	}

	if err := yaml.Unmarshal(data, policy); err != nil {
		return nil, fmt.Errorf("YAMLのパースに失敗: %w", err)
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return policy, nil
}

// Validate は設定値の範囲を検証
func (p *PredictionPolicy) Validate() error {
	if len(p.Windows) == 0 {
		return fmt.Errorf("windowsは1つ以上指定してください")
	}
	for _, w := range p.Windows {
		if w <= 0 {
			return fmt.Errorf("windowsの値が不正です: %d", w)
		}
	}
	if p.DefaultPredictionDays <= 0 {
		return fmt.Errorf("default_prediction_daysが不正です: %d", p.DefaultPredictionDays)
	}
	if p.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retriesが不正です: %d", p.Retry.MaxRetries)
	}
	if p.Retry.InitialDelay <= 0 || p.Retry.MaxDelay < p.Retry.InitialDelay {
		return fmt.Errorf("retryの待機時間が不正です (initial=%s, max=%s)", p.Retry.InitialDelay, p.Retry.MaxDelay)
	}
	return nil
}
