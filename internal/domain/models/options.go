package models

import (
	"fmt"
	"time"
)

// OptionsFlow summarizes one monitoring cycle for a symbol. Each cycle replaces
// the previous snapshot wholesale.
type OptionsFlow struct {
	Symbol             string    `json:"symbol"`
	TotalVolume        float64   `json:"totalVolume"`
	CallVolume         float64   `json:"callVolume"`
	PutVolume          float64   `json:"putVolume"`
	CallOpenInterest   float64   `json:"callOpenInterest"`
	PutOpenInterest    float64   `json:"putOpenInterest"`
	PutCallRatio       float64   `json:"putCallRatio"`
	AvgIV              float64   `json:"avgIV"`
	GammaExposureLevel float64   `json:"gammaExposureLevel"` // fraction of float
	MaxPain            float64   `json:"maxPain"`
	UnusualActivity    bool      `json:"unusualActivity"`
	Source             string    `json:"source"`
	Timestamp          time.Time `json:"timestamp"`
}

func (f *OptionsFlow) Validate() error {
	switch {
	case f.Symbol == "":
		return fmt.Errorf("options flow: empty symbol")
	case f.CallVolume < 0 || f.PutVolume < 0 || f.TotalVolume < 0:
		return fmt.Errorf("options flow %s: negative volume", f.Symbol)
	case f.AvgIV < 0 || f.GammaExposureLevel < 0 || f.PutCallRatio < 0:
		return fmt.Errorf("options flow %s: negative ratio", f.Symbol)
	}
	return nil
}
