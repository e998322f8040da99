package models

import (
	"errors"
	"time"
)

// Direction is the suggested trade direction from the analysis oracle.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
	DirectionNone  Direction = "none"
)

// AnalysisResult is the structured output of the analysis oracle for one
// content item. PriceLevels is ordered [entry, stop, target...]; immutable
// once created and consumed exactly once by the validation pipeline.
type AnalysisResult struct {
	AccountID   string    `json:"account_id"`
	ContentID   string    `json:"content_id"`
	Symbol      string    `json:"symbol"`
	Modality    Modality  `json:"modality"`
	Sentiment   float64   `json:"sentiment"`
	PriceLevels []float64 `json:"price_levels"`
	Direction   Direction `json:"direction"`
	Confidence  float64   `json:"confidence"`
	Timestamp   time.Time `json:"timestamp"`
}

// Entry returns the proposed entry level, or false if none was supplied.
func (r *AnalysisResult) Entry() (float64, bool) {
	if len(r.PriceLevels) < 1 {
		return 0, false
	}
	return r.PriceLevels[0], true
}

// Stop returns the proposed stop level, or false if none was supplied.
func (r *AnalysisResult) Stop() (float64, bool) {
	if len(r.PriceLevels) < 2 {
		return 0, false
	}
	return r.PriceLevels[1], true
}

// Targets returns the proposed target levels, possibly empty.
func (r *AnalysisResult) Targets() []float64 {
	if len(r.PriceLevels) < 3 {
		return nil
	}
	return r.PriceLevels[2:]
}

// Validate checks analysis result field constraints.
func (r *AnalysisResult) Validate() error {
	if r.ContentID == "" {
		return errors.New("content ID must not be empty")
	}
	if r.AccountID == "" {
		return errors.New("account ID must not be empty")
	}
	if r.Confidence < 0.0 || r.Confidence > 1.0 {
		return errors.New("confidence must be between 0.0 and 1.0")
	}
	switch r.Direction {
	case DirectionLong, DirectionShort, DirectionNone:
	default:
		return errors.New("direction must be long, short, or none")
	}
	switch r.Modality {
	case ModalityText, ModalityImage, ModalityVideo, "":
	default:
		return errors.New("modality must be text, image, or video")
	}
	return nil
}

// SignalStatus is the delivery lifecycle state of an accepted signal.
type SignalStatus string

const (
	StatusPending   SignalStatus = "pending"
	StatusDelivered SignalStatus = "delivered"
	StatusExpired   SignalStatus = "expired"
)

// Signal is an accepted, validated trading signal. ContentID is globally
// unique across all signals; the status only moves pending → delivered via
// a delivery acknowledgement, or pending → expired past retention.
type Signal struct {
	ID         string       `json:"id"`
	AccountID  string       `json:"account_id"`
	ContentID  string       `json:"content_id"`
	Symbol     string       `json:"symbol"`
	Direction  Direction    `json:"direction"`
	EntryLow   float64      `json:"entry_low"`
	EntryHigh  float64      `json:"entry_high"`
	StopLoss   float64      `json:"stop_loss"`
	Targets    []float64    `json:"targets"`
	RiskReward float64      `json:"risk_reward"`
	Confidence float64      `json:"confidence"`
	Status     SignalStatus `json:"status"`
	CreatedAt  time.Time    `json:"created_at"`
}

// RejectReason names the single validation stage that rejected a result.
type RejectReason string

const (
	ReasonDuplicate      RejectReason = "duplicate"
	ReasonLowConfidence  RejectReason = "low_confidence"
	ReasonRiskRewardFail RejectReason = "risk_reward_fail"
	ReasonPriceDeviation RejectReason = "price_deviation"
	ReasonDailyCap       RejectReason = "daily_cap"
)

// Rejection is a write-once audit record for a rejected analysis result.
type Rejection struct {
	ContentID string       `json:"content_id"`
	AccountID string       `json:"account_id"`
	Reason    RejectReason `json:"reason"`
	CreatedAt time.Time    `json:"created_at"`
}
