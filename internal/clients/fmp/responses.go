package fmp

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/bobmcallan/revisor/internal/models"
)

// flexFloat64 handles JSON values that may be a number, a numeric string,
// null, or absent. Valid is false unless a finite number was decoded.
type flexFloat64 struct {
	Value float64
	Valid bool
}

func (f *flexFloat64) UnmarshalJSON(data []byte) error {
	*f = flexFloat64{}
	if string(data) == "null" {
		return nil
	}
	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		f.set(num)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		s = strings.TrimSpace(s)
		if s == "" || s == "N/A" {
			return nil
		}
		if num, err := strconv.ParseFloat(s, 64); err == nil {
			f.set(num)
		}
		return nil
	}
	return fmt.Errorf("cannot unmarshal %s into float64", string(data))
}

func (f *flexFloat64) set(v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}
	f.Value = v
	f.Valid = true
}

func (f flexFloat64) ptr() *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Value
	return &v
}

func (f flexFloat64) value() float64 {
	if !f.Valid {
		return 0
	}
	return f.Value
}

func (f flexFloat64) intPtr() *int {
	if !f.Valid {
		return nil
	}
	v := int(math.Round(f.Value))
	return &v
}

func (f flexFloat64) intValue() int {
	if !f.Valid {
		return 0
	}
	return int(math.Round(f.Value))
}

// parseDate accepts "2006-01-02" with an optional time suffix after 'T' or a space.
// Unparseable input yields the zero time.
func parseDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, "T "); i >= 0 {
		s = s[:i]
	}
	t, err := time.Parse(models.SnapshotDateFormat, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

type estimateResponse struct {
	Symbol                         string      `json:"symbol"`
	Date                           string      `json:"date"`
	EstimatedRevenueLow            flexFloat64 `json:"estimatedRevenueLow"`
	EstimatedRevenueHigh           flexFloat64 `json:"estimatedRevenueHigh"`
	EstimatedRevenueAvg            flexFloat64 `json:"estimatedRevenueAvg"`
	EstimatedEpsAvg                flexFloat64 `json:"estimatedEpsAvg"`
	EstimatedEpsHigh               flexFloat64 `json:"estimatedEpsHigh"`
	EstimatedEpsLow                flexFloat64 `json:"estimatedEpsLow"`
	NumberAnalystsEstimatedRevenue flexFloat64 `json:"numberAnalystsEstimatedRevenue"`
	NumberAnalystEstimatedRevenue  flexFloat64 `json:"numberAnalystEstimatedRevenue"`
	NumberAnalystsEstimatedEps     flexFloat64 `json:"numberAnalystsEstimatedEps"`
}

func (r estimateResponse) toModel() models.AnalystEstimate {
	revenueAnalysts := r.NumberAnalystsEstimatedRevenue
	if !revenueAnalysts.Valid {
		revenueAnalysts = r.NumberAnalystEstimatedRevenue
	}
	return models.AnalystEstimate{
		Date:               r.Date,
		EPSAvg:             r.EstimatedEpsAvg.ptr(),
		EPSHigh:            r.EstimatedEpsHigh.ptr(),
		EPSLow:             r.EstimatedEpsLow.ptr(),
		RevenueAvg:         r.EstimatedRevenueAvg.ptr(),
		RevenueHigh:        r.EstimatedRevenueHigh.ptr(),
		RevenueLow:         r.EstimatedRevenueLow.ptr(),
		NumAnalystsEPS:     r.NumberAnalystsEstimatedEps.intPtr(),
		NumAnalystsRevenue: revenueAnalysts.intPtr(),
	}
}

type priceTargetResponse struct {
	Symbol          string      `json:"symbol"`
	TargetHigh      flexFloat64 `json:"targetHigh"`
	TargetLow       flexFloat64 `json:"targetLow"`
	TargetConsensus flexFloat64 `json:"targetConsensus"`
	TargetMedian    flexFloat64 `json:"targetMedian"`
}

type ratingActionResponse struct {
	Symbol         string `json:"symbol"`
	PublishedDate  string `json:"publishedDate"`
	Date           string `json:"date"`
	Action         string `json:"action"`
	GradingCompany string `json:"gradingCompany"`
	PreviousGrade  string `json:"previousGrade"`
	NewGrade       string `json:"newGrade"`
}

type recommendationResponse struct {
	Symbol     string      `json:"symbol"`
	Date       string      `json:"date"`
	StrongBuy  flexFloat64 `json:"analystRatingsStrongBuy"`
	Buy        flexFloat64 `json:"analystRatingsbuy"`
	Hold       flexFloat64 `json:"analystRatingsHold"`
	Sell       flexFloat64 `json:"analystRatingsSell"`
	StrongSell flexFloat64 `json:"analystRatingsStrongSell"`
}

type surpriseResponse struct {
	Symbol              string      `json:"symbol"`
	Date                string      `json:"date"`
	ActualEarningResult flexFloat64 `json:"actualEarningResult"`
	EstimatedEarning    flexFloat64 `json:"estimatedEarning"`
}

type profileResponse struct {
	Symbol      string      `json:"symbol"`
	CompanyName string      `json:"companyName"`
	Sector      string      `json:"sector"`
	Industry    string      `json:"industry"`
	MktCap      flexFloat64 `json:"mktCap"`
}
